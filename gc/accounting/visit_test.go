package accounting

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectMarked(b *SpaceBitmap[ObjectAlignment], begin, end uintptr) []uintptr {
	var out []uintptr
	b.VisitMarkedRange(begin, end, func(addr uintptr) bool {
		out = append(out, addr)
		return true
	})
	return out
}

func TestVisitMarkedRange(t *testing.T) {
	capacity := uintptr(64 * 1024)
	b := newBitmap(t, testHeapBegin, capacity)

	marked := []uintptr{0, 8, 64, 504, 512, 520, 3000 * 8, capacity - 8}
	for _, off := range marked {
		b.Set(testHeapBegin + off)
	}

	t.Run("full range", func(t *testing.T) {
		got := collectMarked(b, testHeapBegin, testHeapBegin+capacity)
		require.Len(t, got, len(marked))
		for i, off := range marked {
			assert.Equal(t, testHeapBegin+off, got[i])
		}
	})

	t.Run("subrange masks edges", func(t *testing.T) {
		// [8, 520) excludes 0, includes 8..512, excludes 520.
		got := collectMarked(b, testHeapBegin+8, testHeapBegin+520)
		want := []uintptr{
			testHeapBegin + 8,
			testHeapBegin + 64,
			testHeapBegin + 504,
			testHeapBegin + 512,
		}
		assert.Equal(t, want, got)
	})

	t.Run("single word range", func(t *testing.T) {
		got := collectMarked(b, testHeapBegin, testHeapBegin+72)
		assert.Equal(t, []uintptr{testHeapBegin, testHeapBegin + 8, testHeapBegin + 64}, got)
	})

	t.Run("empty range", func(t *testing.T) {
		assert.Empty(t, collectMarked(b, testHeapBegin+16, testHeapBegin+16))
	})

	t.Run("range without marks", func(t *testing.T) {
		assert.Empty(t, collectMarked(b, testHeapBegin+1024, testHeapBegin+2048))
	})

	t.Run("ascending order", func(t *testing.T) {
		got := collectMarked(b, testHeapBegin, testHeapBegin+capacity)
		assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
	})

	t.Run("out of range panics", func(t *testing.T) {
		assert.Panics(t, func() {
			b.VisitMarkedRange(testHeapBegin-8, testHeapBegin, func(uintptr) bool { return true })
		})
	})
}

func TestVisitMarkedRange_StopEarly(t *testing.T) {
	b := newBitmap(t, testHeapBegin, 64*1024)
	b.Set(testHeapBegin + 8)
	b.Set(testHeapBegin + 16)
	b.Set(testHeapBegin + 1024)

	var visited []uintptr
	b.VisitMarkedRange(testHeapBegin, testHeapBegin+64*1024, func(addr uintptr) bool {
		visited = append(visited, addr)
		return false
	})
	assert.Equal(t, []uintptr{testHeapBegin + 8}, visited)
}

func TestHasMarkedInRange(t *testing.T) {
	b := newBitmap(t, testHeapBegin, 64*1024)
	assert.False(t, b.HasMarkedInRange(testHeapBegin, testHeapBegin+64*1024))

	b.Set(testHeapBegin + 4096)
	assert.True(t, b.HasMarkedInRange(testHeapBegin, testHeapBegin+64*1024))
	assert.True(t, b.HasMarkedInRange(testHeapBegin+4096, testHeapBegin+4104))
	assert.False(t, b.HasMarkedInRange(testHeapBegin, testHeapBegin+4096))
	assert.False(t, b.HasMarkedInRange(testHeapBegin+4104, testHeapBegin+64*1024))
}

func TestVisitAllMarked_MatchesReferenceModel(t *testing.T) {
	capacity := uintptr(1 << 20)
	b := newBitmap(t, testHeapBegin, capacity)

	rng := rand.New(rand.NewSource(1))
	want := roaring64.New()
	for i := 0; i < 5000; i++ {
		addr := testHeapBegin + uintptr(rng.Intn(int(capacity/8)))*8
		b.Set(addr)
		want.Add(uint64(addr))
	}

	var got []uintptr
	b.VisitAllMarked(func(addr uintptr) bool {
		got = append(got, addr)
		return true
	})

	require.Equal(t, int(want.GetCardinality()), len(got))
	it := want.Iterator()
	for _, addr := range got {
		require.True(t, it.HasNext())
		require.Equal(t, it.Next(), uint64(addr))
	}
}

func TestVisitRange(t *testing.T) {
	b := newBitmap(t, testHeapBegin, 4096)

	t.Run("every aligned slot regardless of bits", func(t *testing.T) {
		var got []uintptr
		b.VisitRange(testHeapBegin+16, testHeapBegin+56, func(addr uintptr) bool {
			got = append(got, addr)
			return true
		})
		want := []uintptr{testHeapBegin + 16, testHeapBegin + 24, testHeapBegin + 32, testHeapBegin + 40, testHeapBegin + 48}
		assert.Equal(t, want, got)
	})

	t.Run("interior begin rounds up to the slot grid", func(t *testing.T) {
		var got []uintptr
		b.VisitRange(testHeapBegin+4, testHeapBegin+36, func(addr uintptr) bool {
			got = append(got, addr)
			return true
		})
		want := []uintptr{testHeapBegin + 8, testHeapBegin + 16, testHeapBegin + 24, testHeapBegin + 32}
		assert.Equal(t, want, got)
	})

	t.Run("stop early", func(t *testing.T) {
		count := 0
		b.VisitRange(testHeapBegin, testHeapBegin+4096, func(uintptr) bool {
			count++
			return count < 3
		})
		assert.Equal(t, 3, count)
	})
}

func TestWalk(t *testing.T) {
	capacity := uintptr(64 * 1024)
	b := newBitmap(t, testHeapBegin, capacity)

	offsets := []uintptr{0, 8, 512, 8200, capacity - 8}
	for _, off := range offsets {
		b.Set(testHeapBegin + off)
	}

	var got []uintptr
	b.Walk(func(addr uintptr) bool {
		got = append(got, addr)
		return true
	})

	want := make([]uintptr, len(offsets))
	for i, off := range offsets {
		want[i] = testHeapBegin + off
	}
	assert.Equal(t, want, got)
}

func TestFindPrecedingObject(t *testing.T) {
	// Byte-grained alignment makes the arithmetic easy to reason about.
	b, err := Create[unitAlignment]("preceding", 0, 64)
	require.NoError(t, err)
	defer b.Release()

	for _, addr := range []uintptr{10, 20, 30} {
		b.Set(addr)
	}

	t.Run("between objects", func(t *testing.T) {
		addr, ok := b.FindPrecedingObject(25, 0)
		require.True(t, ok)
		assert.Equal(t, uintptr(20), addr)
	})

	t.Run("exactly at an object", func(t *testing.T) {
		addr, ok := b.FindPrecedingObject(10, 0)
		require.True(t, ok)
		assert.Equal(t, uintptr(10), addr)
	})

	t.Run("before the first object", func(t *testing.T) {
		_, ok := b.FindPrecedingObject(5, 0)
		assert.False(t, ok)
	})

	t.Run("inclusive lower bound", func(t *testing.T) {
		addr, ok := b.FindPrecedingObject(25, 20)
		require.True(t, ok)
		assert.Equal(t, uintptr(20), addr)

		_, ok = b.FindPrecedingObject(25, 21)
		assert.False(t, ok)
	})
}

func TestFindPrecedingObject_AcrossWords(t *testing.T) {
	capacity := uintptr(64 * 1024)
	b := newBitmap(t, testHeapBegin, capacity)

	b.Set(testHeapBegin + 16)
	b.Set(testHeapBegin + 2000*8)

	t.Run("scans down over empty words", func(t *testing.T) {
		addr, ok := b.FindPrecedingObject(testHeapBegin+1500*8, testHeapBegin)
		require.True(t, ok)
		assert.Equal(t, testHeapBegin+16, addr)
	})

	t.Run("nearest of several", func(t *testing.T) {
		addr, ok := b.FindPrecedingObject(testHeapBegin+3000*8, testHeapBegin)
		require.True(t, ok)
		assert.Equal(t, testHeapBegin+2000*8, addr)
	})

	t.Run("interior pointer resolves to the slot below", func(t *testing.T) {
		addr, ok := b.FindPrecedingObject(testHeapBegin+2000*8+4, testHeapBegin)
		require.True(t, ok)
		assert.Equal(t, testHeapBegin+2000*8, addr)
	})
}
