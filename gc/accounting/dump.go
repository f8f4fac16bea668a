package accounting

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Dump returns a one-line human-readable description of the bitmap metadata.
func (b *SpaceBitmap[A]) Dump() string {
	return fmt.Sprintf("%s: %#x-%#x alignment=%d words=%d", b.name, b.heapBegin, b.heapLimit, b.alignment, b.numWords())
}

// String implements fmt.Stringer.
func (b *SpaceBitmap[A]) String() string {
	return b.Dump()
}

// DumpMemAround returns the raw backing words around the one covering addr,
// for debugging. Not part of any stable machine-readable format.
func (b *SpaceBitmap[A]) DumpMemAround(addr uintptr) string {
	offset := addr - b.heapBegin
	index := b.offsetToIndex(offset)
	b.checkIndex(addr, index)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %#x bit %d of word %d:", b.name, addr, b.offsetBitIndex(offset), index)
	if index > 0 {
		fmt.Fprintf(&sb, " before=%#016x", b.words[index-1].Load())
	}
	fmt.Fprintf(&sb, " word=%#016x", b.words[index].Load())
	if index+1 < b.numWords() {
		fmt.Fprintf(&sb, " after=%#016x", b.words[index+1].Load())
	}
	return sb.String()
}

// MarkedSet exports every marked address as a compressed bitmap, for offline
// diffing of collection cycles. The same external-synchronization rules as
// Walk apply.
func (b *SpaceBitmap[A]) MarkedSet() *roaring64.Bitmap {
	out := roaring64.New()
	b.Walk(func(addr uintptr) bool {
		out.Add(uint64(addr))
		return true
	})
	return out
}

// DiffMarked returns the addresses marked in live but not in mark: the set
// SweepWalk would report. Intended for diagnostics and cross-checking, not
// for the sweep hot path.
func DiffMarked[A Alignment](live, mark *SpaceBitmap[A]) *roaring64.Bitmap {
	diff := live.MarkedSet()
	diff.AndNot(mark.MarkedSet())
	return diff
}
