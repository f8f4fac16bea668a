package accounting

import (
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/BugBunker/android-art/internal/memmap"
)

const (
	// wordBits is the number of heap slots covered by one backing word.
	wordBits  = uintptr(bits.UintSize)
	wordBytes = wordBits / 8
)

// SpaceBitmap is a word-packed bit index over a contiguous heap address
// range, recording per aligned slot whether it holds a marked object. Bit 0
// of word 0 corresponds to HeapBegin.
//
// Individual bit operations (Set, Clear, Test, AtomicTestAndSet) are safe
// under concurrent use from multiple marking threads. Scanning operations
// require the caller to keep the bitmap's range and backing store stable for
// the duration of the scan; the bitmap acquires no locks itself.
type SpaceBitmap[A Alignment] struct {
	// Backing storage. Views share the owner's region without owning it.
	region *memmap.Region
	owned  bool

	// The bitmap itself, word sized for efficiency in scanning. Covers the
	// whole region; bitmapSize bounds the logically meaningful prefix.
	words []atomic.Uintptr

	// Size of the logical bitmap in bytes.
	bitmapSize uintptr

	// The address range covered. heapLimit may not be on a word boundary.
	heapBegin uintptr
	heapLimit uintptr

	alignment uintptr

	// Diagnostic label only; not part of correctness.
	name string

	logger *Logger
}

// Create allocates a bitmap large enough to cover a heap at heapBegin of
// capacity bytes, where objects are guaranteed to be A-aligned. The backing
// region is freshly mapped, zeroed, and owned by the bitmap.
func Create[A Alignment](name string, heapBegin, capacity uintptr, opts ...Option) (*SpaceBitmap[A], error) {
	if capacity == 0 {
		return nil, fmt.Errorf("accounting: bitmap %q: %w", name, ErrInvalidCapacity)
	}

	bitmapSize := ComputeBitmapSize[A](uint64(capacity))
	region, err := memmap.NewAnonymous(name, int(bitmapSize))
	if err != nil {
		return nil, fmt.Errorf("accounting: bitmap %q: %w", name, err)
	}

	b, err := CreateFromRegion[A](name, region, heapBegin, capacity, opts...)
	if err != nil {
		_ = region.Release()
		return nil, err
	}
	return b, nil
}

// CreateFromRegion initializes a bitmap using the provided region as the
// backing store, taking ownership of it. The covered range starts at
// heapBegin and spans capacity bytes.
func CreateFromRegion[A Alignment](name string, region *memmap.Region, heapBegin, capacity uintptr, opts ...Option) (*SpaceBitmap[A], error) {
	if capacity == 0 {
		return nil, fmt.Errorf("accounting: bitmap %q: %w", name, ErrInvalidCapacity)
	}

	need := ComputeBitmapSize[A](uint64(capacity))
	if uintptr(region.Size()) < need {
		return nil, &ErrRegionTooSmall{Name: name, Have: region.Size(), Need: int(need)}
	}

	o := applyOptions(opts)

	data := region.Bytes()
	words := unsafe.Slice((*atomic.Uintptr)(unsafe.Pointer(&data[0])), uintptr(len(data))/wordBytes)

	b := &SpaceBitmap[A]{
		region:     region,
		owned:      true,
		words:      words,
		bitmapSize: need,
		heapBegin:  heapBegin,
		heapLimit:  heapBegin + capacity,
		alignment:  alignmentOf[A](),
		name:       name,
		logger:     o.logger.WithBitmap(name),
	}

	b.logger.Debug("space bitmap created",
		"heap_begin", fmt.Sprintf("%#x", heapBegin),
		"heap_limit", fmt.Sprintf("%#x", b.heapLimit),
		"bitmap_bytes", need,
	)

	return b, nil
}

// ComputeBitmapSize returns the backing store size in bytes needed to cover a
// heap of the given capacity at alignment A, rounded up to whole words.
func ComputeBitmapSize[A Alignment](capacity uint64) uintptr {
	bytesPerWord := uint64(alignmentOf[A]() * wordBits)
	return uintptr((capacity+bytesPerWord-1)/bytesPerWord) * wordBytes
}

// ComputeHeapSize returns the heap capacity in bytes that a backing store of
// bitmapBytes covers at alignment A. Inverse of ComputeBitmapSize for
// word-rounded sizes.
func ComputeHeapSize[A Alignment](bitmapBytes uint64) uint64 {
	return bitmapBytes * 8 * uint64(alignmentOf[A]())
}

// OffsetToIndex returns the backing word index for a byte offset relative to
// HeapBegin.
func OffsetToIndex[A Alignment](offset uintptr) uintptr {
	return offset / alignmentOf[A]() / wordBits
}

// IndexToOffset returns the byte offset relative to HeapBegin of the first
// slot covered by the given backing word index.
func IndexToOffset[A Alignment](index uintptr) uintptr {
	return index * alignmentOf[A]() * wordBits
}

// OffsetBitIndex returns the bit position within a backing word for a byte
// offset relative to HeapBegin.
func OffsetBitIndex[A Alignment](offset uintptr) uintptr {
	return (offset / alignmentOf[A]()) % wordBits
}

// OffsetToMask returns the word-wide bit mask for a byte offset relative to
// HeapBegin. Bits are packed in the obvious way.
func OffsetToMask[A Alignment](offset uintptr) uintptr {
	return uintptr(1) << OffsetBitIndex[A](offset)
}

func (b *SpaceBitmap[A]) offsetToIndex(offset uintptr) uintptr {
	return offset / b.alignment / wordBits
}

func (b *SpaceBitmap[A]) indexToOffset(index uintptr) uintptr {
	return index * b.alignment * wordBits
}

func (b *SpaceBitmap[A]) offsetBitIndex(offset uintptr) uintptr {
	return (offset / b.alignment) % wordBits
}

func (b *SpaceBitmap[A]) numWords() uintptr {
	return b.bitmapSize / wordBytes
}

// IsValid reports whether the bitmap has a backing store. The zero value is
// invalid and must not be queried.
func (b *SpaceBitmap[A]) IsValid() bool {
	return b.region != nil && !b.region.Released()
}

func (b *SpaceBitmap[A]) checkValid() {
	if b.region == nil {
		panic(fmt.Sprintf("accounting: use of invalid space bitmap %q", b.name))
	}
	if b.region.Released() {
		panic(fmt.Sprintf("accounting: space bitmap %q used after its backing region was released", b.name))
	}
}

func (b *SpaceBitmap[A]) checkIndex(addr, index uintptr) {
	b.checkValid()
	if index >= b.numWords() {
		panic(fmt.Sprintf("accounting: %s: address %#x outside covered range [%#x, %#x) (word %d of %d)",
			b.name, addr, b.heapBegin, b.heapLimit, index, b.numWords()))
	}
}

// HasAddress reports whether addr is within the range of pointers this bitmap
// covers, even if no bit has been set for it. It must be checked before any
// bit access.
func (b *SpaceBitmap[A]) HasAddress(addr uintptr) bool {
	// For addr < heapBegin the offset wraps to a huge value and the index
	// check rejects it; the explicit limit comparison rejects the tail of a
	// partially covered final word.
	offset := addr - b.heapBegin
	index := b.offsetToIndex(offset)
	return index < b.numWords() && addr < b.heapLimit
}

// Set sets the bit corresponding to addr and returns its previous value.
func (b *SpaceBitmap[A]) Set(addr uintptr) bool {
	return b.modify(addr, true)
}

// Clear clears the bit corresponding to addr and returns its previous value.
func (b *SpaceBitmap[A]) Clear(addr uintptr) bool {
	return b.modify(addr, false)
}

func (b *SpaceBitmap[A]) modify(addr uintptr, set bool) bool {
	offset := addr - b.heapBegin
	index := b.offsetToIndex(offset)
	mask := uintptr(1) << b.offsetBitIndex(offset)
	b.checkIndex(addr, index)

	// A single atomic fetch-and-modify on the owning word keeps concurrent
	// updates to sibling bits intact.
	var old uintptr
	if set {
		old = b.words[index].Or(mask)
	} else {
		old = b.words[index].And(^mask)
	}
	return old&mask != 0
}

// AtomicTestAndSet sets the bit corresponding to addr and reports whether it
// was already set. Among concurrent callers for the same address, exactly one
// observes false.
func (b *SpaceBitmap[A]) AtomicTestAndSet(addr uintptr) bool {
	offset := addr - b.heapBegin
	index := b.offsetToIndex(offset)
	mask := uintptr(1) << b.offsetBitIndex(offset)
	b.checkIndex(addr, index)

	word := &b.words[index]

	// Optimistic check before entering the CAS loop.
	old := word.Load()
	for {
		if old&mask != 0 {
			return true
		}
		if word.CompareAndSwap(old, old|mask) {
			return false
		}
		old = word.Load()
	}
}

// Test reports whether the bit corresponding to addr is set.
//
// Precondition: HasAddress(addr) is true.
func (b *SpaceBitmap[A]) Test(addr uintptr) bool {
	offset := addr - b.heapBegin
	index := b.offsetToIndex(offset)
	b.checkIndex(addr, index)
	return b.words[index].Load()&(uintptr(1)<<b.offsetBitIndex(offset)) != 0
}

// ClearAll zeroes every bit and advises the OS that the backing pages are
// unused, allowing physical-memory reclamation without releasing the mapping.
func (b *SpaceBitmap[A]) ClearAll() {
	if !b.IsValid() {
		return
	}
	for i := range b.words {
		b.words[i].Store(0)
	}
	if err := b.region.DontNeed(0, b.region.Size()); err != nil {
		b.logger.Warn("advise pages unused failed", "error", err)
	}
}

// ClearRange clears every bit for slots in [begin, end). Edge bits are
// cleared individually; interior words are zeroed in bulk and their pages
// advised unused.
func (b *SpaceBitmap[A]) ClearRange(begin, end uintptr) {
	b.checkValid()
	if begin > end || begin < b.heapBegin || end > b.heapLimit {
		panic(fmt.Sprintf("accounting: %s: clear range [%#x, %#x) outside [%#x, %#x)",
			b.name, begin, end, b.heapBegin, b.heapLimit))
	}

	beginOffset := begin - b.heapBegin
	endOffset := end - b.heapBegin

	// Align the range to word boundaries, clearing the leading and trailing
	// partial words bit by bit.
	for beginOffset < endOffset && b.offsetBitIndex(beginOffset) != 0 {
		b.Clear(b.heapBegin + beginOffset)
		beginOffset += b.alignment
	}
	for beginOffset < endOffset && b.offsetBitIndex(endOffset) != 0 {
		endOffset -= b.alignment
		b.Clear(b.heapBegin + endOffset)
	}

	startIndex := b.offsetToIndex(beginOffset)
	endIndex := b.offsetToIndex(endOffset)
	for i := startIndex; i < endIndex; i++ {
		b.words[i].Store(0)
	}
	if endIndex > startIndex {
		err := b.region.DontNeed(int(startIndex*wordBytes), int((endIndex-startIndex)*wordBytes))
		if err != nil {
			b.logger.Warn("advise pages unused failed", "error", err)
		}
	}
}

// CopyFrom overwrites this bitmap's bits word-for-word from source. Both
// bitmaps must cover the same logical address range.
func (b *SpaceBitmap[A]) CopyFrom(source *SpaceBitmap[A]) {
	b.checkValid()
	source.checkValid()
	if b.heapBegin != source.heapBegin || b.bitmapSize != source.bitmapSize {
		panic(fmt.Sprintf("accounting: copy from %s [%#x, %d bytes] into %s [%#x, %d bytes]: range mismatch",
			source.name, source.heapBegin, source.bitmapSize, b.name, b.heapBegin, b.bitmapSize))
	}
	for i := uintptr(0); i < b.numWords(); i++ {
		b.words[i].Store(source.words[i].Load())
	}
}

// CopyView makes this bitmap a non-owning view of other: both share one
// backing store and logical range. The owner must outlive every view;
// operations on a view after the owner released its region panic.
func (b *SpaceBitmap[A]) CopyView(other *SpaceBitmap[A]) {
	other.checkValid()
	b.region = other.region
	b.owned = false
	b.words = other.words
	b.bitmapSize = other.bitmapSize
	b.heapBegin = other.heapBegin
	b.heapLimit = other.heapLimit
	b.alignment = other.alignment
	b.name = other.name
	b.logger = other.logger
}

// Swap exchanges the contents of two bitmaps, used by collectors to promote
// a mark bitmap to a live bitmap between cycles.
func (b *SpaceBitmap[A]) Swap(other *SpaceBitmap[A]) {
	*b, *other = *other, *b
}

// Release frees the backing store of an owning bitmap and invalidates the
// bitmap. For views it only drops the reference. Safe to call on the zero
// value.
func (b *SpaceBitmap[A]) Release() error {
	if b.region == nil {
		return nil
	}
	var err error
	if b.owned {
		err = b.region.Release()
		b.logger.Debug("space bitmap released")
	}
	b.region = nil
	b.words = nil
	b.bitmapSize = 0
	return err
}

// HeapBegin returns the inclusive lower bound of the covered range.
func (b *SpaceBitmap[A]) HeapBegin() uintptr {
	return b.heapBegin
}

// HeapLimit returns the exclusive upper bound of the covered range
// (HeapBegin() <= object < HeapLimit()).
func (b *SpaceBitmap[A]) HeapLimit() uintptr {
	return b.heapLimit
}

// HeapSize returns the size in bytes of the memory the bitmap spans, rounded
// to whole backing words.
func (b *SpaceBitmap[A]) HeapSize() uint64 {
	return uint64(b.indexToOffset(b.numWords()))
}

// Size returns the logical size of the backing store in bytes.
func (b *SpaceBitmap[A]) Size() uintptr {
	return b.bitmapSize
}

// SetHeapLimit changes the covered upper bound without reallocating. The new
// span must be a multiple of the word granule (alignment * word bits) and
// must fit in the already reserved backing region.
func (b *SpaceBitmap[A]) SetHeapLimit(newEnd uintptr) {
	b.checkValid()
	span := newEnd - b.heapBegin
	granule := b.alignment * wordBits
	if span%granule != 0 {
		panic(fmt.Sprintf("accounting: %s: new heap limit %#x is not word-granule aligned (granule %d bytes)",
			b.name, newEnd, granule))
	}
	newSize := (span / granule) * wordBytes
	if newSize > uintptr(b.region.Size()) {
		panic(fmt.Sprintf("accounting: %s: new heap limit %#x needs %d bitmap bytes, only %d reserved",
			b.name, newEnd, newSize, b.region.Size()))
	}
	b.bitmapSize = newSize
	b.heapLimit = newEnd
}

// SetHeapSize changes the covered span to bytes. Fatal if the requested size
// does not round-trip through the size computation exactly.
func (b *SpaceBitmap[A]) SetHeapSize(bytes uintptr) {
	b.checkValid()
	newSize := b.offsetToIndex(bytes) * wordBytes
	if newSize > uintptr(b.region.Size()) {
		panic(fmt.Sprintf("accounting: %s: heap size %d needs %d bitmap bytes, only %d reserved",
			b.name, bytes, newSize, b.region.Size()))
	}
	b.bitmapSize = newSize
	b.heapLimit = b.heapBegin + bytes
	if b.HeapSize() != uint64(bytes) {
		panic(fmt.Sprintf("accounting: %s: heap size %d does not round-trip (covers %d)",
			b.name, bytes, b.HeapSize()))
	}
}

// Name returns the diagnostic label.
func (b *SpaceBitmap[A]) Name() string {
	return b.name
}

// SetName changes the diagnostic label.
func (b *SpaceBitmap[A]) SetName(name string) {
	b.name = name
}
