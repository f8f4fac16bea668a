package accounting

// Alignment is the minimum address alignment guaranteed for the slots a
// bitmap indexes. It is carried as a type parameter so bitmaps of different
// alignments cannot be mixed, e.g. handed to SweepWalk as a live/mark pair.
type Alignment interface {
	// Bytes returns the alignment in bytes. Must be a power of two.
	Bytes() uintptr
}

// ObjectAlignment is the alignment of ordinary heap objects.
type ObjectAlignment struct{}

// Bytes implements Alignment.
func (ObjectAlignment) Bytes() uintptr { return 8 }

// LargeObjectAlignment is the coarser alignment of the large object space,
// where every object starts on its own page.
type LargeObjectAlignment struct{}

// Bytes implements Alignment.
func (LargeObjectAlignment) Bytes() uintptr { return 4096 }

// ContinuousSpaceBitmap indexes ordinary object-aligned spaces.
type ContinuousSpaceBitmap = SpaceBitmap[ObjectAlignment]

// LargeObjectBitmap indexes the page-aligned large object space.
type LargeObjectBitmap = SpaceBitmap[LargeObjectAlignment]

func alignmentOf[A Alignment]() uintptr {
	var a A
	n := a.Bytes()
	if n == 0 || n&(n-1) != 0 {
		panic("accounting: alignment must be a power of two")
	}
	return n
}
