package accounting

import (
	"fmt"
	"math/bits"
)

// Visitor receives slot addresses in ascending order. Returning false stops
// the scan after the current address, which turns any visiting operation into
// a "find first" probe.
type Visitor func(addr uintptr) bool

func (b *SpaceBitmap[A]) checkVisitRange(begin, end uintptr) {
	if begin > end || begin < b.heapBegin || end > b.heapLimit {
		panic(fmt.Sprintf("accounting: %s: visit range [%#x, %#x) outside [%#x, %#x)",
			b.name, begin, end, b.heapBegin, b.heapLimit))
	}
}

// visitWord enumerates the set bits of word via count-trailing-zeros
// extraction instead of testing each position.
func visitWord(word, base, alignment uintptr, visitor Visitor) bool {
	for word != 0 {
		shift := uintptr(bits.TrailingZeros(uint(word)))
		if !visitor(base + shift*alignment) {
			return false
		}
		word ^= uintptr(1) << shift
	}
	return true
}

// VisitMarkedRange visits every set bit whose address lies in [visitBegin,
// visitEnd), in ascending address order. Whole backing words are scanned at a
// time; the first and last words are masked to the requested range.
//
// The caller must keep the bitmap's range stable for the duration of the
// scan. The visitor must not mutate the bitmap's bits.
func (b *SpaceBitmap[A]) VisitMarkedRange(visitBegin, visitEnd uintptr, visitor Visitor) {
	b.checkValid()
	b.checkVisitRange(visitBegin, visitEnd)
	if visitBegin >= visitEnd {
		return
	}

	// Work in slot space so bounds that are not slot-aligned still select
	// exactly the slots inside [visitBegin, visitEnd).
	slotStart := (visitBegin - b.heapBegin + b.alignment - 1) / b.alignment
	slotEnd := (visitEnd - b.heapBegin + b.alignment - 1) / b.alignment
	if slotStart >= slotEnd {
		return
	}
	indexStart := slotStart / wordBits
	indexEnd := slotEnd / wordBits
	bitStart := slotStart % wordBits
	bitEnd := slotEnd % wordBits

	// Left edge: mask off bits below visitBegin.
	leftEdge := b.words[indexStart].Load()
	leftEdge &^= (uintptr(1) << bitStart) - 1

	if indexStart == indexEnd {
		// Single-word range: the right edge masks the same word.
		leftEdge &= (uintptr(1) << bitEnd) - 1
		visitWord(leftEdge, b.heapBegin+b.indexToOffset(indexStart), b.alignment, visitor)
		return
	}

	if !visitWord(leftEdge, b.heapBegin+b.indexToOffset(indexStart), b.alignment, visitor) {
		return
	}
	for i := indexStart + 1; i < indexEnd; i++ {
		if word := b.words[i].Load(); word != 0 {
			if !visitWord(word, b.heapBegin+b.indexToOffset(i), b.alignment, visitor) {
				return
			}
		}
	}
	// Right edge, unless visitEnd falls on a word boundary.
	if bitEnd > 0 {
		rightEdge := b.words[indexEnd].Load() & ((uintptr(1) << bitEnd) - 1)
		visitWord(rightEdge, b.heapBegin+b.indexToOffset(indexEnd), b.alignment, visitor)
	}
}

// VisitAllMarked visits every set bit in [HeapBegin, HeapLimit).
func (b *SpaceBitmap[A]) VisitAllMarked(visitor Visitor) {
	b.VisitMarkedRange(b.heapBegin, b.heapLimit, visitor)
}

// HasMarkedInRange reports whether any set bit lies in [visitBegin,
// visitEnd), stopping at the first hit.
func (b *SpaceBitmap[A]) HasMarkedInRange(visitBegin, visitEnd uintptr) bool {
	found := false
	b.VisitMarkedRange(visitBegin, visitEnd, func(uintptr) bool {
		found = true
		return false
	})
	return found
}

// VisitRange visits every aligned slot address in [visitBegin, visitEnd)
// regardless of bit state, for linear slot enumeration.
func (b *SpaceBitmap[A]) VisitRange(visitBegin, visitEnd uintptr, visitor Visitor) {
	// Step on the slot grid even when visitBegin is an interior address.
	first := b.heapBegin + (visitBegin-b.heapBegin+b.alignment-1)/b.alignment*b.alignment
	for addr := first; addr < visitEnd; addr += b.alignment {
		if !visitor(addr) {
			return
		}
	}
}

// Walk visits all set bits across the whole covered range in ascending
// address order. The visitor must not change the bitmap's bits or its range
// mid-walk; behavior is unspecified if it does.
func (b *SpaceBitmap[A]) Walk(visitor Visitor) {
	b.checkValid()
	if b.heapLimit <= b.heapBegin {
		return
	}
	endIndex := b.offsetToIndex(b.heapLimit - b.heapBegin - 1)
	for i := uintptr(0); i <= endIndex; i++ {
		if word := b.words[i].Load(); word != 0 {
			if !visitWord(word, b.heapBegin+b.indexToOffset(i), b.alignment, visitor) {
				return
			}
		}
	}
}

// FindPrecedingObject scans backward from visitBegin down to visitEnd
// (inclusive lower bound) and returns the address of the nearest set bit at
// or below visitBegin. Used to recover the start of the object containing an
// interior pointer. The second result is false if no bit is set in range.
func (b *SpaceBitmap[A]) FindPrecedingObject(visitBegin, visitEnd uintptr) (uintptr, bool) {
	b.checkValid()
	if visitEnd < b.heapBegin {
		visitEnd = b.heapBegin
	}
	if visitEnd > visitBegin || visitBegin < b.heapBegin || visitBegin >= b.heapLimit {
		panic(fmt.Sprintf("accounting: %s: backward scan [%#x, %#x] outside [%#x, %#x)",
			b.name, visitEnd, visitBegin, b.heapBegin, b.heapLimit))
	}

	// slotStart is the last slot at or below visitBegin (floor: the object
	// containing an interior pointer starts at or before it); slotEnd is the
	// first slot at or above visitEnd (the scan's inclusive lower bound).
	slotStart := (visitBegin - b.heapBegin) / b.alignment
	slotEnd := (visitEnd - b.heapBegin + b.alignment - 1) / b.alignment
	if slotEnd > slotStart {
		// No slot lies between visitEnd and visitBegin.
		return 0, false
	}
	indexStart := slotStart / wordBits
	indexEnd := slotEnd / wordBits
	bitStart := slotStart % wordBits
	bitEnd := slotEnd % wordBits

	// visitBegin itself may be the slot we are looking for, so keep its bit.
	// For bitStart == wordBits-1 the shift overflows to zero and the mask
	// correctly becomes all ones.
	word := b.words[indexStart].Load() & ((uintptr(1) << (bitStart + 1)) - 1)

	for i := indexStart; ; i-- {
		if i == indexEnd {
			// Bits below visitEnd are out of range.
			word &^= (uintptr(1) << bitEnd) - 1
		}
		if word != 0 {
			high := uintptr(bits.Len(uint(word)) - 1)
			return b.heapBegin + b.indexToOffset(i) + high*b.alignment, true
		}
		if i == indexEnd {
			return 0, false
		}
		word = b.words[i-1].Load()
	}
}
