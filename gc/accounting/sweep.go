package accounting

import (
	"fmt"
	"math/bits"
)

// sweepBatchSlots is the capacity of the address buffer handed to the sweep
// callback. Batching amortizes callback overhead across millions of slots.
const sweepBatchSlots = int(wordBits * wordBytes)

// SweepCallback receives a batch of garbage slot addresses in ascending
// order. The slice is reused between invocations; callers that need to keep
// the addresses must copy them out.
type SweepCallback func(addrs []uintptr)

// SweepWalk walks [base, max) over two bitmaps of identical alignment and
// reports every slot whose bit is set in live but clear in mark: live last
// cycle, unreached this cycle, hence garbage. Addresses are delivered to
// callback batched, each batch in ascending order.
//
// The callback must not mutate either bitmap or alter their address ranges
// during the walk. The caller must keep both ranges stable for the duration.
func SweepWalk[A Alignment](live, mark *SpaceBitmap[A], base, max uintptr, callback SweepCallback) {
	live.checkValid()
	mark.checkValid()
	if live.heapBegin != mark.heapBegin || live.bitmapSize != mark.bitmapSize {
		panic(fmt.Sprintf("accounting: sweep over mismatched bitmaps %s [%#x, %d bytes] and %s [%#x, %d bytes]",
			live.name, live.heapBegin, live.bitmapSize, mark.name, mark.heapBegin, mark.bitmapSize))
	}
	if base < live.heapBegin || max > live.heapLimit {
		panic(fmt.Sprintf("accounting: sweep range [%#x, %#x) outside [%#x, %#x)",
			base, max, live.heapBegin, live.heapLimit))
	}
	if max <= base {
		return
	}

	alignment := live.alignment
	slotStart := (base - live.heapBegin + alignment - 1) / alignment
	slotEnd := (max - live.heapBegin + alignment - 1) / alignment
	if slotStart >= slotEnd {
		return
	}
	indexStart := slotStart / wordBits
	indexEnd := (slotEnd - 1) / wordBits
	bitStart := slotStart % wordBits
	bitEnd := slotEnd % wordBits

	batch := make([]uintptr, 0, sweepBatchSlots)
	for i := indexStart; i <= indexEnd; i++ {
		// Word-pair comparison finds all garbage bits of a word in bulk.
		garbage := live.words[i].Load() &^ mark.words[i].Load()
		if i == indexStart {
			garbage &^= (uintptr(1) << bitStart) - 1
		}
		if i == indexEnd && bitEnd != 0 {
			garbage &= (uintptr(1) << bitEnd) - 1
		}
		if garbage == 0 {
			continue
		}

		ptrBase := live.heapBegin + live.indexToOffset(i)
		for garbage != 0 {
			shift := uintptr(bits.TrailingZeros(uint(garbage)))
			garbage ^= uintptr(1) << shift
			batch = append(batch, ptrBase+shift*alignment)
		}
		if len(batch) > sweepBatchSlots-int(wordBits) {
			callback(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		callback(batch)
	}
}
