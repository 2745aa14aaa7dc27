package reactor

// timerHeap is the reactor's timer min-heap, ordered by Event.absTimeout
// (spec §3 "Timer min-heap"). It implements container/heap.Interface,
// grounded on socket515-gaio's timedHeap which does the same over
// *aiocb with a stored heap index for O(log n) Remove.
type timerHeap []*Event

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].absTimeout.Before(h[j].absTimeout)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*Event)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}
