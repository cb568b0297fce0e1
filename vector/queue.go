package vector

import "container/heap"

// queueItem is one candidate during graph traversal.
// Value-based storage keeps the hot loops allocation-free.
type queueItem struct {
	node uint32
	dist float32
}

// priorityQueue implements heap.Interface over queueItems. With max
// set it is a max-heap (worst candidate on top, used for bounded
// result sets), otherwise a min-heap (best candidate on top, used for
// the expansion frontier).
type priorityQueue struct {
	max   bool
	items []queueItem
}

var _ heap.Interface = (*priorityQueue)(nil)

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.max {
		return pq.items[i].dist > pq.items[j].dist
	}
	return pq.items[i].dist < pq.items[j].dist
}

func (pq *priorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *priorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(queueItem))
}

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	it := old[n-1]
	pq.items = old[:n-1]
	return it
}

// top returns the root without removing it.
func (pq *priorityQueue) top() queueItem { return pq.items[0] }
