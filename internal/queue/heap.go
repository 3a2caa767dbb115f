package queue

import (
	"container/heap"
	"time"

	"alertdesk/internal/domain"
)

// entry is one queued request with its cached ordering fields.
// effective is the scheduled time, or creation time for as-soon-as-possible requests.
type entry struct {
	req       domain.TaskRequest
	key       string
	effective time.Time
	seq       uint64
}

// taskHeap orders by effective time, priority, creation time and insertion sequence.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.effective.Equal(b.effective) {
		return a.effective.Before(b.effective)
	}
	if a.req.Priority != b.req.Priority {
		return a.req.Priority < b.req.Priority
	}
	if !a.req.CreatedAt.Equal(b.req.CreatedAt) {
		return a.req.CreatedAt.Before(b.req.CreatedAt)
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// peek returns head without removing it.
func (h taskHeap) peek() *entry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// removeKey drops every entry with key and restores heap order.
// Returns: removed count.
func (h *taskHeap) removeKey(key string) int {
	kept := (*h)[:0]
	removed := 0
	for _, item := range *h {
		if item.key == key {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(*h); i++ {
		(*h)[i] = nil
	}
	*h = kept
	if removed > 0 {
		heap.Init(h)
	}
	return removed
}
