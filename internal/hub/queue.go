package hub

import (
	"container/heap"

	"github.com/quantadev/optimhub/internal/optimization"
)

// queueItem wraps a task with the monotonic sequence number that implements
// FIFO ordering inside one priority level.
type queueItem struct {
	task *optimization.Task
	seq  uint64
}

// taskQueue is a max-heap over (priority, -seq). Higher priority first,
// earlier submission first within a priority. Not goroutine safe; the hub's
// mutex guards it.
type taskQueue []*queueItem

var _ heap.Interface = (*taskQueue)(nil)

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
