package sched

import (
	"container/heap"
	"time"

	"herobot/internal/jobs"
)

// runItem is one due job occurrence waiting to be submitted.
type runItem struct {
	username    string
	jobID       string
	cfg         jobs.Config
	executionID string
	scheduled   time.Time
	manual      bool // operator-triggered run, exempt from the day tracker

	priority int
	seq      uint64 // FIFO tiebreaker for equal priorities
}

// runQueue is a min-heap ordered by (priority, seq). A pass pushes every
// due job, then pops in ascending order so earlier slots reach the engine
// first.
type runQueue struct {
	items []runItem
	seq   uint64
}

func newRunQueue() *runQueue { return &runQueue{} }

func (q *runQueue) Len() int { return len(q.items) }

func (q *runQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *runQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *runQueue) Push(x any) { q.items = append(q.items, x.(runItem)) }

func (q *runQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}

func (q *runQueue) push(it runItem) {
	it.seq = q.seq
	q.seq++
	heap.Push(q, it)
}

func (q *runQueue) pop() (runItem, bool) {
	if q.Len() == 0 {
		return runItem{}, false
	}
	return heap.Pop(q).(runItem), true
}
