package scheduler

import (
	"container/heap"
	"sort"
	"time"

	"github.com/Hari-sh-S/options-algo/internal/models"
)

type queueItem struct {
	job   models.ScheduledJob
	seq   uint64
	index int
}

// jobQueue is a min-heap on (execute_at, seq) with lookup by job id.
type jobQueue struct {
	items []*queueItem
	byID  map[string]*queueItem
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*queueItem)}
}

func (q *jobQueue) Len() int { return len(q.items) }

func (q *jobQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.job.ExecuteAt.Equal(b.job.ExecuteAt) {
		return a.seq < b.seq
	}
	return a.job.ExecuteAt.Before(b.job.ExecuteAt)
}

func (q *jobQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *jobQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
	q.byID[item.job.JobID] = item
}

func (q *jobQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	item.index = -1
	delete(q.byID, item.job.JobID)
	return item
}

func (q *jobQueue) add(job models.ScheduledJob, seq uint64) {
	heap.Push(q, &queueItem{job: job, seq: seq})
}

func (q *jobQueue) contains(jobID string) bool {
	_, ok := q.byID[jobID]
	return ok
}

func (q *jobQueue) peek() *queueItem {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *jobQueue) remove(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(q, item.index)
	return true
}

// popDue removes and returns, in firing order, every job due at or before now.
func (q *jobQueue) popDue(now time.Time) []models.ScheduledJob {
	var due []models.ScheduledJob
	for len(q.items) > 0 && !q.items[0].job.ExecuteAt.After(now) {
		item := heap.Pop(q).(*queueItem)
		due = append(due, item.job)
	}
	return due
}

// sorted returns the pending jobs in firing order.
func (q *jobQueue) sorted() []models.ScheduledJob {
	items := make([]*queueItem, len(q.items))
	copy(items, q.items)
	sort.Slice(items, func(i, j int) bool {
		if items[i].job.ExecuteAt.Equal(items[j].job.ExecuteAt) {
			return items[i].seq < items[j].seq
		}
		return items[i].job.ExecuteAt.Before(items[j].job.ExecuteAt)
	})

	jobs := make([]models.ScheduledJob, len(items))
	for i, item := range items {
		jobs[i] = item.job
	}
	return jobs
}
