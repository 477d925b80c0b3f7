package tracing

import "sync"

// FireCountTracer counts completed tasks per location. Attached to a schedule
// trace it counts how often each method fired and each transaction was
// granted.
type FireCountTracer struct {
	filter TaskFilter
	lock   sync.Mutex
	counts map[string]uint64
}

// NewFireCountTracer creates a new FireCountTracer. The filter may be nil, in
// which case every task is counted.
func NewFireCountTracer(filter TaskFilter) *FireCountTracer {
	return &FireCountTracer{
		filter: filter,
		counts: make(map[string]uint64),
	}
}

// CountOf returns how many tasks completed at the given location.
func (t *FireCountTracer) CountOf(where string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[where]
}

// StartTask does nothing.
func (t *FireCountTracer) StartTask(_ Task) {
	// Do nothing
}

// StepTask does nothing.
func (t *FireCountTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask counts the completed task.
func (t *FireCountTracer) EndTask(task Task) {
	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.counts[task.Where]++
	t.lock.Unlock()
}
