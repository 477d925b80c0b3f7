package tracing

import "github.com/tangosim/tango/sim"

// A Task is one traced episode of scheduler activity. Wait tasks span the
// cycles a transaction spent requesting before it was granted; grant and fire
// tasks are zero-length markers.
type Task struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	What       string         `json:"what"`
	Where      string         `json:"where"`
	StartCycle sim.CycleCount `json:"start_cycle"`
	EndCycle   sim.CycleCount `json:"end_cycle"`
	Detail     any            `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this
// function returns true, the task is considered useful.
type TaskFilter func(t Task) bool
