package tracing

import (
	"sync"

	"github.com/tangosim/tango/sim"
)

// GrantLatencyTracer collects the average number of cycles the traced tasks
// stay open. Attached to a schedule trace it measures how long transactions
// wait between first requesting and being granted.
type GrantLatencyTracer struct {
	cycleTeller   sim.CycleTeller
	filter        TaskFilter
	lock          sync.Mutex
	averageCycles float64
	inflightTasks map[string]Task
	taskCount     uint64
}

// NewGrantLatencyTracer creates a new GrantLatencyTracer. The filter may be
// nil, in which case every task is counted.
func NewGrantLatencyTracer(
	cycleTeller sim.CycleTeller,
	filter TaskFilter,
) *GrantLatencyTracer {
	t := &GrantLatencyTracer{
		cycleTeller:   cycleTeller,
		filter:        filter,
		inflightTasks: make(map[string]Task),
	}
	return t
}

// AverageCycles returns the average length of the completed tasks.
func (t *GrantLatencyTracer) AverageCycles() float64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.averageCycles
}

// TotalCount returns the total number of completed tasks.
func (t *GrantLatencyTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskCount
}

// StartTask records the task start cycle.
func (t *GrantLatencyTracer) StartTask(task Task) {
	task.StartCycle = t.cycleTeller.CurrentCycle()

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing.
func (t *GrantLatencyTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task and folds its length into the average.
func (t *GrantLatencyTracer) EndTask(task Task) {
	task.EndCycle = t.cycleTeller.CurrentCycle()

	t.lock.Lock()
	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		t.lock.Unlock()
		return
	}

	taskCycles := float64(task.EndCycle - originalTask.StartCycle)
	t.averageCycles =
		(t.averageCycles*float64(t.taskCount) + taskCycles) /
			float64(t.taskCount+1)
	delete(t.inflightTasks, task.ID)
	t.taskCount++
	t.lock.Unlock()
}
