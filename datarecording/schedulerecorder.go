package datarecording

import "github.com/tangosim/tango/sim"

// ScheduleEntry is one row of the recorded schedule: a grant or reject
// decision for a transaction, or a method firing.
type ScheduleEntry struct {
	Cycle   uint64
	Action  string
	Kind    string
	Granted bool
}

// ScheduleTableName is the table RecordSchedule writes to.
const ScheduleTableName = "schedule_trace"

// RecordSchedule creates the schedule table and attaches a hook to the engine
// so that every scheduling decision is recorded.
func RecordSchedule(engine *sim.Engine, recorder DataRecorder) {
	recorder.CreateTable(ScheduleTableName, ScheduleEntry{})

	engine.AcceptHook(&scheduleRecorderHook{
		engine:   engine,
		recorder: recorder,
	})
}

type scheduleRecorderHook struct {
	engine   *sim.Engine
	recorder DataRecorder
}

func (h *scheduleRecorderHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosTransactionGrant:
		h.record(ctx.Item.(sim.Action), true)
	case sim.HookPosTransactionReject:
		h.record(ctx.Item.(sim.Action), false)
	case sim.HookPosMethodFire:
		h.record(ctx.Item.(sim.Action), true)
	}
}

func (h *scheduleRecorderHook) record(a sim.Action, granted bool) {
	h.recorder.InsertData(ScheduleTableName, ScheduleEntry{
		Cycle:   uint64(h.engine.CurrentCycle()),
		Action:  a.Name(),
		Kind:    a.Kind(),
		Granted: granted,
	})
}
