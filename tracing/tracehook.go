package tracing

import (
	"fmt"
	"reflect"

	"github.com/tangosim/tango/sim"
)

// CollectSchedule lets the tracer collect tasks from an engine's scheduling
// decisions. A "wait" task opens when a transaction requests without being
// granted and closes on the cycle it is finally granted; a transaction
// granted right away yields a zero-length wait task. Every method firing
// yields a zero-length "fire" task.
func CollectSchedule(engine *sim.Engine, tracer Tracer) {
	for _, hook := range engine.Hooks {
		hook, ok := hook.(*scheduleHook)
		if ok && hook.tracer == tracer {
			panic(fmt.Sprintf(
				"engine already collects schedule with tracer %s",
				reflect.TypeOf(tracer)))
		}
	}

	h := &scheduleHook{
		engine:  engine,
		tracer:  tracer,
		waiting: make(map[*sim.Transaction]string),
	}
	engine.AcceptHook(h)
}

// A scheduleHook translates scheduling hook invocations into tasks.
type scheduleHook struct {
	engine  *sim.Engine
	tracer  Tracer
	waiting map[*sim.Transaction]string
}

// Func calls the tracer interfaces when the hook is triggered.
func (h *scheduleHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosTransactionReject:
		h.transactionRejected(ctx.Item.(*sim.Transaction))
	case sim.HookPosTransactionGrant:
		h.transactionGranted(ctx.Item.(*sim.Transaction))
	case sim.HookPosMethodFire:
		h.methodFired(ctx.Item.(*sim.Method))
	}
}

func (h *scheduleHook) transactionRejected(tx *sim.Transaction) {
	if _, ok := h.waiting[tx]; ok {
		return
	}

	id := sim.GetIDGenerator().Generate()
	h.waiting[tx] = id

	h.tracer.StartTask(Task{
		ID:         id,
		Kind:       "wait",
		What:       tx.Name(),
		Where:      tx.Name(),
		StartCycle: h.engine.CurrentCycle(),
	})
}

func (h *scheduleHook) transactionGranted(tx *sim.Transaction) {
	id, ok := h.waiting[tx]
	if !ok {
		id = sim.GetIDGenerator().Generate()
		h.tracer.StartTask(Task{
			ID:         id,
			Kind:       "wait",
			What:       tx.Name(),
			Where:      tx.Name(),
			StartCycle: h.engine.CurrentCycle(),
		})
	}

	delete(h.waiting, tx)
	h.tracer.EndTask(Task{
		ID:       id,
		Kind:     "wait",
		What:     tx.Name(),
		Where:    tx.Name(),
		EndCycle: h.engine.CurrentCycle(),
	})
}

func (h *scheduleHook) methodFired(m *sim.Method) {
	id := sim.GetIDGenerator().Generate()

	task := Task{
		ID:         id,
		Kind:       "fire",
		What:       m.Name(),
		Where:      m.Name(),
		StartCycle: h.engine.CurrentCycle(),
		EndCycle:   h.engine.CurrentCycle(),
	}

	h.tracer.StartTask(task)
	h.tracer.EndTask(task)
}
