package sim

import "log"

// CycleCount counts clock cycles since the start of the simulation.
type CycleCount uint64

// A CycleTeller can tell the current cycle.
type CycleTeller interface {
	CurrentCycle() CycleCount
}

// A Schedule is the scheduling decision of one cycle: the conflict-free,
// priority-consistent set of transactions chosen to fire, and the requesting
// transactions that were turned down.
type Schedule struct {
	Cycle    CycleCount
	Granted  []*Transaction
	Rejected []*Transaction

	siteArgs map[*CallSite]any
}

// An Engine drives a Scheduler cycle by cycle. Every cycle runs in two
// phases: phase 1 evaluates all request and readiness signals and computes
// the Schedule; phase 2 executes the granted transaction bodies, whose state
// updates are queued with Commit and applied atomically at the cycle edge.
type Engine struct {
	HookableBase

	sched *Scheduler

	cycle     CycleCount
	inCycle   bool
	schedule  *Schedule
	commits   []func()
	executing []Action
}

// NewEngine creates an engine that drives the given scheduler.
func NewEngine(sched *Scheduler) *Engine {
	if sched.engine != nil {
		log.Panic("scheduler is already driven by another engine")
	}

	e := &Engine{sched: sched}
	sched.engine = e

	return e
}

// Scheduler returns the scheduler driven by this engine.
func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

// CurrentCycle returns the cycle the engine is at.
func (e *Engine) CurrentCycle() CycleCount {
	return e.cycle
}

// LastSchedule returns the schedule of the most recent cycle.
func (e *Engine) LastSchedule() *Schedule {
	return e.schedule
}

// Commit queues a state update to be applied at the end of the current
// cycle. Method and transaction bodies must route every state mutation
// through Commit; reading state directly is always allowed, since committed
// state is stable within a cycle.
func (e *Engine) Commit(fn func()) {
	if !e.inCycle {
		log.Panic("commit requested outside of cycle evaluation")
	}

	e.commits = append(e.commits, fn)
}

// Cycle evaluates and executes one clock cycle.
func (e *Engine) Cycle() {
	if e.inCycle {
		log.Panic("cycle evaluation is not reentrant")
	}

	if !e.sched.frozen {
		e.sched.Freeze()
	}

	e.inCycle = true

	for _, m := range e.sched.methods {
		m.fired = false
	}

	e.InvokeHook(HookCtx{Domain: e, Pos: HookPosCycleStart, Item: e.cycle})

	e.schedule = e.sched.Evaluate(e.cycle)

	for _, tx := range e.schedule.Granted {
		e.InvokeHook(HookCtx{
			Domain: e,
			Pos:    HookPosTransactionGrant,
			Item:   tx,
		})
	}

	for _, tx := range e.schedule.Rejected {
		e.InvokeHook(HookCtx{
			Domain: e,
			Pos:    HookPosTransactionReject,
			Item:   tx,
		})
	}

	for _, tx := range e.schedule.Granted {
		e.runTransaction(tx)
	}

	commits := e.commits
	e.commits = nil
	for _, fn := range commits {
		fn()
	}

	e.InvokeHook(HookCtx{Domain: e, Pos: HookPosCycleEnd, Item: e.cycle})

	e.inCycle = false
	e.cycle++
}

// Run evaluates n consecutive cycles.
func (e *Engine) Run(n int) {
	for i := 0; i < n; i++ {
		e.Cycle()
	}
}

func (e *Engine) runTransaction(tx *Transaction) {
	e.pushExecuting(tx)
	defer e.popExecuting()

	if tx.body != nil {
		tx.body()
	}
}

func (e *Engine) pushExecuting(a Action) {
	e.executing = append(e.executing, a)
}

func (e *Engine) popExecuting() {
	e.executing = e.executing[:len(e.executing)-1]
}

func (e *Engine) currentAction() Action {
	if len(e.executing) == 0 {
		return nil
	}

	return e.executing[len(e.executing)-1]
}

func (e *Engine) currentActionName() string {
	a := e.currentAction()
	if a == nil {
		return "nothing"
	}

	return a.Name()
}
