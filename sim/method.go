package sim

import "log"

// An Action is anything the scheduler makes a per-cycle decision about,
// either a Method or a Transaction.
type Action interface {
	Named

	// Kind returns "method" or "transaction".
	Kind() string
}

// A Method is a guarded atomic action that other actions may call. A method
// fires at most once per cycle. Its body executes combinationally within the
// cycle it is granted; any state mutation the body performs must go through
// Engine.Commit so that it takes effect at the cycle edge.
type Method struct {
	name     string
	ready    func() bool
	validate func(arg any) bool
	body     func(arg any) any

	sched   *Scheduler
	id      int
	sites   []*CallSite
	callers []*CallSite
	fired   bool
}

// NewMethod creates a method with the given name. The method must be
// registered with a Scheduler before the first cycle runs.
func NewMethod(name string) *Method {
	NameMustBeValid(name)
	return &Method{name: name, id: -1}
}

// Name returns the name of the method.
func (m *Method) Name() string {
	return m.name
}

// Kind identifies the action as a method.
func (m *Method) Kind() string {
	return "method"
}

// WithReadiness sets the readiness predicate. A method without a predicate is
// always ready.
func (m *Method) WithReadiness(fn func() bool) *Method {
	m.mustBeMutable()
	m.ready = fn
	return m
}

// WithBody sets the combinational body of the method. The body receives the
// argument of the single caller selected this cycle and returns the method's
// result.
func (m *Method) WithBody(fn func(arg any) any) *Method {
	m.mustBeMutable()
	m.body = fn
	return m
}

// WithArgValidator sets a predicate over the caller's intended arguments that
// additionally gates readiness per call. Every call site of a method with a
// validator must declare an argument function with CallSite.WithArgs, so that
// the argument is available when the schedule is computed.
func (m *Method) WithArgValidator(fn func(arg any) bool) *Method {
	m.mustBeMutable()
	m.validate = fn
	return m
}

// Ready evaluates the method's own readiness predicate.
func (m *Method) Ready() bool {
	return m.ready == nil || m.ready()
}

// Uses declares that this method's body may call the target method. The call
// graph is fixed once the scheduler is frozen.
func (m *Method) Uses(target *Method) *CallSite {
	m.mustBeMutable()

	site := &CallSite{owner: m, target: target}
	m.sites = append(m.sites, site)
	target.callers = append(target.callers, site)

	return site
}

func (m *Method) mustBeMutable() {
	if m.sched != nil && m.sched.frozen {
		log.Panicf("method %s modified after the scheduler is frozen", m.name)
	}
}

// fire runs the method body exactly once for this cycle.
func (m *Method) fire(e *Engine, arg any) any {
	if m.fired {
		log.Panicf("method %s fired twice in cycle %d", m.name, e.cycle)
	}

	if !m.Ready() {
		log.Panicf("method %s fired while its readiness predicate is false",
			m.name)
	}

	m.fired = true

	e.pushExecuting(m)
	defer e.popExecuting()

	e.InvokeHook(HookCtx{Domain: e, Pos: HookPosMethodFire, Item: m})

	if m.body == nil {
		return nil
	}

	return m.body(arg)
}

// A CallSite is the static link between one caller (a transaction or a
// method) and one callee method, created at build time with Uses.
type CallSite struct {
	owner    Action
	target   *Method
	argFn    func() any
	optional bool
}

// WithArgs declares a combinational argument function for this call site. The
// argument is computed during schedule evaluation, validated by the target's
// argument validator if any, and used when the body invokes Call(nil).
func (s *CallSite) WithArgs(fn func() any) *CallSite {
	s.argFn = fn
	return s
}

// Optional marks this call site as conditionally used. Optional sites do not
// contribute to the caller's readiness; the body must check Ready before
// calling.
func (s *CallSite) Optional() *CallSite {
	s.optional = true
	return s
}

// Target returns the callee method of this call site.
func (s *CallSite) Target() *Method {
	return s.target
}

// Ready reports whether the target can be called through this site in the
// current cycle.
func (s *CallSite) Ready() bool {
	if s.target.fired {
		return false
	}

	if !s.target.Ready() {
		return false
	}

	if s.target.validate != nil {
		e := s.target.sched.engine
		if e == nil || e.schedule == nil {
			return false
		}

		arg, ok := e.schedule.siteArgs[s]
		if !ok {
			return false
		}

		return s.target.validate(arg)
	}

	return true
}

// Call invokes the target method with the given argument and returns its
// result. Call may only be used during phase 2 of a cycle, from within the
// body of the action that owns this site. For sites declared with WithArgs,
// arg must be nil; the precomputed argument is used instead.
func (s *CallSite) Call(arg any) any {
	e := s.target.sched.engine
	if e == nil || !e.inCycle {
		log.Panicf("method %s called outside of cycle evaluation",
			s.target.name)
	}

	if e.currentAction() != s.owner {
		log.Panicf("call site owned by %s used while %s is executing",
			s.owner.Name(), e.currentActionName())
	}

	if s.argFn != nil {
		if arg != nil {
			log.Panicf(
				"call site %s -> %s declares an argument function, "+
					"Call must receive nil",
				s.owner.Name(), s.target.name)
		}

		arg = e.schedule.siteArgs[s]
	}

	if s.target.validate != nil && !s.target.validate(arg) {
		log.Panicf("method %s called with an argument it rejected",
			s.target.name)
	}

	return s.target.fire(e, arg)
}
