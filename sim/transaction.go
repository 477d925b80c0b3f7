package sim

import "log"

// A Transaction is a top-level atomic action. Its body consists only of calls
// to methods through call sites declared with Uses. A transaction executes in
// a cycle iff the scheduler grants it.
type Transaction struct {
	name     string
	request  func() bool
	priority int
	body     func()

	sched *Scheduler
	id    int
	sites []*CallSite
}

// NewTransaction creates a transaction with the given name. The transaction
// must be registered with a Scheduler before the first cycle runs.
func NewTransaction(name string) *Transaction {
	NameMustBeValid(name)
	return &Transaction{name: name, id: -1}
}

// Name returns the name of the transaction.
func (t *Transaction) Name() string {
	return t.name
}

// Kind identifies the action as a transaction.
func (t *Transaction) Kind() string {
	return "transaction"
}

// WithRequest sets the external demand predicate. A transaction without a
// predicate requests every cycle.
func (t *Transaction) WithRequest(fn func() bool) *Transaction {
	t.mustBeMutable()
	t.request = fn
	return t
}

// WithPriority sets the static priority used to resolve conflicts. Higher
// values win. Conflicting transactions with equal priority are tie-broken by
// registration order through the priority arbiter.
func (t *Transaction) WithPriority(priority int) *Transaction {
	t.mustBeMutable()
	t.priority = priority
	return t
}

// WithBody sets the body of the transaction.
func (t *Transaction) WithBody(fn func()) *Transaction {
	t.mustBeMutable()
	t.body = fn
	return t
}

// Priority returns the static priority of the transaction.
func (t *Transaction) Priority() int {
	return t.priority
}

// Uses declares that this transaction's body may call the target method.
func (t *Transaction) Uses(target *Method) *CallSite {
	t.mustBeMutable()

	site := &CallSite{owner: t, target: target}
	t.sites = append(t.sites, site)
	target.callers = append(target.callers, site)

	return site
}

// Requesting evaluates the request predicate for the current cycle.
func (t *Transaction) Requesting() bool {
	return t.request == nil || t.request()
}

func (t *Transaction) mustBeMutable() {
	if t.sched != nil && t.sched.frozen {
		log.Panicf("transaction %s modified after the scheduler is frozen",
			t.name)
	}
}
