package sim

import "log"

// A Scheduler owns the registry of methods and transactions, the static
// conflict relation between them, and the per-cycle scheduling decision.
//
// The conflict relation is derived from three sources: two transactions
// reaching the same method through their call graphs, explicit conflicts
// declared with AddConflict, and explicit method-level conflicts lifted to
// every pair of transactions that can reach the conflicting methods.
type Scheduler struct {
	methods      []*Method
	transactions []*Transaction
	explicit     [][2]Action

	engine *Engine
	frozen bool

	conflict   [][]bool
	reachAll   [][]*Method
	reachReq   [][]*Method
	argSites   [][]*CallSite
	components []*conflictComponent
}

type conflictComponent struct {
	groups []*priorityGroup
}

// A priorityGroup holds the transactions of one conflict component that share
// the same priority. The arbiter breaks ties among them by registration
// order.
type priorityGroup struct {
	priority int
	txs      []int
	arb      *MultiPriorityArbiter
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// RegisterMethod adds a method to the registry.
func (s *Scheduler) RegisterMethod(m *Method) {
	s.mustBeMutable()

	if m.sched != nil {
		log.Panicf("method %s is already registered", m.name)
	}

	m.sched = s
	m.id = len(s.methods)
	s.methods = append(s.methods, m)
}

// RegisterTransaction adds a transaction to the registry.
func (s *Scheduler) RegisterTransaction(t *Transaction) {
	s.mustBeMutable()

	if t.sched != nil {
		log.Panicf("transaction %s is already registered", t.name)
	}

	t.sched = s
	t.id = len(s.transactions)
	s.transactions = append(s.transactions, t)
}

// AddConflict declares that two actions may not both fire in the same cycle,
// typically because they touch the same storage resource.
func (s *Scheduler) AddConflict(a, b Action) {
	s.mustBeMutable()

	if a == b {
		log.Panic("an action cannot conflict with itself")
	}

	s.explicit = append(s.explicit, [2]Action{a, b})
}

// Methods returns all registered methods.
func (s *Scheduler) Methods() []*Method {
	return s.methods
}

// Transactions returns all registered transactions.
func (s *Scheduler) Transactions() []*Transaction {
	return s.transactions
}

// ConflictsWith reports whether two registered transactions are
// conflict-related. Only valid after the scheduler is frozen.
func (s *Scheduler) ConflictsWith(a, b *Transaction) bool {
	s.mustBeFrozen()
	return s.conflict[a.id][b.id]
}

func (s *Scheduler) mustBeMutable() {
	if s.frozen {
		log.Panic("scheduler is frozen")
	}
}

func (s *Scheduler) mustBeFrozen() {
	if !s.frozen {
		log.Panic("scheduler is not frozen yet")
	}
}

// Freeze validates the configuration and derives the conflict structure. Any
// configuration error is fatal. Freeze is called automatically before the
// first cycle.
func (s *Scheduler) Freeze() {
	s.mustBeMutable()

	s.checkSitesRegistered()
	s.checkCallGraphAcyclic()
	s.checkValidatorsHaveArgs()
	s.computeReachability()
	s.checkSelfConflicts()
	s.deriveConflictMatrix()
	s.checkAmbiguousPairs()
	s.buildComponents()

	s.frozen = true
}

func (s *Scheduler) checkSitesRegistered() {
	check := func(owner Action, sites []*CallSite) {
		for _, site := range sites {
			if site.target.sched != s {
				log.Panicf("%s calls method %s, which is not registered",
					owner.Name(), site.target.name)
			}
		}
	}

	for _, m := range s.methods {
		check(m, m.sites)
	}

	for _, t := range s.transactions {
		check(t, t.sites)
	}
}

// checkCallGraphAcyclic verifies that no method directly or transitively
// calls itself.
func (s *Scheduler) checkCallGraphAcyclic() {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(s.methods))

	var visit func(m *Method)
	visit = func(m *Method) {
		color[m.id] = gray

		for _, site := range m.sites {
			switch color[site.target.id] {
			case gray:
				log.Panicf("method call graph has a cycle through %s",
					site.target.name)
			case white:
				visit(site.target)
			}
		}

		color[m.id] = black
	}

	for _, m := range s.methods {
		if color[m.id] == white {
			visit(m)
		}
	}
}

func (s *Scheduler) checkValidatorsHaveArgs() {
	for _, m := range s.methods {
		if m.validate == nil {
			continue
		}

		for _, site := range m.callers {
			if site.argFn == nil {
				log.Panicf(
					"method %s has an argument validator, "+
						"but the call site from %s declares no arguments",
					m.name, site.owner.Name())
			}
		}
	}
}

func (s *Scheduler) computeReachability() {
	n := len(s.transactions)
	s.reachAll = make([][]*Method, n)
	s.reachReq = make([][]*Method, n)
	s.argSites = make([][]*CallSite, n)

	for i, tx := range s.transactions {
		s.reachAll[i] = s.reach(tx.sites, false)
		s.reachReq[i] = s.reach(tx.sites, true)

		seen := make(map[*CallSite]bool)
		s.collectArgSites(tx.sites, seen, &s.argSites[i])
	}
}

// reach walks the call graph from the given sites. When requiredOnly is set,
// optional call sites are not followed.
func (s *Scheduler) reach(sites []*CallSite, requiredOnly bool) []*Method {
	visited := make([]bool, len(s.methods))
	var out []*Method

	var visit func(sites []*CallSite)
	visit = func(sites []*CallSite) {
		for _, site := range sites {
			if requiredOnly && site.optional {
				continue
			}

			m := site.target
			if visited[m.id] {
				continue
			}

			visited[m.id] = true
			out = append(out, m)
			visit(m.sites)
		}
	}

	visit(sites)

	return out
}

func (s *Scheduler) collectArgSites(
	sites []*CallSite,
	seen map[*CallSite]bool,
	out *[]*CallSite,
) {
	for _, site := range sites {
		if seen[site] {
			continue
		}
		seen[site] = true

		if site.argFn != nil {
			*out = append(*out, site)
		}

		s.collectArgSites(site.target.sites, seen, out)
	}
}

// checkSelfConflicts rejects configurations where a single transaction can
// reach both sides of an explicit conflict, which would make the transaction
// conflict with itself.
func (s *Scheduler) checkSelfConflicts() {
	for i, tx := range s.transactions {
		set := s.actionSet(i, tx)

		for _, pair := range s.explicit {
			if set[pair[0]] && set[pair[1]] {
				log.Panicf(
					"transaction %s reaches both %s and %s, "+
						"which are declared conflicting",
					tx.name, pair[0].Name(), pair[1].Name())
			}
		}
	}
}

// actionSet returns the transaction itself plus every method it can reach.
func (s *Scheduler) actionSet(i int, tx *Transaction) map[Action]bool {
	set := make(map[Action]bool)
	set[tx] = true

	for _, m := range s.reachAll[i] {
		set[m] = true
	}

	return set
}

func (s *Scheduler) deriveConflictMatrix() {
	n := len(s.transactions)
	s.conflict = make([][]bool, n)
	for i := range s.conflict {
		s.conflict[i] = make([]bool, n)
	}

	sets := make([]map[Action]bool, n)
	for i, tx := range s.transactions {
		sets[i] = s.actionSet(i, tx)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if s.pairConflicts(sets[i], sets[j]) {
				s.conflict[i][j] = true
				s.conflict[j][i] = true
			}
		}
	}
}

func (s *Scheduler) pairConflicts(a, b map[Action]bool) bool {
	for x := range a {
		if m, ok := x.(*Method); ok && b[m] {
			return true
		}
	}

	for _, pair := range s.explicit {
		if (a[pair[0]] && b[pair[1]]) || (a[pair[1]] && b[pair[0]]) {
			return true
		}
	}

	return false
}

// checkAmbiguousPairs rejects pairs of conflicting transactions that have
// equal priority and are statically always requesting and always ready. Such
// a pair has no defined winner; the priority order must break the tie.
func (s *Scheduler) checkAmbiguousPairs() {
	n := len(s.transactions)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if !s.conflict[i][j] {
				continue
			}

			ti := s.transactions[i]
			tj := s.transactions[j]

			if ti.priority != tj.priority {
				continue
			}

			if s.alwaysEligible(i) && s.alwaysEligible(j) {
				log.Panicf(
					"transactions %s and %s conflict with equal priority "+
						"and are both always ready: the schedule is ambiguous",
					ti.name, tj.name)
			}
		}
	}
}

func (s *Scheduler) alwaysEligible(i int) bool {
	if s.transactions[i].request != nil {
		return false
	}

	for _, m := range s.reachReq[i] {
		if m.ready != nil || m.validate != nil {
			return false
		}
	}

	return true
}

func (s *Scheduler) buildComponents() {
	n := len(s.transactions)
	assigned := make([]bool, n)

	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}

		members := s.componentMembers(i, assigned)
		s.components = append(s.components, s.makeComponent(members))
	}
}

func (s *Scheduler) componentMembers(start int, assigned []bool) []int {
	var members []int

	queue := []int{start}
	assigned[start] = true

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		members = append(members, id)

		for j := range s.transactions {
			if !assigned[j] && s.conflict[id][j] {
				assigned[j] = true
				queue = append(queue, j)
			}
		}
	}

	return members
}

func (s *Scheduler) makeComponent(members []int) *conflictComponent {
	byPriority := make(map[int][]int)
	var priorities []int

	for _, id := range members {
		p := s.transactions[id].priority
		if _, ok := byPriority[p]; !ok {
			priorities = append(priorities, p)
		}
		byPriority[p] = append(byPriority[p], id)
	}

	sortDescending(priorities)

	comp := &conflictComponent{}
	for _, p := range priorities {
		txs := byPriority[p]
		sortAscending(txs)

		comp.groups = append(comp.groups, &priorityGroup{
			priority: p,
			txs:      txs,
			arb:      NewMultiPriorityArbiter(len(txs), len(txs)),
		})
	}

	return comp
}

func sortAscending(values []int) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j] < values[j-1]; j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}
}

func sortDescending(values []int) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j] > values[j-1]; j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}
}

// Evaluate computes the Schedule for one cycle. It reads the request and
// readiness predicates but mutates no state, so evaluating the same snapshot
// twice yields the same schedule.
func (s *Scheduler) Evaluate(cycle CycleCount) *Schedule {
	if !s.frozen {
		s.Freeze()
	}

	sch := &Schedule{
		Cycle:    cycle,
		siteArgs: make(map[*CallSite]any),
	}

	n := len(s.transactions)
	requesting := make([]bool, n)
	eligible := make([]bool, n)

	for i, tx := range s.transactions {
		requesting[i] = tx.Requesting()
		if requesting[i] {
			eligible[i] = s.evalEligibility(i, sch)
		}
	}

	granted := make([]bool, n)
	for _, comp := range s.components {
		s.scheduleComponent(comp, eligible, granted)
	}

	for i, tx := range s.transactions {
		switch {
		case granted[i]:
			sch.Granted = append(sch.Granted, tx)
		case requesting[i]:
			sch.Rejected = append(sch.Rejected, tx)
		}
	}

	return sch
}

// evalEligibility checks that every method the transaction needs is ready and
// accepts the precomputed arguments.
func (s *Scheduler) evalEligibility(i int, sch *Schedule) bool {
	for _, site := range s.argSites[i] {
		if _, ok := sch.siteArgs[site]; !ok {
			sch.siteArgs[site] = site.argFn()
		}
	}

	for _, m := range s.reachReq[i] {
		if !m.Ready() {
			return false
		}
	}

	for _, site := range s.argSites[i] {
		if site.optional || site.target.validate == nil {
			continue
		}

		if !site.target.validate(sch.siteArgs[site]) {
			return false
		}
	}

	return true
}

// scheduleComponent grants the maximal conflict-free, priority-consistent
// subset within one conflict component: priority groups are visited from the
// highest priority down, and the arbiter orders each group's requesters.
func (s *Scheduler) scheduleComponent(
	comp *conflictComponent,
	eligible []bool,
	granted []bool,
) {
	var picked []int

	for _, g := range comp.groups {
		requests := make([]bool, len(g.txs))
		for k, id := range g.txs {
			requests[k] = eligible[id]
		}

		for _, grant := range g.arb.Select(requests) {
			if !grant.Valid {
				break
			}

			id := g.txs[grant.Index]
			if s.conflictsWithAny(id, picked) {
				continue
			}

			picked = append(picked, id)
			granted[id] = true
		}
	}
}

func (s *Scheduler) conflictsWithAny(id int, picked []int) bool {
	for _, p := range picked {
		if s.conflict[id][p] {
			return true
		}
	}

	return false
}
