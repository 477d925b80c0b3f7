// Package trans provides combinators that build new methods out of existing
// ones: predicate filters, fan-out products, and fan-in collectors.
package trans

import (
	"log"

	"github.com/tangosim/tango/sim"
)

// NewFilter wraps a target method with a predicate. A call passes through to
// the target iff the predicate holds for the argument; otherwise the target
// is not fired and the filter returns nil.
//
// Callers of the filter still require the target to be ready, whether or not
// the predicate would hold. The target must not declare an argument
// validator, as the filter forwards its argument only at fire time.
func NewFilter(
	sched *sim.Scheduler,
	name string,
	target *sim.Method,
	pred func(arg any) bool,
) *sim.Method {
	if pred == nil {
		log.Panicf("filter %s requires a predicate", name)
	}

	m := sim.NewMethod(name)
	site := m.Uses(target)

	m.WithBody(func(arg any) any {
		if !pred(arg) {
			return nil
		}

		return site.Call(arg)
	})

	sched.RegisterMethod(m)

	return m
}

// NewProduct builds a method that calls every target with the same argument
// and returns their results as a []any, in target order. The targets must be
// distinct and free of mutual conflicts, since they all fire in the same
// cycle.
func NewProduct(
	sched *sim.Scheduler,
	name string,
	targets []*sim.Method,
) *sim.Method {
	if len(targets) == 0 {
		log.Panicf("product %s requires at least one target", name)
	}

	for i := 0; i < len(targets); i++ {
		for j := i + 1; j < len(targets); j++ {
			if targets[i] == targets[j] {
				log.Panicf("product %s lists method %s twice",
					name, targets[i].Name())
			}
		}
	}

	m := sim.NewMethod(name)

	sites := make([]*sim.CallSite, len(targets))
	for i, t := range targets {
		sites[i] = m.Uses(t)
	}

	m.WithBody(func(arg any) any {
		results := make([]any, len(sites))
		for i, site := range sites {
			results[i] = site.Call(arg)
		}

		return results
	})

	sched.RegisterMethod(m)

	return m
}

// NewCollector builds a method that forwards to one ready provider, chosen by
// a fixed-priority arbiter over the provider order. The collector is ready
// when any provider is; providers the arbiter passes over are left unfired.
// Providers are called without arguments and must not declare argument
// validators.
func NewCollector(
	sched *sim.Scheduler,
	name string,
	providers []*sim.Method,
) *sim.Method {
	if len(providers) == 0 {
		log.Panicf("collector %s requires at least one provider", name)
	}

	m := sim.NewMethod(name)

	sites := make([]*sim.CallSite, len(providers))
	for i, p := range providers {
		sites[i] = m.Uses(p).Optional()
	}

	arb := sim.NewMultiPriorityArbiter(len(providers), 1)

	m.WithReadiness(func() bool {
		for _, site := range sites {
			if site.Ready() {
				return true
			}
		}

		return false
	})

	m.WithBody(func(arg any) any {
		ready := make([]bool, len(sites))
		for i, site := range sites {
			ready[i] = site.Ready()
		}

		grant := arb.Select(ready)[0]
		if !grant.Valid {
			log.Panicf("collector %s fired with no ready provider", name)
		}

		return sites[grant.Index].Call(nil)
	})

	sched.RegisterMethod(m)

	return m
}
