package trans

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tangosim/tango/sim"
)

var _ = Describe("Filter", func() {
	var (
		sched  *sim.Scheduler
		engine *sim.Engine

		sinkReady bool
		received  []uint64
		sendOn    bool
		sendVal   uint64

		driver *sim.Transaction
	)

	BeforeEach(func() {
		sched = sim.NewScheduler()
		engine = sim.NewEngine(sched)

		sinkReady = true
		received = nil

		sink := sim.NewMethod("Sink").
			WithReadiness(func() bool { return sinkReady }).
			WithBody(func(arg any) any {
				v := arg.(uint64)
				engine.Commit(func() { received = append(received, v) })
				return nil
			})
		sched.RegisterMethod(sink)

		evenOnly := NewFilter(sched, "EvenOnly", sink, func(arg any) bool {
			return arg.(uint64)%2 == 0
		})

		driver = sim.NewTransaction("Driver").
			WithRequest(func() bool { return sendOn })
		site := driver.Uses(evenOnly)
		driver.WithBody(func() { site.Call(sendVal) })
		sched.RegisterTransaction(driver)
	})

	send := func(v uint64) {
		sendOn = true
		sendVal = v
		engine.Cycle()
		sendOn = false
	}

	It("should pass matching calls through", func() {
		send(2)
		send(4)

		Expect(received).To(Equal([]uint64{2, 4}))
	})

	It("should swallow calls the predicate rejects", func() {
		send(2)
		send(3)

		Expect(received).To(Equal([]uint64{2}))
		s := engine.LastSchedule()
		Expect(s.Granted).To(ContainElement(driver))
	})

	It("should stay gated on the wrapped method's readiness", func() {
		sinkReady = false

		send(2)

		Expect(received).To(BeEmpty())
		s := engine.LastSchedule()
		Expect(s.Rejected).To(ContainElement(driver))
	})
})

var _ = Describe("Product", func() {
	It("should call every target and gather the results", func() {
		sched := sim.NewScheduler()
		engine := sim.NewEngine(sched)

		double := sim.NewMethod("Double").
			WithBody(func(arg any) any { return arg.(int) * 2 })
		triple := sim.NewMethod("Triple").
			WithBody(func(arg any) any { return arg.(int) * 3 })
		sched.RegisterMethod(double)
		sched.RegisterMethod(triple)

		both := NewProduct(sched, "Both", []*sim.Method{double, triple})

		var results []any
		sendOn := false
		driver := sim.NewTransaction("Driver").
			WithRequest(func() bool { return sendOn })
		site := driver.Uses(both)
		driver.WithBody(func() {
			results = site.Call(5).([]any)
		})
		sched.RegisterTransaction(driver)

		sendOn = true
		engine.Cycle()

		Expect(results).To(Equal([]any{10, 15}))
	})
})

var _ = Describe("Collector", func() {
	var (
		sched  *sim.Scheduler
		engine *sim.Engine

		aReady, bReady bool
		aFired, bFired int
		consumeOn      bool
		consumed       string
		consumer       *sim.Transaction
	)

	BeforeEach(func() {
		sched = sim.NewScheduler()
		engine = sim.NewEngine(sched)

		aReady = false
		bReady = false
		aFired = 0
		bFired = 0

		a := sim.NewMethod("ProviderA").
			WithReadiness(func() bool { return aReady }).
			WithBody(func(arg any) any {
				aFired++
				return "a"
			})
		b := sim.NewMethod("ProviderB").
			WithReadiness(func() bool { return bReady }).
			WithBody(func(arg any) any {
				bFired++
				return "b"
			})
		sched.RegisterMethod(a)
		sched.RegisterMethod(b)

		anyOf := NewCollector(sched, "AnyOf", []*sim.Method{a, b})

		consumer = sim.NewTransaction("Consumer").
			WithRequest(func() bool { return consumeOn })
		site := consumer.Uses(anyOf)
		consumer.WithBody(func() {
			consumed = site.Call(nil).(string)
		})
		sched.RegisterTransaction(consumer)
	})

	consume := func() {
		consumeOn = true
		engine.Cycle()
		consumeOn = false
	}

	It("should forward the only ready provider", func() {
		bReady = true

		consume()

		Expect(consumed).To(Equal("b"))
		Expect(aFired).To(Equal(0))
		Expect(bFired).To(Equal(1))
	})

	It("should prefer the first provider when several are ready", func() {
		aReady = true
		bReady = true

		consume()

		Expect(consumed).To(Equal("a"))
		Expect(bFired).To(Equal(0))
	})

	It("should leave the consumer rejected when no provider is ready", func() {
		consume()

		s := engine.LastSchedule()
		Expect(s.Rejected).To(ContainElement(consumer))
		Expect(aFired).To(Equal(0))
		Expect(bFired).To(Equal(0))
	})
})
