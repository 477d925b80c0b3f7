package storage

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tangosim/tango/sim"
)

var _ = Describe("CAM", func() {
	var (
		sched  *sim.Scheduler
		engine *sim.Engine
		cam    *CAM

		pushReq  bool
		pushArgs CAMPushArgs
		popReq   bool
		popKey   uint64
		popOut   CAMPopResult

		pushTrans *sim.Transaction
	)

	BeforeEach(func() {
		sched = sim.NewScheduler()
		engine = sim.NewEngine(sched)
		cam = MakeCAMBuilder().
			WithEngine(engine).
			WithNumSlots(4).
			Build("CAM")

		pushReq = false
		popReq = false

		pushTrans = sim.NewTransaction("Producer").
			WithRequest(func() bool { return pushReq })
		pushSite := pushTrans.Uses(cam.Push).
			WithArgs(func() any { return pushArgs })
		pushTrans.WithBody(func() { pushSite.Call(nil) })
		sched.RegisterTransaction(pushTrans)

		popTrans := sim.NewTransaction("Consumer").
			WithRequest(func() bool { return popReq })
		popSite := popTrans.Uses(cam.Pop).
			WithArgs(func() any { return popKey })
		popTrans.WithBody(func() {
			popOut = popSite.Call(nil).(CAMPopResult)
		})
		sched.RegisterTransaction(popTrans)
	})

	push := func(key, value uint64) {
		pushReq = true
		pushArgs = CAMPushArgs{Key: key, Value: value}
		engine.Cycle()
		pushReq = false
	}

	pop := func(key uint64) CAMPopResult {
		popReq = true
		popKey = key
		engine.Cycle()
		popReq = false
		return popOut
	}

	It("should round-trip a key-value pair", func() {
		push(13, 100)

		Expect(cam.Occupancy()).To(Equal(1))

		result := pop(13)

		Expect(result.NotFound).To(BeFalse())
		Expect(result.Value).To(Equal(uint64(100)))
		Expect(cam.Occupancy()).To(Equal(0))
	})

	It("should flag a miss for an absent key", func() {
		push(13, 100)

		result := pop(14)

		Expect(result.NotFound).To(BeTrue())
		Expect(cam.Occupancy()).To(Equal(1))
	})

	It("should refuse push when full", func() {
		for i := 0; i < 4; i++ {
			push(uint64(i), uint64(i)*10)
		}
		Expect(cam.Occupancy()).To(Equal(4))

		pushReq = true
		pushArgs = CAMPushArgs{Key: 99, Value: 99}
		engine.Cycle()
		pushReq = false

		s := engine.LastSchedule()
		Expect(s.Rejected).To(ContainElement(pushTrans))
		Expect(cam.Occupancy()).To(Equal(4))
	})

	It("should become ready again after a pop frees a slot", func() {
		for i := 0; i < 4; i++ {
			push(uint64(i), uint64(i)*10)
		}

		pop(2)
		push(99, 990)

		Expect(cam.Occupancy()).To(Equal(4))
		Expect(pop(99).Value).To(Equal(uint64(990)))
	})

	It("should return the lowest-indexed match for duplicate keys", func() {
		push(7, 111)
		push(7, 222)

		first := pop(7)
		second := pop(7)

		Expect(first.NotFound).To(BeFalse())
		Expect(first.Value).To(Equal(uint64(111)))
		Expect(second.Value).To(Equal(uint64(222)))
	})

	It("should grant a push and a pop in the same cycle", func() {
		push(13, 100)

		// Push fills a free slot while pop drains a matched one; the two
		// never contend for the same slot, so both fire.
		pushReq = true
		pushArgs = CAMPushArgs{Key: 21, Value: 210}
		popReq = true
		popKey = 13
		engine.Cycle()
		pushReq = false
		popReq = false

		s := engine.LastSchedule()
		Expect(s.Rejected).To(BeEmpty())
		Expect(popOut.NotFound).To(BeFalse())
		Expect(popOut.Value).To(Equal(uint64(100)))
		Expect(cam.Occupancy()).To(Equal(1))
	})

	It("should keep a popped value visible until the cycle edge", func() {
		push(5, 50)

		result := pop(5)
		Expect(result.Value).To(Equal(uint64(50)))

		// The slot is free again: a new push may reuse it.
		push(6, 60)
		Expect(cam.Occupancy()).To(Equal(1))
	})
})
