package resv

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/tangosim/tango/sim"
)

// stationHarness drives a Station through one transaction per operation.
type stationHarness struct {
	engine *sim.Engine
	st     *Station

	// The reorder-buffer base index the mocked provider reports.
	robBase uint64

	selOn     bool
	selResult SelectResult
	insOn     bool
	insArgs   InsertArgs
	updOn     bool
	updArgs   UpdateArgs
	takeOn    bool
	takeID    int
	takeData  EntryData
	probeOn   bool
	probeSeen bool

	selTrans  *sim.Transaction
	insTrans  *sim.Transaction
	updTrans  *sim.Transaction
	takeTrans *sim.Transaction
}

func newStationHarness(ctrl *gomock.Controller) *stationHarness {
	h := &stationHarness{}

	indices := NewMockIndicesProvider(ctrl)
	indices.EXPECT().
		StartIndex().
		DoAndReturn(func() uint64 { return h.robBase }).
		AnyTimes()

	sched := sim.NewScheduler()
	h.engine = sim.NewEngine(sched)
	h.st = MakeStationBuilder().
		WithEngine(h.engine).
		WithNumEntries(4).
		WithIndicesProvider(indices).
		Build("RS")

	h.selTrans = sim.NewTransaction("Selector").
		WithRequest(func() bool { return h.selOn })
	selSite := h.selTrans.Uses(h.st.Select)
	h.selTrans.WithBody(func() {
		h.selResult = selSite.Call(nil).(SelectResult)
	})
	sched.RegisterTransaction(h.selTrans)

	h.insTrans = sim.NewTransaction("Inserter").
		WithRequest(func() bool { return h.insOn })
	insSite := h.insTrans.Uses(h.st.Insert).
		WithArgs(func() any { return h.insArgs })
	h.insTrans.WithBody(func() { insSite.Call(nil) })
	sched.RegisterTransaction(h.insTrans)

	h.updTrans = sim.NewTransaction("Updater").
		WithRequest(func() bool { return h.updOn })
	updSite := h.updTrans.Uses(h.st.Update).
		WithArgs(func() any { return h.updArgs })
	h.updTrans.WithBody(func() { updSite.Call(nil) })
	sched.RegisterTransaction(h.updTrans)

	h.takeTrans = sim.NewTransaction("Taker").
		WithRequest(func() bool { return h.takeOn })
	takeSite := h.takeTrans.Uses(h.st.Take).
		WithArgs(func() any { return h.takeID })
	h.takeTrans.WithBody(func() {
		h.takeData = takeSite.Call(nil).(EntryData)
	})
	sched.RegisterTransaction(h.takeTrans)

	// Registered last, so its body runs after the others in the same cycle.
	probeTrans := sim.NewTransaction("FenceProbe").
		WithRequest(func() bool { return h.probeOn })
	probeTrans.WithBody(func() { h.probeSeen = h.st.FencePending() })
	sched.RegisterTransaction(probeTrans)

	return h
}

func (h *stationHarness) cycle() {
	h.engine.Cycle()
	h.selOn = false
	h.insOn = false
	h.updOn = false
	h.takeOn = false
	h.probeOn = false
}

func (h *stationHarness) insert(id int, data EntryData) {
	h.insOn = true
	h.insArgs = InsertArgs{ID: id, Data: data}
	h.cycle()
}

func (h *stationHarness) update(tag, value uint64) {
	h.updOn = true
	h.updArgs = UpdateArgs{Tag: tag, Value: value}
	h.cycle()
}

func (h *stationHarness) take(id int) {
	h.takeOn = true
	h.takeID = id
	h.cycle()
}

// load builds a resolved load entry whose address is s1Val+imm.
func load(rob, s1Val, imm uint64) EntryData {
	return EntryData{Op: OpLoad, RobID: rob, S1Val: s1Val, Imm: imm}
}

var _ = Describe("Station", func() {
	var (
		ctrl *gomock.Controller
		h    *stationHarness
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		h = newStationHarness(ctrl)
	})

	Context("dependency tracking", func() {
		It("should depend on every older entry when the address is "+
			"unresolved", func() {
			h.insert(0, load(0, 0x100, 0))
			h.insert(1, load(1, 0x200, 0))

			h.insert(2, EntryData{Op: OpLoad, RobID: 2, RpS1: 5, Imm: 0x40})

			Expect(h.st.DependsOn(2, 0)).To(BeTrue())
			Expect(h.st.DependsOn(2, 1)).To(BeTrue())
		})

		It("should depend on exactly the entry whose address matches", func() {
			h.insert(0, load(0, 0x100, 0))
			h.insert(1, load(1, 0x200, 0))

			// 0x102 and 0x100 fall into the same aligned word.
			h.insert(2, load(2, 0x100, 2))

			Expect(h.st.DependsOn(2, 0)).To(BeTrue())
			Expect(h.st.DependsOn(2, 1)).To(BeFalse())
		})

		It("should treat an older unresolved address as a conflict", func() {
			h.insert(0, EntryData{Op: OpStore, RobID: 0, RpS1: 3})

			h.insert(1, load(1, 0x500, 0))

			Expect(h.st.DependsOn(1, 0)).To(BeTrue())
		})

		It("should never depend on a younger entry", func() {
			h.insert(0, load(5, 0x100, 0))

			// Reorder-buffer id 2 is older than 5, so this entry arrives
			// out of order and must not wait for the younger one.
			h.insert(1, load(2, 0x100, 0))

			Expect(h.st.DependsOn(1, 0)).To(BeFalse())
		})

		It("should compare ages across reorder-buffer wrap-around", func() {
			h.robBase = 250

			h.insert(0, load(252, 0x100, 0))
			h.insert(1, EntryData{Op: OpLoad, RobID: 3, RpS1: 9})

			// Id 3 wrapped past 255, so it is younger than 252.
			Expect(h.st.DependsOn(1, 0)).To(BeTrue())
		})
	})

	Context("slot selection", func() {
		sel := func() int {
			h.selOn = true
			h.cycle()
			return h.selResult.ID
		}

		It("should hand out distinct slots", func() {
			Expect(sel()).To(Equal(0))
			Expect(sel()).To(Equal(1))
			Expect(sel()).To(Equal(2))
		})

		It("should refuse selection when all slots are taken", func() {
			for i := 0; i < 4; i++ {
				sel()
			}

			h.selOn = true
			h.cycle()

			s := h.engine.LastSchedule()
			Expect(s.Rejected).To(ContainElement(h.selTrans))
		})

		It("should not hand out a slot filled by a direct insert", func() {
			h.insert(0, load(0, 0x100, 0))

			Expect(sel()).To(Equal(1))
		})
	})

	Context("fences", func() {
		It("should block selection while a fence is resident", func() {
			h.insert(0, EntryData{Op: OpFence, RobID: 0})

			Expect(h.st.FencePending()).To(BeTrue())

			h.selOn = true
			h.cycle()
			s := h.engine.LastSchedule()
			Expect(s.Rejected).To(ContainElement(h.selTrans))
		})

		It("should expose the fence within the insertion cycle", func() {
			h.insOn = true
			h.insArgs = InsertArgs{
				ID:   0,
				Data: EntryData{Op: OpFenceI, RobID: 0},
			}
			h.probeOn = true
			h.cycle()

			Expect(h.probeSeen).To(BeTrue())
		})

		It("should unblock selection once the fence retires", func() {
			h.insert(0, EntryData{Op: OpFence, RobID: 0})

			h.take(0)

			Expect(h.st.FencePending()).To(BeFalse())

			h.selOn = true
			h.cycle()
			s := h.engine.LastSchedule()
			Expect(s.Granted).To(ContainElement(h.selTrans))
			Expect(h.selResult.ID).To(Equal(0))
		})
	})

	Context("issue", func() {
		It("should refuse an entry that waits for an older one", func() {
			h.insert(0, load(0, 0x100, 0))
			h.insert(1, load(1, 0x100, 0))

			h.take(1)
			s := h.engine.LastSchedule()
			Expect(s.Rejected).To(ContainElement(h.takeTrans))
		})

		It("should release dependents when the blocker issues", func() {
			h.insert(0, load(0, 0x100, 0))
			h.insert(1, load(1, 0x100, 0))

			h.take(0)
			Expect(h.takeData.RobID).To(Equal(uint64(0)))

			h.take(1)
			s := h.engine.LastSchedule()
			Expect(s.Granted).To(ContainElement(h.takeTrans))
			Expect(h.takeData.RobID).To(Equal(uint64(1)))
			Expect(h.st.Occupancy()).To(Equal(0))
		})

		It("should refuse an entry with a pending operand", func() {
			h.insert(0, EntryData{Op: OpStore, RobID: 0, RpS2: 7, S1Val: 8})

			h.take(0)
			s := h.engine.LastSchedule()
			Expect(s.Rejected).To(ContainElement(h.takeTrans))
		})

		It("should issue after an update resolves the operand", func() {
			h.insert(0, EntryData{Op: OpLoad, RobID: 0, RpS1: 7, Imm: 4})

			h.update(7, 0x300)

			h.take(0)
			s := h.engine.LastSchedule()
			Expect(s.Granted).To(ContainElement(h.takeTrans))
			Expect(h.takeData.S1Val).To(Equal(uint64(0x300)))
		})
	})
})
