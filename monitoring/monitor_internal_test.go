package monitoring

import (
	"encoding/json"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tangosim/tango/sim"
)

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine *sim.Engine
	)

	BeforeEach(func() {
		sched := sim.NewScheduler()
		engine = sim.NewEngine(sched)

		put := sim.NewMethod("Store.Put")
		sched.RegisterMethod(put)

		writer := sim.NewTransaction("Writer")
		site := writer.Uses(put)
		writer.WithBody(func() { site.Call(nil) })
		sched.RegisterTransaction(writer)

		m = NewMonitor()
		m.RegisterEngine(engine)
	})

	It("should report the current cycle", func() {
		engine.Run(3)

		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/cycle", nil)
		m.currentCycle(w, r)

		Expect(w.Body.String()).To(Equal(`{"cycle":3}`))
	})

	It("should list the registered actions", func() {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/actions", nil)
		m.listActions(w, r)

		var actions []actionRsp
		Expect(json.Unmarshal(w.Body.Bytes(), &actions)).To(Succeed())
		Expect(actions).To(ConsistOf(
			actionRsp{Name: "Store.Put", Kind: "method"},
			actionRsp{Name: "Writer", Kind: "transaction"},
		))
	})

	It("should report an empty object before the first cycle", func() {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/schedule", nil)
		m.lastSchedule(w, r)

		Expect(w.Body.String()).To(Equal(`{}`))
	})

	It("should report the last schedule", func() {
		engine.Cycle()

		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/schedule", nil)
		m.lastSchedule(w, r)

		var rsp scheduleRsp
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Cycle).To(Equal(uint64(0)))
		Expect(rsp.Granted).To(ConsistOf("Writer"))
		Expect(rsp.Rejected).To(BeEmpty())
	})

	It("should list registered components", func() {
		m.RegisterComponent("CompA", struct{}{})
		m.RegisterComponent("CompB", struct{}{})

		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/list_components", nil)
		m.listComponents(w, r)

		Expect(w.Body.String()).To(Equal(`["CompA","CompB"]`))
	})

	It("should 404 on an unknown component", func() {
		w := httptest.NewRecorder()

		found := m.findComponentOr404(w, "Nope")

		Expect(found).To(BeNil())
		Expect(w.Code).To(Equal(404))
	})
})
