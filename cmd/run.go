package cmd

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tangosim/tango/datarecording"
	"github.com/tangosim/tango/monitoring"
	"github.com/tangosim/tango/resv"
	"github.com/tangosim/tango/sim"
	"github.com/tangosim/tango/storage"
	"github.com/tangosim/tango/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a random workload that exercises the built-in components.",
	Long: `The run command builds a small system out of a ` +
		`content-addressable memory, a memory bank, and a reservation ` +
		`station, drives it with a random workload, and reports ` +
		`scheduling statistics.`,
	Run: runDemo,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("cycles", 1000,
		"number of cycles to simulate")
	runCmd.Flags().Int64("seed", 1,
		"random seed of the workload")
	runCmd.Flags().String("db", "",
		"record the schedule into an SQLite database at this path")
	runCmd.Flags().Int("monitor-port", 0,
		"serve the monitoring API on this port")
}

func runDemo(cmd *cobra.Command, _ []string) {
	// A .env file can provide TANGO_* defaults for any flag not set on the
	// command line.
	_ = godotenv.Load()

	cycles := intFlag(cmd, "cycles", "TANGO_CYCLES")
	seed := int64(intFlag(cmd, "seed", "TANGO_SEED"))
	dbPath := stringFlag(cmd, "db", "TANGO_DB")
	monitorPort := intFlag(cmd, "monitor-port", "TANGO_MONITOR_PORT")

	d := newDemoWorkload(seed)

	latency := tracing.NewGrantLatencyTracer(d.engine, func(t tracing.Task) bool {
		return t.Kind == "wait"
	})
	fires := tracing.NewFireCountTracer(nil)
	tracing.CollectSchedule(d.engine, latency)
	tracing.CollectSchedule(d.engine, fires)

	var recorder datarecording.DataRecorder
	if dbPath != "" {
		recorder = datarecording.New(dbPath)
		datarecording.RecordSchedule(d.engine, recorder)
	}

	if monitorPort > 0 {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		monitor.RegisterEngine(d.engine)
		monitor.RegisterComponent("CAM", d.cam)
		monitor.RegisterComponent("Bank", d.bank)
		monitor.RegisterComponent("RS", d.station)
		monitor.StartServer()
	}

	for i := 0; i < cycles; i++ {
		d.roll()
		d.engine.Cycle()
	}

	if recorder != nil {
		recorder.Flush()
	}

	d.report(cycles, latency, fires)
}

func intFlag(cmd *cobra.Command, name, envKey string) int {
	if !cmd.Flags().Changed(name) {
		if v, ok := os.LookupEnv(envKey); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Fatalf("%s must be an integer, got %q", envKey, v)
			}
			return n
		}
	}

	n, err := cmd.Flags().GetInt(name)
	if err != nil {
		n64, err64 := cmd.Flags().GetInt64(name)
		if err64 != nil {
			log.Fatal(err)
		}
		return int(n64)
	}

	return n
}

func stringFlag(cmd *cobra.Command, name, envKey string) string {
	if !cmd.Flags().Changed(name) {
		if v, ok := os.LookupEnv(envKey); ok {
			return v
		}
	}

	s, err := cmd.Flags().GetString(name)
	if err != nil {
		log.Fatal(err)
	}

	return s
}

// demoWorkload owns the simulated system and the per-cycle random stimulus.
// The stimulus fields are read by the request predicates and argument
// functions; roll refreshes them before every cycle.
type demoWorkload struct {
	engine *sim.Engine
	rng    *rand.Rand

	cam     *storage.CAM
	bank    *storage.MemoryBank
	station *resv.Station

	pushOn    bool
	pushArgs  storage.CAMPushArgs
	popOn     bool
	popKey    uint64
	writeOn   bool
	writeArgs storage.BankWriteArgs
	readOn    bool
	readAddr  uint64
	enqOn     bool
	enqData   resv.EntryData

	robNext uint64

	// Reorder-buffer ids of the entries resident in the station, in
	// insertion order. The head is the oldest in-flight instruction.
	robLive []uint64
}

// StartIndex reports the reorder-buffer base for wrap-aware age comparison:
// the oldest in-flight id, or the next id when the station is empty.
func (d *demoWorkload) StartIndex() uint64 {
	if len(d.robLive) > 0 {
		return d.robLive[0]
	}

	return d.robNext
}

func newDemoWorkload(seed int64) *demoWorkload {
	d := &demoWorkload{
		rng: rand.New(rand.NewSource(seed)),
	}

	sched := sim.NewScheduler()
	d.engine = sim.NewEngine(sched)

	d.cam = storage.MakeCAMBuilder().
		WithEngine(d.engine).
		WithNumSlots(8).
		Build("CAM")
	d.bank = storage.MakeMemoryBankBuilder().
		WithEngine(d.engine).
		WithNumElems(16).
		Build("Bank")
	d.station = resv.MakeStationBuilder().
		WithEngine(d.engine).
		WithNumEntries(4).
		WithIndicesProvider(d).
		Build("RS")

	d.buildCAMTraffic(sched)
	d.buildBankTraffic(sched)
	d.buildStationTraffic(sched)

	return d
}

func (d *demoWorkload) buildCAMTraffic(sched *sim.Scheduler) {
	producer := sim.NewTransaction("CamProducer").
		WithRequest(func() bool { return d.pushOn })
	pushSite := producer.Uses(d.cam.Push).
		WithArgs(func() any { return d.pushArgs })
	producer.WithBody(func() { pushSite.Call(nil) })
	sched.RegisterTransaction(producer)

	consumer := sim.NewTransaction("CamConsumer").
		WithRequest(func() bool { return d.popOn })
	popSite := consumer.Uses(d.cam.Pop).
		WithArgs(func() any { return d.popKey })
	consumer.WithBody(func() { popSite.Call(nil) })
	sched.RegisterTransaction(consumer)
}

func (d *demoWorkload) buildBankTraffic(sched *sim.Scheduler) {
	writer := sim.NewTransaction("BankWriter").
		WithRequest(func() bool { return d.writeOn })
	writeSite := writer.Uses(d.bank.Write).
		WithArgs(func() any { return d.writeArgs })
	writer.WithBody(func() { writeSite.Call(nil) })
	sched.RegisterTransaction(writer)

	reader := sim.NewTransaction("BankReader").
		WithRequest(func() bool { return d.readOn })
	reqSite := reader.Uses(d.bank.ReadReq).
		WithArgs(func() any { return d.readAddr })
	reader.WithBody(func() { reqSite.Call(nil) })
	sched.RegisterTransaction(reader)

	collector := sim.NewTransaction("BankCollector")
	respSite := collector.Uses(d.bank.ReadResp)
	collector.WithBody(func() { respSite.Call(nil) })
	sched.RegisterTransaction(collector)
}

func (d *demoWorkload) buildStationTraffic(sched *sim.Scheduler) {
	enqueue := sim.NewTransaction("RsEnqueue").
		WithRequest(func() bool { return d.enqOn })
	selSite := enqueue.Uses(d.station.Select)
	insSite := enqueue.Uses(d.station.Insert)
	enqueue.WithBody(func() {
		slot := selSite.Call(nil).(resv.SelectResult)
		data := d.enqData
		insSite.Call(resv.InsertArgs{ID: slot.ID, Data: data})
		d.engine.Commit(func() {
			d.robLive = append(d.robLive, data.RobID)
			d.robNext++
		})
	})
	sched.RegisterTransaction(enqueue)

	issue := sim.NewTransaction("RsIssue")
	takeSite := issue.Uses(d.station.Take).
		WithArgs(func() any {
			id, _ := d.station.NextIssuable()
			return id
		})
	issue.WithBody(func() {
		taken := takeSite.Call(nil).(resv.EntryData)
		d.engine.Commit(func() { d.retire(taken.RobID) })
	})
	sched.RegisterTransaction(issue)
}

func (d *demoWorkload) retire(robID uint64) {
	for i, id := range d.robLive {
		if id == robID {
			d.robLive = append(d.robLive[:i], d.robLive[i+1:]...)
			return
		}
	}
}

// roll refreshes the stimulus for the next cycle.
func (d *demoWorkload) roll() {
	d.pushOn = d.rng.Intn(2) == 0
	d.pushArgs = storage.CAMPushArgs{
		Key:   uint64(d.rng.Intn(16)),
		Value: uint64(d.rng.Intn(1000)),
	}

	d.popOn = d.rng.Intn(2) == 0
	d.popKey = uint64(d.rng.Intn(16))

	d.writeOn = d.rng.Intn(5) < 2
	d.writeArgs = storage.BankWriteArgs{
		Addr: uint64(d.rng.Intn(16)),
		Data: d.rng.Uint64(),
	}

	d.readOn = d.rng.Intn(5) < 2
	d.readAddr = uint64(d.rng.Intn(16))

	d.enqOn = d.rng.Intn(2) == 0
	op := resv.OpLoad
	switch {
	case d.rng.Intn(16) == 0:
		op = resv.OpFence
	case d.rng.Intn(2) == 0:
		op = resv.OpStore
	}
	d.enqData = resv.EntryData{
		Op:    op,
		RobID: d.robNext,
		S1Val: uint64(d.rng.Intn(64)),
		Imm:   uint64(d.rng.Intn(16)),
	}
}

func (d *demoWorkload) report(
	cycles int,
	latency *tracing.GrantLatencyTracer,
	fires *tracing.FireCountTracer,
) {
	fmt.Printf("Simulated %d cycles\n", cycles)
	fmt.Printf("Average grant wait: %.2f cycles over %d grants\n",
		latency.AverageCycles(), latency.TotalCount())

	sched := d.engine.Scheduler()
	fmt.Println("Grants per transaction:")
	for _, tx := range sched.Transactions() {
		fmt.Printf("  %-20s %d\n", tx.Name(), fires.CountOf(tx.Name()))
	}
	fmt.Println("Firings per method:")
	for _, m := range sched.Methods() {
		fmt.Printf("  %-20s %d\n", m.Name(), fires.CountOf(m.Name()))
	}
}
