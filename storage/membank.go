package storage

import (
	"log"

	"github.com/tangosim/tango/sim"
)

// BankWriteArgs is the argument of the MemoryBank Write method. Mask is only
// consulted when the bank is built with a write granularity; bit i of the
// mask enables writing the i-th chunk of the cell.
type BankWriteArgs struct {
	Addr uint64
	Data uint64
	Mask uint64
}

// A MemoryBank is a synchronous storage bank with one read port and one
// write port. Reads are split across cycles: ReadReq captures the address,
// ReadResp returns the data on a later cycle. Writes commit at the cycle
// edge, optionally at sub-word granularity.
//
// Under the safe hazard policy (the default), a write that targets the
// address of an in-flight read is deferred by one cycle, so the read observes
// pre-write data and same-address program order is preserved. With
// safeWrites disabled the deferral is skipped: a read issued in the same
// cycle as a write to the same address observes the new data. That mode
// trades correctness under aliasing for write throughput; callers opt in
// explicitly.
type MemoryBank struct {
	name   string
	engine *sim.Engine

	// ReadReq captures an address (uint64) for a later ReadResp. Ready iff no
	// write is pending. A second ReadReq before the matching ReadResp
	// overwrites the pending address.
	ReadReq *sim.Method

	// ReadResp returns the cell value (uint64) read at the captured address.
	// Ready only after a prior ReadReq.
	ReadResp *sim.Method

	// Write stores BankWriteArgs at the next cycle edge. Ready iff no write
	// is pending.
	Write *sim.Method

	cells       []uint64
	granularity int
	chunkBits   int
	safeWrites  bool

	readInFlight    bool
	pendingReadAddr uint64

	writePending bool
	pendingWrite BankWriteArgs

	// Combinational view of this cycle's ReadReq, consulted at the cycle
	// edge to detect a same-cycle write hazard.
	reqThisCycle      sim.CycleCount
	reqThisCycleValid bool
	reqThisCycleAddr  uint64
}

// Name returns the name of the bank.
func (b *MemoryBank) Name() string {
	return b.name
}

// NumElems returns the number of cells in the bank.
func (b *MemoryBank) NumElems() int {
	return len(b.cells)
}

func (b *MemoryBank) noWritePending() bool {
	return !b.writePending
}

func (b *MemoryBank) readReq(arg any) any {
	addr := arg.(uint64)
	b.mustBeInRange(addr)

	b.reqThisCycle = b.engine.CurrentCycle()
	b.reqThisCycleValid = true
	b.reqThisCycleAddr = addr

	b.engine.Commit(func() {
		b.pendingReadAddr = addr
		b.readInFlight = true
	})

	return nil
}

func (b *MemoryBank) respReady() bool {
	return b.readInFlight
}

func (b *MemoryBank) readResp(arg any) any {
	data := b.cells[b.pendingReadAddr]

	b.engine.Commit(func() {
		b.readInFlight = false
	})

	return data
}

func (b *MemoryBank) write(arg any) any {
	a := arg.(BankWriteArgs)
	b.mustBeInRange(a.Addr)

	if !b.safeWrites {
		b.engine.Commit(func() {
			b.applyWrite(a)
		})
		return nil
	}

	// The in-flight half of the hazard reads committed state, stable while
	// bodies run. Whether a ReadReq of this very cycle targets the address is
	// only known once every body has run, so that half of the check waits
	// until the commit closure. The decision must not depend on the order the
	// granted bodies happened to execute in.
	inFlightHazard := b.readInFlight && b.pendingReadAddr == a.Addr

	b.engine.Commit(func() {
		if inFlightHazard || b.sameCycleReadOf(a.Addr) {
			b.writePending = true
			b.pendingWrite = a
			return
		}

		b.applyWrite(a)
	})

	return nil
}

// sameCycleReadOf reports whether a ReadReq body of the current cycle
// captured addr. Only meaningful at the cycle edge, after all bodies ran.
func (b *MemoryBank) sameCycleReadOf(addr uint64) bool {
	return b.reqThisCycleValid &&
		b.reqThisCycle == b.engine.CurrentCycle() &&
		b.reqThisCycleAddr == addr
}

func (b *MemoryBank) applyWrite(a BankWriteArgs) {
	if b.granularity == 0 {
		b.cells[a.Addr] = a.Data
		return
	}

	cell := b.cells[a.Addr]
	for chunk := 0; chunk < b.granularity; chunk++ {
		if a.Mask&(1<<chunk) == 0 {
			continue
		}

		chunkMask := uint64(1)<<b.chunkBits - 1
		shift := chunk * b.chunkBits
		cell &^= chunkMask << shift
		cell |= (a.Data & (chunkMask << shift))
	}
	b.cells[a.Addr] = cell
}

func (b *MemoryBank) flushWrite(arg any) any {
	a := b.pendingWrite

	b.engine.Commit(func() {
		b.applyWrite(a)
		b.writePending = false
	})

	return nil
}

func (b *MemoryBank) mustBeInRange(addr uint64) {
	if addr >= uint64(len(b.cells)) {
		log.Panicf("%s: address %d out of range", b.name, addr)
	}
}

// MemoryBankBuilder builds memory banks.
type MemoryBankBuilder struct {
	engine      *sim.Engine
	numElems    int
	granularity int
	safeWrites  bool
}

// MakeMemoryBankBuilder returns a MemoryBankBuilder with default parameters:
// whole-cell writes and the safe hazard policy.
func MakeMemoryBankBuilder() MemoryBankBuilder {
	return MemoryBankBuilder{
		numElems:   16,
		safeWrites: true,
	}
}

// WithEngine sets the engine the bank runs on.
func (b MemoryBankBuilder) WithEngine(engine *sim.Engine) MemoryBankBuilder {
	b.engine = engine
	return b
}

// WithNumElems sets the number of cells.
func (b MemoryBankBuilder) WithNumElems(n int) MemoryBankBuilder {
	b.numElems = n
	return b
}

// WithGranularity splits each 64-bit cell into n independently maskable
// chunks. n must divide 64. Zero disables masking.
func (b MemoryBankBuilder) WithGranularity(n int) MemoryBankBuilder {
	b.granularity = n
	return b
}

// WithSafeWrites selects the hazard policy.
func (b MemoryBankBuilder) WithSafeWrites(safe bool) MemoryBankBuilder {
	b.safeWrites = safe
	return b
}

// Build creates the bank, registers its methods, and wires the internal
// deferred-write transaction.
func (b MemoryBankBuilder) Build(name string) *MemoryBank {
	sim.NameMustBeValid(name)

	if b.engine == nil {
		log.Panic("a memory bank requires an engine")
	}

	if b.numElems <= 0 {
		log.Panic("a memory bank requires at least one cell")
	}

	if b.granularity < 0 || (b.granularity > 0 && 64%b.granularity != 0) {
		log.Panicf("granularity %d does not divide the cell width",
			b.granularity)
	}

	bank := &MemoryBank{
		name:        name,
		engine:      b.engine,
		cells:       make([]uint64, b.numElems),
		granularity: b.granularity,
		safeWrites:  b.safeWrites,
	}

	if b.granularity > 0 {
		bank.chunkBits = 64 / b.granularity
	}

	bank.ReadReq = sim.NewMethod(name + ".ReadReq").
		WithReadiness(bank.noWritePending).
		WithBody(bank.readReq)
	bank.ReadResp = sim.NewMethod(name + ".ReadResp").
		WithReadiness(bank.respReady).
		WithBody(bank.readResp)
	bank.Write = sim.NewMethod(name + ".Write").
		WithReadiness(bank.noWritePending).
		WithBody(bank.write)

	sched := b.engine.Scheduler()
	sched.RegisterMethod(bank.ReadReq)
	sched.RegisterMethod(bank.ReadResp)
	sched.RegisterMethod(bank.Write)

	// The deferred write drains through an internal transaction once the
	// in-flight read has been consumed.
	flush := sim.NewMethod(name + ".FlushWrite").
		WithBody(bank.flushWrite)
	sched.RegisterMethod(flush)

	flushTrans := sim.NewTransaction(name + ".WriteDrain").
		WithRequest(func() bool {
			return bank.writePending && !bank.readInFlight
		})
	flushSite := flushTrans.Uses(flush)
	flushTrans.WithBody(func() { flushSite.Call(nil) })
	sched.RegisterTransaction(flushTrans)

	// Write and the drain path share the cell array.
	sched.AddConflict(bank.Write, flush)

	return bank
}
