// Package resv implements an out-of-order memory reservation station. Its
// centerpiece is the address-conflict dependency tracker: every inserted
// entry records which older resident entries it must wait for, based on a
// conservative address comparison.
package resv

import (
	"log"

	"github.com/tangosim/tango/sim"
)

// OpType classifies the operations held in the station.
type OpType int

// The operation classes the station distinguishes.
const (
	OpLoad OpType = iota
	OpStore
	OpFence
	OpFenceI
)

func (o OpType) isFence() bool {
	return o == OpFence || o == OpFenceI
}

// An IndicesProvider supplies the monotonically advancing base index of the
// reorder buffer. Entry ages are compared relative to this base with
// wrap-aware subtraction.
type IndicesProvider interface {
	StartIndex() uint64
}

// EntryData is the payload of one station entry. RpS1 and RpS2 are pending
// operand tags; a zero tag means the operand value is resolved. The memory
// address of the entry is S1Val + Imm, known only once RpS1 is resolved.
type EntryData struct {
	Op    OpType
	RobID uint64
	RpS1  uint64
	RpS2  uint64
	S1Val uint64
	S2Val uint64
	Imm   uint64
}

// InsertArgs is the argument of the Insert method.
type InsertArgs struct {
	ID   int
	Data EntryData
}

// UpdateArgs is the argument of the Update method, forwarding a produced
// value to every entry waiting on the tag.
type UpdateArgs struct {
	Tag   uint64
	Value uint64
}

// SelectResult is the result of the Select method.
type SelectResult struct {
	ID int
}

type stationEntry struct {
	full     bool
	reserved bool
	data     EntryData
	depends  []bool
}

// A Station is a reservation station whose entries are gated on address
// conflicts. Two accesses conflict if either address is not yet resolved, or
// if the resolved addresses are equal after discarding the low alignment
// bits. The comparison is conservative: false positives are allowed, false
// negatives are not.
//
// A fence-class operation blocks slot selection from the cycle it is
// inserted until it retires.
type Station struct {
	name   string
	engine *sim.Engine

	// Select reserves a free slot and returns a SelectResult. Ready iff a
	// slot is free and no fence is pending.
	Select *sim.Method

	// Insert fills a previously selected slot with InsertArgs, computing the
	// dependency vector against all older resident entries.
	Insert *sim.Method

	// Update forwards UpdateArgs to every entry waiting on the tag.
	Update *sim.Method

	// Take issues the entry with the given id (int), frees its slot, and
	// unblocks entries that depended on it. Its argument validator only
	// accepts ids that are ready to issue.
	Take *sim.Method

	entries []stationEntry
	freeArb *sim.MultiPriorityArbiter

	fencePending bool
	fenceSetAt   sim.CycleCount
	fenceComb    bool

	alignBits uint
	robMask   uint64
	indices   IndicesProvider
}

// Name returns the name of the station.
func (s *Station) Name() string {
	return s.name
}

// NumEntries returns the number of slots in the station.
func (s *Station) NumEntries() int {
	return len(s.entries)
}

// Occupancy returns the number of resident entries.
func (s *Station) Occupancy() int {
	count := 0
	for _, e := range s.entries {
		if e.full {
			count++
		}
	}
	return count
}

// DependsOn reports whether resident entry a waits for entry b.
func (s *Station) DependsOn(a, b int) bool {
	return s.entries[a].depends[b]
}

// FencePending reports whether a fence currently blocks slot selection.
func (s *Station) FencePending() bool {
	return s.fencePending || s.fenceBlockedComb()
}

func (s *Station) fenceBlockedComb() bool {
	return s.fenceComb && s.fenceSetAt == s.engine.CurrentCycle()
}

func (s *Station) selectReady() bool {
	if s.FencePending() {
		return false
	}

	for _, e := range s.entries {
		if !e.reserved {
			return true
		}
	}

	return false
}

func (s *Station) selectSlot(arg any) any {
	free := make([]bool, len(s.entries))
	for i, e := range s.entries {
		free[i] = !e.reserved
	}

	grant := s.freeArb.Select(free)[0]
	if !grant.Valid {
		log.Panicf("%s: select fired with no free slot", s.name)
	}

	id := grant.Index
	s.engine.Commit(func() {
		s.entries[id].reserved = true
	})

	return SelectResult{ID: id}
}

// addressOf returns the access address of a resident entry and whether it is
// resolved yet.
func (s *Station) addressOf(i int) (addr uint64, valid bool) {
	e := &s.entries[i]
	return e.data.S1Val + e.data.Imm, e.full && e.data.RpS1 == 0
}

// mayAlias applies the coarse comparison: addresses are equal after
// discarding the bits that distinguish sub-word offsets.
func (s *Station) mayAlias(addr1, addr2 uint64) bool {
	return addr1>>s.alignBits == addr2>>s.alignBits
}

// isOlder compares two reorder-buffer ids relative to the advancing base
// index, so that wrap-around does not invert ages.
func (s *Station) isOlder(robA, robB uint64) bool {
	base := s.indices.StartIndex()
	return (robA-base)&s.robMask < (robB-base)&s.robMask
}

func (s *Station) insert(arg any) any {
	a := arg.(InsertArgs)

	if a.ID < 0 || a.ID >= len(s.entries) {
		log.Panicf("%s: insert into slot %d out of range", s.name, a.ID)
	}

	if a.Data.Op.isFence() {
		s.fenceComb = true
		s.fenceSetAt = s.engine.CurrentCycle()
		s.engine.Commit(func() {
			s.fencePending = true
		})
	}

	newAddr := a.Data.S1Val + a.Data.Imm
	newAddrValid := a.Data.RpS1 == 0

	depends := make([]bool, len(s.entries))
	for i := range s.entries {
		if i == a.ID || !s.entries[i].full {
			continue
		}

		if !s.isOlder(s.entries[i].data.RobID, a.Data.RobID) {
			continue
		}

		addr, valid := s.addressOf(i)
		depends[i] = !valid || !newAddrValid || s.mayAlias(addr, newAddr)
	}

	id := a.ID
	data := a.Data
	s.engine.Commit(func() {
		s.entries[id].full = true
		s.entries[id].reserved = true
		s.entries[id].data = data
		s.entries[id].depends = depends
	})

	return nil
}

func (s *Station) update(arg any) any {
	a := arg.(UpdateArgs)

	if a.Tag == 0 {
		log.Panicf("%s: update with the null tag", s.name)
	}

	var fills []func()
	for i := range s.entries {
		e := &s.entries[i]
		if !e.full {
			continue
		}

		i := i
		if e.data.RpS1 == a.Tag {
			fills = append(fills, func() {
				s.entries[i].data.RpS1 = 0
				s.entries[i].data.S1Val = a.Value
			})
		}
		if e.data.RpS2 == a.Tag {
			fills = append(fills, func() {
				s.entries[i].data.RpS2 = 0
				s.entries[i].data.S2Val = a.Value
			})
		}
	}

	s.engine.Commit(func() {
		for _, fill := range fills {
			fill()
		}
	})

	return nil
}

// issuable reports whether an entry has all operands, and every entry it
// depends on has already completed.
func (s *Station) issuable(id int) bool {
	e := &s.entries[id]
	if !e.full || e.data.RpS1 != 0 || e.data.RpS2 != 0 {
		return false
	}

	for i, dep := range e.depends {
		if dep && s.entries[i].full {
			return false
		}
	}

	return true
}

// NextIssuable returns the lowest-indexed entry that is ready to issue, if
// any. It is a convenient argument source for Take call sites.
func (s *Station) NextIssuable() (int, bool) {
	for i := range s.entries {
		if s.issuable(i) {
			return i, true
		}
	}

	return 0, false
}

func (s *Station) takeReady() bool {
	for i := range s.entries {
		if s.issuable(i) {
			return true
		}
	}

	return false
}

func (s *Station) validateTake(arg any) bool {
	id, ok := arg.(int)
	if !ok || id < 0 || id >= len(s.entries) {
		return false
	}

	return s.issuable(id)
}

func (s *Station) take(arg any) any {
	id := arg.(int)
	data := s.entries[id].data

	s.engine.Commit(func() {
		s.entries[id].full = false
		s.entries[id].reserved = false

		for i := range s.entries {
			if s.entries[i].depends != nil {
				s.entries[i].depends[id] = false
			}
		}

		if data.Op.isFence() {
			s.fencePending = false
		}
	})

	return data
}

// StationBuilder builds reservation stations.
type StationBuilder struct {
	engine     *sim.Engine
	numEntries int
	alignBits  uint
	robIDBits  uint
	indices    IndicesProvider
}

// MakeStationBuilder returns a StationBuilder with default parameters:
// four entries, word alignment (2 bits), and 8-bit reorder-buffer ids.
func MakeStationBuilder() StationBuilder {
	return StationBuilder{
		numEntries: 4,
		alignBits:  2,
		robIDBits:  8,
	}
}

// WithEngine sets the engine the station runs on.
func (b StationBuilder) WithEngine(engine *sim.Engine) StationBuilder {
	b.engine = engine
	return b
}

// WithNumEntries sets the number of slots.
func (b StationBuilder) WithNumEntries(n int) StationBuilder {
	b.numEntries = n
	return b
}

// WithAlignBits sets how many low address bits are ignored by the conflict
// comparison. Narrower accesses may justify a smaller value.
func (b StationBuilder) WithAlignBits(n uint) StationBuilder {
	b.alignBits = n
	return b
}

// WithRobIDBits sets the width of reorder-buffer ids for wrap-aware age
// comparison.
func (b StationBuilder) WithRobIDBits(n uint) StationBuilder {
	b.robIDBits = n
	return b
}

// WithIndicesProvider sets the provider of the reorder-buffer base index.
func (b StationBuilder) WithIndicesProvider(p IndicesProvider) StationBuilder {
	b.indices = p
	return b
}

// Build creates the station and registers its methods.
func (b StationBuilder) Build(name string) *Station {
	sim.NameMustBeValid(name)

	if b.engine == nil {
		log.Panic("a station requires an engine")
	}

	if b.indices == nil {
		log.Panic("a station requires an indices provider")
	}

	if b.numEntries <= 0 {
		log.Panic("a station requires at least one entry")
	}

	if b.robIDBits == 0 || b.robIDBits > 64 {
		log.Panicf("invalid reorder-buffer id width %d", b.robIDBits)
	}

	s := &Station{
		name:      name,
		engine:    b.engine,
		entries:   make([]stationEntry, b.numEntries),
		freeArb:   sim.NewMultiPriorityArbiter(b.numEntries, 1),
		alignBits: b.alignBits,
		robMask:   1<<b.robIDBits - 1,
		indices:   b.indices,
	}

	s.Select = sim.NewMethod(name + ".Select").
		WithReadiness(s.selectReady).
		WithBody(s.selectSlot)
	s.Insert = sim.NewMethod(name + ".Insert").
		WithBody(s.insert)
	s.Update = sim.NewMethod(name + ".Update").
		WithBody(s.update)
	s.Take = sim.NewMethod(name + ".Take").
		WithReadiness(s.takeReady).
		WithArgValidator(s.validateTake).
		WithBody(s.take)

	sched := b.engine.Scheduler()
	sched.RegisterMethod(s.Select)
	sched.RegisterMethod(s.Insert)
	sched.RegisterMethod(s.Update)
	sched.RegisterMethod(s.Take)

	return s
}
