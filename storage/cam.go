// Package storage provides transactional storage components: a content
// addressable memory and a single-read-port, single-write-port memory bank.
// Each component exclusively owns its cells; external actions interact with
// it only by calling the methods it declares.
package storage

import (
	"log"

	"github.com/tangosim/tango/sim"
)

// CAMPushArgs is the argument of the CAM Push method.
type CAMPushArgs struct {
	Key   uint64
	Value uint64
}

// CAMPopResult is the result of the CAM Pop method. When NotFound is set, the
// value is unspecified.
type CAMPopResult struct {
	Value    uint64
	NotFound bool
}

type camSlot struct {
	valid bool
	key   uint64
	value uint64
}

// A CAM is a content-addressable memory: a bounded set of (key, value) slots
// searched by key rather than by index. Push inserts into the lowest-indexed
// free slot; Pop looks a key up, returns its value, and removes it. If
// several slots hold the same key, the lowest-indexed match is returned.
type CAM struct {
	name   string
	engine *sim.Engine

	// Push inserts a CAMPushArgs pair. Ready iff at least one slot is free;
	// the inserted slot becomes valid at the next cycle edge.
	Push *sim.Method

	// Pop looks up a key (uint64) and returns a CAMPopResult. Always ready;
	// a miss is flagged, not an error.
	Pop *sim.Method

	slots    []camSlot
	freeArb  *sim.MultiPriorityArbiter
	matchArb *sim.MultiPriorityArbiter
}

// NumSlots returns the total number of slots.
func (c *CAM) NumSlots() int {
	return len(c.slots)
}

// Occupancy returns the number of valid slots.
func (c *CAM) Occupancy() int {
	count := 0
	for _, s := range c.slots {
		if s.valid {
			count++
		}
	}
	return count
}

// Name returns the name of the CAM.
func (c *CAM) Name() string {
	return c.name
}

func (c *CAM) hasFreeSlot() bool {
	for _, s := range c.slots {
		if !s.valid {
			return true
		}
	}
	return false
}

func (c *CAM) push(arg any) any {
	a := arg.(CAMPushArgs)

	free := make([]bool, len(c.slots))
	for i, s := range c.slots {
		free[i] = !s.valid
	}

	grant := c.freeArb.Select(free)[0]
	if !grant.Valid {
		log.Panicf("%s: push fired with no free slot", c.name)
	}

	id := grant.Index
	c.engine.Commit(func() {
		c.slots[id] = camSlot{valid: true, key: a.Key, value: a.Value}
	})

	return nil
}

func (c *CAM) pop(arg any) any {
	key := arg.(uint64)

	matches := make([]bool, len(c.slots))
	for i, s := range c.slots {
		matches[i] = s.valid && s.key == key
	}

	grant := c.matchArb.Select(matches)[0]
	if !grant.Valid {
		return CAMPopResult{NotFound: true}
	}

	id := grant.Index
	value := c.slots[id].value
	c.engine.Commit(func() {
		c.slots[id].valid = false
	})

	return CAMPopResult{Value: value}
}

// CAMBuilder builds content-addressable memories.
type CAMBuilder struct {
	engine   *sim.Engine
	numSlots int
}

// MakeCAMBuilder returns a CAMBuilder with default parameters.
func MakeCAMBuilder() CAMBuilder {
	return CAMBuilder{numSlots: 8}
}

// WithEngine sets the engine the CAM runs on.
func (b CAMBuilder) WithEngine(engine *sim.Engine) CAMBuilder {
	b.engine = engine
	return b
}

// WithNumSlots sets the number of slots.
func (b CAMBuilder) WithNumSlots(n int) CAMBuilder {
	b.numSlots = n
	return b
}

// Build creates the CAM and registers its methods with the engine's
// scheduler.
func (b CAMBuilder) Build(name string) *CAM {
	sim.NameMustBeValid(name)

	if b.engine == nil {
		log.Panic("a CAM requires an engine")
	}

	if b.numSlots <= 0 {
		log.Panic("a CAM requires at least one slot")
	}

	c := &CAM{
		name:     name,
		engine:   b.engine,
		slots:    make([]camSlot, b.numSlots),
		freeArb:  sim.NewMultiPriorityArbiter(b.numSlots, 1),
		matchArb: sim.NewMultiPriorityArbiter(b.numSlots, 1),
	}

	c.Push = sim.NewMethod(name + ".Push").
		WithReadiness(c.hasFreeSlot).
		WithBody(c.push)
	c.Pop = sim.NewMethod(name + ".Pop").
		WithBody(c.pop)

	sched := b.engine.Scheduler()
	sched.RegisterMethod(c.Push)
	sched.RegisterMethod(c.Pop)

	return c
}
