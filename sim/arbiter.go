package sim

import "log"

// An ArbiterGrant is one output of an arbiter: the granted input index, or an
// invalid slot if fewer inputs requested than the arbiter has outputs.
type ArbiterGrant struct {
	Index int
	Valid bool
}

// A MultiPriorityArbiter grants up to NumOutputs of its requesting inputs,
// lower indices first.
type MultiPriorityArbiter struct {
	NumInputs  int
	NumOutputs int
}

// NewMultiPriorityArbiter creates an arbiter over numInputs request lines
// with numOutputs grant slots.
func NewMultiPriorityArbiter(numInputs, numOutputs int) *MultiPriorityArbiter {
	if numInputs <= 0 || numOutputs <= 0 {
		log.Panicf("invalid arbiter shape %d x %d", numInputs, numOutputs)
	}

	return &MultiPriorityArbiter{
		NumInputs:  numInputs,
		NumOutputs: numOutputs,
	}
}

// Select fills the grant slots with the requesting indices in ascending
// order. Grants beyond the number of requesters are marked invalid.
func (a *MultiPriorityArbiter) Select(requests []bool) []ArbiterGrant {
	if len(requests) != a.NumInputs {
		log.Panicf("arbiter expects %d request lines, got %d",
			a.NumInputs, len(requests))
	}

	grants := make([]ArbiterGrant, a.NumOutputs)

	slot := 0
	for i, req := range requests {
		if !req {
			continue
		}

		grants[slot] = ArbiterGrant{Index: i, Valid: true}
		slot++
		if slot == a.NumOutputs {
			break
		}
	}

	return grants
}

// A RingArbiter grants requesting inputs inside a wrapping window
// [first, last), ordered by position in the window. With last < first the
// window wraps past the highest index; first == last denotes an empty
// window.
type RingArbiter struct {
	NumInputs  int
	NumOutputs int
}

// NewRingArbiter creates a ring arbiter over numInputs request lines with
// numOutputs grant slots.
func NewRingArbiter(numInputs, numOutputs int) *RingArbiter {
	if numInputs <= 0 || numOutputs <= 0 {
		log.Panicf("invalid arbiter shape %d x %d", numInputs, numOutputs)
	}

	return &RingArbiter{
		NumInputs:  numInputs,
		NumOutputs: numOutputs,
	}
}

// Select fills the grant slots with the requesting indices of the window, in
// window position order.
func (a *RingArbiter) Select(requests []bool, first, last int) []ArbiterGrant {
	if len(requests) != a.NumInputs {
		log.Panicf("arbiter expects %d request lines, got %d",
			a.NumInputs, len(requests))
	}

	if first < 0 || first >= a.NumInputs || last < 0 || last >= a.NumInputs {
		log.Panicf("window [%d, %d) out of range", first, last)
	}

	grants := make([]ArbiterGrant, a.NumOutputs)

	end := last
	if end < first {
		end += a.NumInputs
	}

	slot := 0
	for i := first; i < end && slot < a.NumOutputs; i++ {
		index := i % a.NumInputs
		if !requests[index] {
			continue
		}

		grants[slot] = ArbiterGrant{Index: index, Valid: true}
		slot++
	}

	return grants
}
