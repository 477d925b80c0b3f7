package sim

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookPosCycleStart triggers right before a cycle is evaluated.
var HookPosCycleStart = &HookPos{Name: "Cycle Start"}

// HookPosCycleEnd triggers after the cycle's state updates are committed.
var HookPosCycleEnd = &HookPos{Name: "Cycle End"}

// HookPosTransactionGrant marks a transaction being granted for this cycle.
var HookPosTransactionGrant = &HookPos{Name: "Transaction Grant"}

// HookPosTransactionReject marks a requesting transaction that was not
// granted this cycle.
var HookPosTransactionReject = &HookPos{Name: "Transaction Reject"}

// HookPosMethodFire marks a method body being executed.
var HookPosMethodFire = &HookPos{Name: "Method Fire"}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accepts Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)
}

// Hook is a short piece of program that can be invoked by a hookable object.
// Hooks observe the scheduling process; they never influence it.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// A HookableBase provides some utility functions for types that implement
// the Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.Hooks)
}

// InvokeHook triggers the registered Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
