// Package hooking lets observers attach to simulation objects without the
// objects knowing what is observing them.
package hooking

// HookPos names a site that invokes hooks. Positions are compared by
// pointer, so each one is declared once as a package variable.
type HookPos struct {
	Name string
}

// HookCtx describes one hook invocation.
type HookCtx struct {
	// Domain is the object invoking the hooks.
	Domain Hookable

	// Pos is the site that fired.
	Pos *HookPos

	// Item is the subject of the invocation, such as an event or a task
	// record.
	Item any

	// Detail is optional extra data.
	Detail any
}

// Hook is called by the objects it is attached to.
type Hook interface {
	Func(ctx HookCtx)
}

// Hookable is an object that hooks can attach to. Hooks are attached before
// the simulation starts and stay until it ends.
type Hookable interface {
	AcceptHook(hook Hook)
	NumHooks() int
	InvokeHook(ctx HookCtx)
}

// HookableBase implements Hookable for embedding.
type HookableBase struct {
	hooks []Hook
}

// NewHookableBase creates a HookableBase without hooks.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// NumHooks returns how many hooks are attached. Objects check it to skip
// building hook contexts nobody would see.
func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

// AcceptHook attaches a hook. Attaching the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	for _, attached := range h.hooks {
		if attached == hook {
			panic("hook attached twice")
		}
	}

	h.hooks = append(h.hooks, hook)
}

// InvokeHook calls the hooks in the order they were attached.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
