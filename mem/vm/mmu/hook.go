package mmu

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// Hook positions of an Engine.
var (
	// HookPosTranslate is invoked after each translation. The item is the
	// Result.
	HookPosTranslate = &HookPos{Name: "Translate"}

	// HookPosRebuild is invoked after the address space is rebuilt. The item
	// is the new vm.Config.
	HookPosRebuild = &HookPos{Name: "Rebuild"}

	// HookPosRemap is invoked after a page is remapped or unmapped. The item
	// is the new vm.PageTableEntry.
	HookPosRemap = &HookPos{Name: "Remap"}
)

// HookCtx is the context that holds all the information about the site that
// a hook is triggered.
type HookCtx struct {
	Domain *Engine
	Pos    *HookPos
	Item   interface{}
}

// Hook is a short piece of program that can be invoked by an Engine. Hooks
// run while the engine is locked and must not call the engine's methods.
type Hook interface {
	Func(ctx HookCtx)
}

type hookList struct {
	hooks []Hook
}

func (h *hookList) acceptHook(hook Hook) {
	for _, registered := range h.hooks {
		if registered == hook {
			panic("duplicated hook")
		}
	}

	h.hooks = append(h.hooks, hook)
}

func (h *hookList) invokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
