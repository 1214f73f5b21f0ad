package lua

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hooks runs a Lua script's on_join, on_disconnect, on_speedrun_start and
// on_speedrun_end functions when the server fires the matching callback.
// Functions the script does not define are skipped. Player ids are passed as
// strings.
type Hooks struct {
	vm     *VM
	name   string
	logger *zap.Logger
}

func LoadHooks(scriptPath string, api *RelayAPI, logger *zap.Logger) (*Hooks, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vm := NewVM()

	if api != nil {
		api.RegisterFunctions(vm)
	}

	if err := vm.LoadFile(scriptPath); err != nil {
		return nil, fmt.Errorf("failed to load hooks script: %w", err)
	}

	name, err := vm.GetGlobalString("name")
	if err != nil {
		name = "lua_hooks"
	}

	h := &Hooks{
		vm:     vm,
		name:   name,
		logger: logger,
	}

	if vm.HasFunction("on_init") {
		if err := vm.CallFunction("on_init"); err != nil {
			return nil, fmt.Errorf("failed to call on_init: %w", err)
		}
	}

	return h, nil
}

func (h *Hooks) Name() string {
	return h.name
}

func (h *Hooks) OnJoin(id uuid.UUID, name string, reconnect bool) {
	h.call("on_join", id.String(), name, reconnect)
}

func (h *Hooks) OnDisconnect(id uuid.UUID) {
	h.call("on_disconnect", id.String())
}

func (h *Hooks) OnSpeedrunStart(id uuid.UUID) {
	h.call("on_speedrun_start", id.String())
}

func (h *Hooks) OnSpeedrunEnd(id uuid.UUID) {
	h.call("on_speedrun_end", id.String())
}

func (h *Hooks) call(fn string, args ...any) {
	if !h.vm.HasFunction(fn) {
		return
	}

	if err := h.vm.CallFunction(fn, args...); err != nil {
		h.logger.Error("lua hook error", zap.String("hook", fn), zap.String("script", h.name), zap.Error(err))
	}
}
