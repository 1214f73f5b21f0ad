package lua

import (
	"fmt"
	"os"
	"sync"

	"github.com/Shopify/go-lua"
)

// VM is one Lua state. A state is not safe for concurrent use, so every call
// into it goes through mu.
type VM struct {
	state *lua.State
	mu    sync.Mutex
}

func NewVM() *VM {
	state := lua.NewState()
	openSafeLibraries(state)
	return &VM{state: state}
}

func openSafeLibraries(state *lua.State) {
	lua.OpenLibraries(state)

	state.PushNil()
	state.SetGlobal("io")

	state.PushNil()
	state.SetGlobal("os")

	state.PushNil()
	state.SetGlobal("debug")

	state.PushNil()
	state.SetGlobal("dofile")

	state.PushNil()
	state.SetGlobal("loadfile")
}

func (vm *VM) LoadFile(path string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := lua.DoFile(vm.state, path); err != nil {
		return fmt.Errorf("failed to load lua file %s: %w", path, err)
	}
	return nil
}

func (vm *VM) GetGlobalString(name string) (string, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.state.Global(name)
	if !vm.state.IsString(-1) {
		vm.state.Pop(1)
		return "", fmt.Errorf("global %s is not a string", name)
	}
	value, _ := vm.state.ToString(-1)
	vm.state.Pop(1)
	return value, nil
}

func (vm *VM) HasFunction(name string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.state.Global(name)
	isFunc := vm.state.IsFunction(-1)
	vm.state.Pop(1)
	return isFunc
}

// CallFunction calls the global function name, discarding its results.
func (vm *VM) CallFunction(name string, args ...any) error {
	_, err := vm.call(name, 0, args...)
	return err
}

// call calls the global function name and converts its first numReturns
// results to Go values. Values other than strings, numbers and booleans come
// back as nil.
func (vm *VM) call(name string, numReturns int, args ...any) ([]any, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.state.Global(name)
	if !vm.state.IsFunction(-1) {
		vm.state.Pop(1)
		return nil, fmt.Errorf("global %s is not a function", name)
	}

	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			vm.state.PushString(v)
		case int:
			vm.state.PushInteger(v)
		case float64:
			vm.state.PushNumber(v)
		case bool:
			vm.state.PushBoolean(v)
		default:
			vm.state.Pop(i + 1)
			return nil, fmt.Errorf("unsupported argument type: %T", arg)
		}
	}

	if err := vm.state.ProtectedCall(len(args), numReturns, 0); err != nil {
		return nil, fmt.Errorf("[Lua Error] function %s: %w", name, err)
	}

	results := make([]any, numReturns)
	for i := range numReturns {
		idx := i - numReturns
		switch vm.state.TypeOf(idx) {
		case lua.TypeNumber:
			value, _ := vm.state.ToNumber(idx)
			results[i] = value
		case lua.TypeString:
			value, _ := vm.state.ToString(idx)
			results[i] = value
		case lua.TypeBoolean:
			results[i] = vm.state.ToBoolean(idx)
		}
	}
	vm.state.Pop(numReturns)

	return results, nil
}

// Do runs fn with exclusive access to the state, for callers that push their
// own arguments.
func (vm *VM) Do(fn func(state *lua.State) error) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return fn(vm.state)
}

func (vm *VM) RegisterFunction(name string, fn lua.Function) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.state.Register(name, fn)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
