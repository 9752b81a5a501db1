// Package luaexec runs user Lua scripts on a single VM.
package luaexec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// ErrClosed is returned when the executor is closed
var ErrClosed = errors.New("lua executor closed")

// ErrNoFunction is returned when a called global is not a function
var ErrNoFunction = errors.New("lua function not defined")

// Executor owns one Lua VM. gopher-lua states are not goroutine safe, so
// every call takes the executor lock.
type Executor struct {
	mu     sync.Mutex
	L      *lua.LState
	name   string
	closed bool
}

// NewFile loads a script file and runs its top-level chunk.
func NewFile(path string) (*Executor, error) {
	e := newExecutor(path)
	if err := e.L.DoFile(path); err != nil {
		e.L.Close()
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Info().Str("script", path).Msg("Loaded Lua script")
	return e, nil
}

// NewString loads a script from source. Used by tests and inline config.
func NewString(name, source string) (*Executor, error) {
	e := newExecutor(name)
	if err := e.L.DoString(source); err != nil {
		e.L.Close()
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return e, nil
}

func newExecutor(name string) *Executor {
	L := lua.NewState()
	L.PreloadModule("log", NewLogModule(name).Loader)
	return &Executor{L: L, name: name}
}

// HasFunction reports whether the script defines a global function.
func (e *Executor) HasFunction(fn string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	_, ok := e.L.GetGlobal(fn).(*lua.LFunction)
	return ok
}

// Call invokes a global function with Go arguments and converts its single
// return value back to Go.
func (e *Executor) Call(fn string, args ...any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	f, ok := e.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoFunction, fn, e.name)
	}

	e.L.Push(f)
	for _, a := range args {
		e.L.Push(GoToLua(e.L, a))
	}
	if err := e.L.PCall(len(args), 1, nil); err != nil {
		return nil, fmt.Errorf("%s: %s failed: %w", e.name, fn, err)
	}

	ret := e.L.Get(-1)
	e.L.Pop(1)
	return LuaToGo(ret), nil
}

// Close releases the VM
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.L.Close()
}
