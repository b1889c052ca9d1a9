// Package scripting runs Lua bot brains. Each arena owns its own Engine; a
// Lua VM is not safe for concurrent use.
package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DecideFunc is the global a bot script must define:
//
//	function bot_decide(view) ... return number_or_nil end
const DecideFunc = "bot_decide"

// Engine wraps a single gopher-lua VM.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates an empty VM with the standard libraries loaded.
func NewEngine(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	return &Engine{vm: vm, log: log}
}

// Load reads a script file, or every .lua file of a directory in name order.
func (e *Engine) Load(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return e.loadFile(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		if err := e.loadFile(filepath.Join(path, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadFile(path string) error {
	if err := e.vm.DoFile(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	e.log.Debug("loaded lua script", zap.String("file", path))
	return nil
}

// LoadString runs src in the VM, typically to define bot_decide.
func (e *Engine) LoadString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("load inline script: %w", err)
	}
	return nil
}

// HasDecide reports whether a bot_decide function is defined.
func (e *Engine) HasDecide() bool {
	return e.vm.GetGlobal(DecideFunc).Type() == lua.LTFunction
}

// View is what a bot sees when it decides. Fields are exposed to Lua as a
// flat table next to player and tick.
type View struct {
	Player uint32
	Tick   uint64
	Fields map[string]float64
}

// Decide calls bot_decide(view). A nil or false return means no input this
// tick. The call is interrupted when ctx is done.
func (e *Engine) Decide(ctx context.Context, view View) (float64, bool, error) {
	fn := e.vm.GetGlobal(DecideFunc)
	if fn.Type() != lua.LTFunction {
		return 0, false, nil
	}

	t := e.vm.NewTable()
	t.RawSetString("player", lua.LNumber(view.Player))
	t.RawSetString("tick", lua.LNumber(view.Tick))
	for k, v := range view.Fields {
		t.RawSetString(k, lua.LNumber(v))
	}

	e.vm.SetContext(ctx)
	defer e.vm.RemoveContext()

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, fmt.Errorf("lua %s: %w", DecideFunc, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	switch v := result.(type) {
	case lua.LNumber:
		return float64(v), true, nil
	case *lua.LNilType, lua.LBool:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("lua %s returned %s, want number", DecideFunc, result.Type())
	}
}

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}
