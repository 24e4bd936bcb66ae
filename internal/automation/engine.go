//go:build !no_automation

// Package automation runs user Lua scripts against gateway events. Scripts
// subscribe to readings with energy.on and raise alerts with energy.alert.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigbee-energy-gateway/internal/gateway"
)

// runTimeout bounds one-shot script runs.
const runTimeout = 5 * time.Second

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool                `json:"ok"`
	Error    string              `json:"error,omitempty"`
	Logs     []string            `json:"logs"`
	Alerts   []gateway.AlertData `json:"alerts"`
	Duration string              `json:"duration"`
}

// luaEventHandler is a registered Lua callback for a specific event pattern.
type luaEventHandler struct {
	eventType string
	ieee      string // only this device (empty = any)
	field     string // only readings carrying this field (empty = any)
	fn        *lua.LFunction
}

// scriptVM is a Lua VM for a single script.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// dry runs collect logs and alerts instead of emitting them
	dryRun bool
	logs   []string
	alerts []gateway.AlertData
}

// Engine manages Lua VMs and dispatches gateway events to scripts.
type Engine struct {
	gw      *gateway.Gateway
	manager *Manager
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(gw *gateway.Gateway, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		gw:      gw,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		now:     time.Now,
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.gw.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	running := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", running)
}

// Stop cancels all VMs and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running reports whether a script VM is loaded.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript stops the old VM (if any) and starts a new one when the script
// is enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a saved script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: "0s"}
	}
	return e.runDry(id, s.LuaCode)
}

// RunLuaCode executes code once in a temporary VM. Handlers registered with
// energy.on are invoked with the current state of their device. Alerts are
// collected in the result rather than published.
func (e *Engine) RunLuaCode(code string) *RunResult {
	return e.runDry("_inline", code)
}

func (e *Engine) runDry(id, code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		dryRun:   true,
	}
	e.registerModules(L, vm)

	result := func(err error) *RunResult {
		r := &RunResult{OK: err == nil, Logs: vm.logs, Alerts: vm.alerts, Duration: time.Since(start).String()}
		if r.Logs == nil {
			r.Logs = []string{}
		}
		if r.Alerts == nil {
			r.Alerts = []gateway.AlertData{}
		}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (" + runTimeout.String() + ")"
			}
			e.logger.Warn("script run failed", "id", id, "err", r.Error)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}

	vm.mu.Lock()
	handlers := make([]luaEventHandler, len(vm.handlers))
	copy(handlers, vm.handlers)
	vm.mu.Unlock()

	for _, h := range handlers {
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, e.syntheticEvent(L, h)); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

// syntheticEvent builds the event a dry run passes to a handler: a reading
// made of the device's stored state.
func (e *Engine) syntheticEvent(L *lua.LState, h luaEventHandler) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("type", lua.LString(h.eventType))
	if h.ieee == "" {
		return tbl
	}
	dev := e.resolveDevice(h.ieee)
	if dev == nil {
		tbl.RawSetString("ieee", lua.LString(h.ieee))
		return tbl
	}
	tbl.RawSetString("ieee", lua.LString(dev.IEEEAddress))
	tbl.RawSetString("name", lua.LString(dev.FriendlyName))
	tbl.RawSetString("model", lua.LString(dev.Model))
	tbl.RawSetString("fields", goToLua(L, dev.State))
	tbl.RawSetString("state", goToLua(L, dev.State))
	if h.field != "" {
		tbl.RawSetString("field", lua.LString(h.field))
		tbl.RawSetString("value", goToLua(L, dev.State[h.field]))
	}
	return tbl
}

// newSandbox creates a Lua state without filesystem, process or module
// loading access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) registerModules(L *lua.LState, vm *scriptVM) {
	registerEnergyModule(L, vm, e)
	registerSystemModule(L, vm, e)
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := newSandbox()
	vm := &scriptVM{
		id:       s.ID,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.registerModules(L, vm)

	// Top-level code registers handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent routes a gateway event to all matching Lua handlers.
func (e *Engine) dispatchEvent(event gateway.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) {
				e.callHandler(L, vm, h, event)
			}:
			default:
				e.logger.Warn("script command channel full, dropping event", "script", vm.id, "type", event.Type)
			}
		}
	}
}

// eventSubject returns the device address and name an event refers to.
func eventSubject(event gateway.Event) (ieee, name string) {
	switch d := event.Data.(type) {
	case gateway.ReadingData:
		return d.IEEE, d.FriendlyName
	case gateway.DeviceData:
		return d.IEEE, d.FriendlyName
	case gateway.AlertData:
		return d.IEEE, d.FriendlyName
	}
	return "", ""
}

func matchesHandler(h luaEventHandler, event gateway.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if h.ieee != "" {
		ieee, name := eventSubject(event)
		if !strings.EqualFold(h.ieee, ieee) && !strings.EqualFold(h.ieee, name) {
			return false
		}
	}
	if h.field != "" {
		data, ok := event.Data.(gateway.ReadingData)
		if !ok {
			return false
		}
		if _, ok := data.Fields[h.field]; !ok {
			return false
		}
	}
	return true
}

// eventTable converts an event to the table handlers receive.
func eventTable(L *lua.LState, h luaEventHandler, event gateway.Event) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("type", lua.LString(event.Type))

	switch d := event.Data.(type) {
	case gateway.ReadingData:
		tbl.RawSetString("ieee", lua.LString(d.IEEE))
		tbl.RawSetString("name", lua.LString(d.FriendlyName))
		tbl.RawSetString("model", lua.LString(d.Model))
		tbl.RawSetString("endpoint", lua.LNumber(d.Endpoint))
		tbl.RawSetString("cluster", lua.LNumber(d.Cluster))
		tbl.RawSetString("fields", goToLua(L, d.Fields))
		tbl.RawSetString("state", goToLua(L, d.State))
		if h.field != "" {
			tbl.RawSetString("field", lua.LString(h.field))
			tbl.RawSetString("value", goToLua(L, d.Fields[h.field]))
		}
	case gateway.DeviceData:
		tbl.RawSetString("ieee", lua.LString(d.IEEE))
		tbl.RawSetString("name", lua.LString(d.FriendlyName))
		tbl.RawSetString("model", lua.LString(d.Model))
	case gateway.AlertData:
		tbl.RawSetString("ieee", lua.LString(d.IEEE))
		tbl.RawSetString("name", lua.LString(d.FriendlyName))
		tbl.RawSetString("script", lua.LString(d.Script))
		tbl.RawSetString("level", lua.LString(d.Level))
		tbl.RawSetString("message", lua.LString(d.Message))
	}
	return tbl
}

func (e *Engine) callHandler(L *lua.LState, vm *scriptVM, h luaEventHandler, event gateway.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "script", vm.id, "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{
		Fn:      h.fn,
		NRet:    0,
		Protect: true,
	}, eventTable(L, h, event)); err != nil {
		e.logger.Error("lua handler error", "script", vm.id, "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
