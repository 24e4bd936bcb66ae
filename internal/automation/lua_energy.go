//go:build !no_automation

package automation

import (
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/store"
	"zigbee-energy-gateway/internal/wire"
)

const (
	maxHandlersPerScript = 100
	maxAlertLength       = 1024
)

// registerEnergyModule registers the `energy` global table in a Lua state.
func registerEnergyModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return energyOn(L, vm)
	}))
	mod.RawSetString("state", L.NewFunction(func(L *lua.LState) int {
		return energyState(L, e)
	}))
	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return energyDevices(L, e)
	}))
	mod.RawSetString("alert", L.NewFunction(func(L *lua.LState) int {
		return energyAlert(L, vm, e)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return energyAfter(L, vm, e)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return energyLog(L, vm, e)
	}))

	L.SetGlobal("energy", mod)
}

// energy.on(type, filter, callback); filter may name ieee and field.
func energyOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filter := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{eventType: eventType, fn: fn}
	if v := filter.RawGetString("ieee"); v != lua.LNil {
		h.ieee = v.String()
		if norm, err := wire.NormalizeIEEE(h.ieee); err == nil {
			h.ieee = norm
		}
	}
	if v := filter.RawGetString("field"); v != lua.LNil {
		h.field = v.String()
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// energy.state(ieee_or_name [, field]) returns the merged state table, or one
// field of it. Unknown devices yield nil.
func energyState(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	field := L.OptString(2, "")

	dev := e.resolveDevice(target)
	if dev == nil {
		L.Push(lua.LNil)
		return 1
	}
	if field != "" {
		L.Push(goToLua(L, dev.State[field]))
		return 1
	}
	L.Push(goToLua(L, dev.State))
	return 1
}

// energy.devices() returns a list of {ieee, name, model, last_seen}.
func energyDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	devices, err := e.gw.Devices()
	if err != nil {
		e.logger.Error("list devices", "err", err)
		L.Push(tbl)
		return 1
	}
	for i, dev := range devices {
		d := L.NewTable()
		d.RawSetString("ieee", lua.LString(dev.IEEEAddress))
		d.RawSetString("name", lua.LString(dev.FriendlyName))
		d.RawSetString("model", lua.LString(dev.Model))
		d.RawSetString("last_seen", lua.LNumber(dev.LastSeen.Unix()))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// energy.alert(ieee_or_name, message [, level]) raises an alert event. An
// empty target raises a gateway-wide alert.
func energyAlert(L *lua.LState, vm *scriptVM, e *Engine) int {
	target := L.CheckString(1)
	msg := L.CheckString(2)
	level := L.OptString(3, "warning")
	if len(msg) > maxAlertLength {
		msg = msg[:maxAlertLength]
	}

	alert := gateway.AlertData{
		Script:  vm.id,
		Level:   level,
		Message: msg,
		Time:    e.now(),
	}
	if target != "" {
		dev := e.resolveDevice(target)
		if dev == nil {
			e.logger.Warn("alert for unknown device", "script", vm.id, "target", target)
			return 0
		}
		alert.IEEE, alert.FriendlyName = dev.IEEEAddress, dev.FriendlyName
	}

	if vm.dryRun {
		vm.alerts = append(vm.alerts, alert)
		return 0
	}
	e.logger.Info("script alert", "script", vm.id, "ieee", alert.IEEE, "level", level, "msg", msg)
	e.gw.Events().Emit(gateway.Event{Type: gateway.EventAlert, Data: alert})
	return 0
}

// energy.after(seconds, callback) runs callback later on the script's VM.
func energyAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	if vm.dryRun {
		vm.logs = append(vm.logs, fmt.Sprintf("after(%v) callback skipped in test run", seconds))
		return 0
	}

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "script", vm.id, "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full", "script", vm.id)
		}
	}()
	return 0
}

// energy.log(msg)
func energyLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.dryRun {
		vm.logs = append(vm.logs, msg)
	}
	e.logger.Info("script log", "script", vm.id, "msg", msg)
	return 0
}

// resolveDevice finds a device by IEEE address or friendly name.
func (e *Engine) resolveDevice(target string) *store.Device {
	if ieee, err := wire.NormalizeIEEE(target); err == nil {
		if dev, err := e.gw.Device(ieee); err == nil {
			return dev
		}
	}

	devices, err := e.gw.Devices()
	if err != nil {
		return nil
	}
	for _, dev := range devices {
		if dev.FriendlyName != "" && strings.EqualFold(dev.FriendlyName, target) {
			return dev
		}
	}
	return nil
}
