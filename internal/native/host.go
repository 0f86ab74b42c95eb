package native

import (
	"fmt"
	"strings"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/shareable"
)

// Host functions run while their runtime is locked, so they never call back
// into it. Anything that needs the runtime (capturing a function's source)
// is queued on the runtime's own thread and runs after the current call.

func (m *Module) installJSHost() error {
	funcs := map[string]engine.HostFunc{
		"registerEventHandler":   m.hostRegisterEventHandler,
		"unregisterEventHandler": m.hostUnregisterEventHandler,
		"startMapper":            m.hostStartMapper,
		"stopMapper":             m.hostStopMapper,
		"runOnUI":                m.hostRunOnUI,
	}
	for name, fn := range m.commonHost() {
		funcs[name] = fn
	}
	return register(m.js, funcs)
}

func (m *Module) installUIHost() error {
	funcs := map[string]engine.HostFunc{
		"requestAnimationFrame": m.hostRequestAnimationFrame,
		"runOnJS":               m.hostRunOnJS,
	}
	for name, fn := range m.commonHost() {
		funcs[name] = fn
	}
	return register(m.ui, funcs)
}

func (m *Module) commonHost() map[string]engine.HostFunc {
	return map[string]engine.HostFunc{
		"getShared": m.hostGetShared,
		"setShared": m.hostSetShared,
		"_log":      m.hostLog,
		"_now":      m.hostNow,
	}
}

func register(rt engine.Runtime, funcs map[string]engine.HostFunc) error {
	for name, fn := range funcs {
		if err := rt.RegisterFunc(name, fn); err != nil {
			return fmt.Errorf("register %s on %s runtime: %w", name, rt.Kind(), err)
		}
	}
	return nil
}

// registerEventHandler(eventName, worklet[, closure]) -> id
func (m *Module) hostRegisterEventHandler(args []any) (any, error) {
	eventName, err := stringArg("registerEventHandler", args, 0)
	if err != nil {
		return nil, err
	}
	value, err := valueArg("registerEventHandler", args, 1)
	if err != nil {
		return nil, err
	}
	closure := mapArg(args, 2)

	id := m.events.NextID()
	err = m.sched.ScheduleOnJS(func() error {
		w, err := shareable.FromValue(m.js, value, closure)
		if err != nil {
			return fmt.Errorf("registerEventHandler %q: %w", eventName, err)
		}
		return m.registerHandler(id, eventName, w)
	})
	if err != nil {
		return nil, err
	}
	return int64(id), nil
}

// unregisterEventHandler(id)
func (m *Module) hostUnregisterEventHandler(args []any) (any, error) {
	id, err := idArg("unregisterEventHandler", args, 0)
	if err != nil {
		return nil, err
	}
	// Queued behind any pending registration from this runtime.
	return nil, m.sched.ScheduleOnJS(func() error {
		return m.UnregisterEventHandler(id)
	})
}

// startMapper(worklet, inputs, outputs[, closure]) -> id
func (m *Module) hostStartMapper(args []any) (any, error) {
	value, err := valueArg("startMapper", args, 0)
	if err != nil {
		return nil, err
	}
	inputs, err := keysArg("startMapper", args, 1)
	if err != nil {
		return nil, err
	}
	outputs, err := keysArg("startMapper", args, 2)
	if err != nil {
		return nil, err
	}
	closure := mapArg(args, 3)

	body := newLazyBody()
	id, err := m.mappers.Start(body, inputs, outputs)
	if err != nil {
		return nil, err
	}
	err = m.sched.ScheduleOnJS(func() error {
		w, err := shareable.FromValue(m.js, value, closure)
		if err != nil {
			m.mappers.Stop(id)
			return fmt.Errorf("startMapper: %w", err)
		}
		if err := body.resolve(w); err != nil {
			m.mappers.Stop(id)
			return err
		}
		m.mappers.MarkDirty(id)
		return nil
	})
	if err != nil {
		m.mappers.Stop(id)
		return nil, err
	}
	return int64(id), nil
}

// stopMapper(id)
func (m *Module) hostStopMapper(args []any) (any, error) {
	id, err := idArg("stopMapper", args, 0)
	if err != nil {
		return nil, err
	}
	m.mappers.Stop(id)
	return nil, nil
}

// runOnUI(worklet, ...args)
func (m *Module) hostRunOnUI(args []any) (any, error) {
	value, err := valueArg("runOnUI", args, 0)
	if err != nil {
		return nil, err
	}
	rest := append([]any(nil), args[1:]...)
	return nil, m.sched.ScheduleOnJS(func() error {
		w, err := shareable.FromValue(m.js, value, nil)
		if err != nil {
			return fmt.Errorf("runOnUI: %w", err)
		}
		return m.RunOnUI(w, rest...)
	})
}

// runOnJS(worklet, ...args)
func (m *Module) hostRunOnJS(args []any) (any, error) {
	value, err := valueArg("runOnJS", args, 0)
	if err != nil {
		return nil, err
	}
	rest := append([]any(nil), args[1:]...)
	return nil, m.sched.ScheduleOnUI(func() error {
		w, err := shareable.FromValue(m.ui, value, nil)
		if err != nil {
			return fmt.Errorf("runOnJS: %w", err)
		}
		return m.RunOnJS(w, rest...)
	})
}

// requestAnimationFrame(fn)
func (m *Module) hostRequestAnimationFrame(args []any) (any, error) {
	value, err := valueArg("requestAnimationFrame", args, 0)
	if err != nil {
		return nil, err
	}
	fn, ok := value.(engine.Function)
	if !ok {
		return nil, badArgument("requestAnimationFrame", 0, "function", value)
	}
	m.frameMu.Lock()
	m.frameCallbacks = append(m.frameCallbacks, fn)
	m.frameMu.Unlock()
	return nil, nil
}

// getShared(key) -> value
func (m *Module) hostGetShared(args []any) (any, error) {
	key, err := stringArg("getShared", args, 0)
	if err != nil {
		return nil, err
	}
	v, _ := m.store.Get(key)
	return v, nil
}

// setShared(key, value)
func (m *Module) hostSetShared(args []any) (any, error) {
	key, err := stringArg("setShared", args, 0)
	if err != nil {
		return nil, err
	}
	var value any
	if len(args) > 1 {
		value = args[1]
	}
	if _, isFn := value.(engine.Function); isFn {
		return nil, badArgument("setShared", 1, "plain value", value)
	}
	m.store.Set(key, value)
	return nil, nil
}

// _log(...)
func (m *Module) hostLog(args []any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	m.logger.Info("%s", strings.Join(parts, " "))
	return nil, nil
}

// _now() -> ms
func (m *Module) hostNow([]any) (any, error) {
	return m.Now(), nil
}

func valueArg(fn string, args []any, i int) (any, error) {
	if i >= len(args) || args[i] == nil {
		return nil, fmt.Errorf("%s: argument %d: %w: missing", fn, i+1, ErrBadArgument)
	}
	return args[i], nil
}

func stringArg(fn string, args []any, i int) (string, error) {
	v, err := valueArg(fn, args, i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", badArgument(fn, i, "string", v)
	}
	return s, nil
}

func idArg(fn string, args []any, i int) (uint64, error) {
	v, err := valueArg(fn, args, i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return uint64(n), nil
		}
	case float64:
		if n > 0 && n == float64(uint64(n)) {
			return uint64(n), nil
		}
	case uint64:
		return n, nil
	}
	return 0, badArgument(fn, i, "positive integer id", v)
}

// keysArg accepts a list of strings. Lua passes an empty table as a map.
func keysArg(fn string, args []any, i int) ([]string, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	switch v := args[i].(type) {
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, badArgument(fn, i, "list of strings", args[i])
			}
			keys = append(keys, s)
		}
		return keys, nil
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	}
	return nil, badArgument(fn, i, "list of strings", args[i])
}

func mapArg(args []any, i int) map[string]any {
	if i >= len(args) {
		return nil
	}
	m, _ := args[i].(map[string]any)
	return m
}
