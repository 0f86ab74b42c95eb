package native

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/errorhandler"
	"github.com/dshills/worklets/internal/scheduler"
	"github.com/dshills/worklets/internal/shareable"
)

func startModule(t *testing.T, cfg Config, opts ...Option) (*Module, context.Context) {
	t.Helper()
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	if cfg.ErrorMode == "" {
		cfg.ErrorMode = errorhandler.ModeProduction
	}
	m, err := New(cfg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Scheduler().Run(ctx) }()
	t.Cleanup(func() {
		_ = m.Close()
		cancel()
		<-done
	})
	return m, ctx
}

func sharedValue(t *testing.T, m *Module, key string) any {
	t.Helper()
	v, ok := m.Store().Get(key)
	require.True(t, ok, "shared value %q not set", key)
	return v
}

func jsWorklet(t *testing.T, name, source string) *shareable.Worklet {
	t.Helper()
	w, err := shareable.New(name, engine.KindJS, source, nil)
	require.NoError(t, err)
	return w
}

func TestEventName(t *testing.T) {
	tests := []struct {
		tag  int
		typ  string
		want string
	}{
		{7, "topScroll", "7onScroll"},
		{12, "topTouchStart", "12onTouchStart"},
		{3, "onLayout", "3onLayout"},
		{0, "custom", "0custom"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, EventName(tt.tag, tt.typ))
		})
	}
}

func TestNewUnknownEngine(t *testing.T) {
	_, err := New(Config{Engine: "python"})
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestRegisterEventHandlerFromScript(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	err := m.Eval(ctx, "app.js", `
		var id = registerEventHandler("7onScroll", function onScroll(e) { setShared("y", e.y); });
		setShared("id", id);
	`)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, int64(1), sharedValue(t, m, "id"))
	require.True(t, m.IsAnyHandlerWaitingForEvent("7onScroll"))

	h, ok := m.Events().Get(1)
	require.True(t, ok)
	assert.Equal(t, "onScroll", h.Handle().Name())

	require.NoError(t, m.HandleRawEvent(ctx, 7, "topScroll", map[string]any{"y": 5}))
	assert.Equal(t, int64(5), sharedValue(t, m, "y"))
}

func TestHandleRawEventWithoutHandlers(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	require.NoError(t, m.HandleRawEvent(ctx, 1, "topScroll", nil))
	assert.Equal(t, uint64(0), m.Scheduler().UI.Executed())
}

func TestUnregisterFromScript(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	err := m.Eval(ctx, "app.js", `
		var id = registerEventHandler("onTap", function (e) {});
		unregisterEventHandler(id);
	`)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	assert.False(t, m.IsAnyHandlerWaitingForEvent("onTap"))
	assert.Equal(t, 0, m.Events().Count())
	assert.Equal(t, uint64(0), m.ErrorHandler().Count())
}

func TestRegisterEventHandlerFromGo(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	id, err := m.RegisterEventHandler("onTap", jsWorklet(t, "tap", "function tap(e) { setShared('n', e.n) }"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	// The registration task runs before the event on the UI thread.
	require.NoError(t, m.OnEvent(ctx, 0, "onTap", map[string]any{"n": 3}))
	assert.Equal(t, int64(3), sharedValue(t, m, "n"))

	require.NoError(t, m.UnregisterEventHandler(id))
	require.NoError(t, m.Flush(ctx))
	assert.False(t, m.IsAnyHandlerWaitingForEvent("onTap"))

	// Unknown ids are ignored.
	require.NoError(t, m.UnregisterEventHandler(99))
}

func TestEventTimestampGlobal(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	_, err := m.RegisterEventHandler("onX", jsWorklet(t, "", "function () { setShared('ts', _eventTimestamp) }"))
	require.NoError(t, err)

	require.NoError(t, m.OnEvent(ctx, 42.5, "onX", nil))
	assert.Equal(t, 42.5, sharedValue(t, m, "ts"))
}

func TestHandlerFailureIsReported(t *testing.T) {
	var mu sync.Mutex
	var fatal []*errorhandler.WorkletError
	m, ctx := startModule(t, Config{Engine: engine.KindJS, ErrorMode: errorhandler.ModeDev},
		WithFatalHandler(func(we *errorhandler.WorkletError) {
			mu.Lock()
			fatal = append(fatal, we)
			mu.Unlock()
		}))

	_, err := m.RegisterEventHandler("onTap", jsWorklet(t, "bad", `function bad() { throw new Error("boom") }`))
	require.NoError(t, err)
	_, err = m.RegisterEventHandler("onTap", jsWorklet(t, "good", `function good() { setShared("good", true) }`))
	require.NoError(t, err)

	err = m.OnEvent(ctx, 0, "onTap", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, true, sharedValue(t, m, "good"))
	assert.Equal(t, uint64(1), m.ErrorHandler().Count())
	assert.Equal(t, "bad", m.ErrorHandler().LastError().Worklet)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fatal, 1)
	assert.Contains(t, fatal[0].Message, "boom")
}

func TestMapperFromGo(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	id, err := m.StartMapper(jsWorklet(t, "double", "function double(i) { return { out: i.x * 2 } }"),
		[]string{"x"}, []string{"out"})
	require.NoError(t, err)

	m.Store().Set("x", int64(3))
	require.NoError(t, m.OnRender(ctx, 16))
	assert.Equal(t, int64(6), sharedValue(t, m, "out"))

	m.Store().Set("x", int64(5))
	assert.True(t, m.NeedsFrame())
	require.NoError(t, m.OnRender(ctx, 32))
	assert.Equal(t, int64(10), sharedValue(t, m, "out"))
	assert.False(t, m.NeedsFrame())

	assert.True(t, m.StopMapper(id))
	assert.False(t, m.StopMapper(id))
}

func TestMapperFromScript(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	err := m.Eval(ctx, "app.js", `
		setShared("a", 1);
		var id = startMapper(function inc(i) { return { b: i.a + 1 } }, ["a"], ["b"]);
		setShared("mapper", id);
	`)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	require.NoError(t, m.OnRender(ctx, 16))
	assert.Equal(t, int64(2), sharedValue(t, m, "b"))

	mp, ok := m.Mappers().Get(1)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, mp.Inputs())

	require.NoError(t, m.Eval(ctx, "stop.js", `stopMapper(getShared("mapper"))`))
	assert.Equal(t, 0, m.Mappers().Count())
}

func TestRequestAnimationFrame(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	err := m.RunOnUI(jsWorklet(t, "", `function () {
		requestAnimationFrame(function onFrame(ts) { setShared("frame", ts) })
	}`))
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))
	assert.Equal(t, 1, m.Stats().FrameCallbacks)

	require.NoError(t, m.OnRender(ctx, 16.5))
	assert.Equal(t, 16.5, sharedValue(t, m, "frame"))
	assert.Equal(t, 0, m.Stats().FrameCallbacks)
}

func TestFrameCallbackFailure(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	err := m.RunOnUI(jsWorklet(t, "", `function () {
		requestAnimationFrame(function broken() { null.x })
	}`))
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	err = m.OnRender(ctx, 1)
	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, "broken", cbErr.Worklet)
	assert.Equal(t, uint64(1), m.ErrorHandler().Count())
}

func TestRunOnUIFromScript(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	require.NoError(t, m.Eval(ctx, "app.js", `runOnUI(function (v) { setShared("ui", v) }, 7)`))
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, int64(7), sharedValue(t, m, "ui"))
}

func TestRunOnJSFromUI(t *testing.T) {
	m, _ := startModule(t, Config{Engine: engine.KindJS})

	err := m.RunOnUI(jsWorklet(t, "", `function () {
		runOnJS(function (v) { setShared("back", v) }, "js")
	}`))
	require.NoError(t, err)

	// UI call, UI capture, then the JS call.
	assert.Eventually(t, func() bool {
		v, _ := m.Store().Get("back")
		return v == "js"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBadHostArguments(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	tests := []string{
		`registerEventHandler(42, function () {})`,
		`registerEventHandler("onX")`,
		`unregisterEventHandler("one")`,
		`startMapper(function () {}, "a", [])`,
		`getShared()`,
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			err := m.Eval(ctx, "bad.js", src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "bad argument")
		})
	}
}

func TestLuaModule(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindLua})

	err := m.Eval(ctx, "app.lua", `
		registerEventHandler("onTap", { name = "tap", source = "function(e) setShared('tapped', e.n) end" })
		startMapper("function(i) return { sum = i.a + i.b } end", {"a", "b"}, {"sum"})
	`)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	require.NoError(t, m.OnEvent(ctx, 0, "onTap", map[string]any{"n": 3}))
	assert.Equal(t, int64(3), sharedValue(t, m, "tapped"))

	h, ok := m.Events().Get(1)
	require.True(t, ok)
	assert.Equal(t, "tap", h.Handle().Name())

	m.Store().Set("a", int64(1))
	m.Store().Set("b", int64(2))
	require.NoError(t, m.OnRender(ctx, 16))
	assert.Equal(t, int64(3), sharedValue(t, m, "sum"))
}

func TestLuaFunctionCannotBeShared(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindLua})

	require.NoError(t, m.Eval(ctx, "app.lua", `registerEventHandler("onX", function(e) end)`))
	require.NoError(t, m.Flush(ctx))

	assert.False(t, m.IsAnyHandlerWaitingForEvent("onX"))
	require.NotNil(t, m.ErrorHandler().LastError())
	assert.ErrorIs(t, m.ErrorHandler().LastError(), engine.ErrCaptureUnsupported)
}

func TestClose(t *testing.T) {
	m, ctx := startModule(t, Config{Engine: engine.KindJS})

	_, err := m.RegisterEventHandler("onTap", jsWorklet(t, "tap", "function tap() {}"))
	require.NoError(t, err)
	_, err = m.StartMapper(jsWorklet(t, "m", "function m() {}"), nil, []string{"o"})
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	h, ok := m.Events().Get(1)
	require.True(t, ok)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.True(t, m.Closed())
	assert.Equal(t, 0, m.Events().Count())
	assert.Equal(t, 0, m.Mappers().Count())
	assert.False(t, h.Handle().Valid())
	assert.True(t, m.JSRuntime().Closed())
	assert.True(t, m.UIRuntime().Closed())

	_, err = m.RegisterEventHandler("onTap", jsWorklet(t, "tap", "function tap() {}"))
	assert.ErrorIs(t, err, ErrModuleClosed)
	assert.ErrorIs(t, m.OnRender(ctx, 0), ErrModuleClosed)
}

type testRecorder struct {
	mu      sync.Mutex
	frames  int
	events  map[string]int
	mappers int
	errors  []string
}

func (r *testRecorder) RecordWorkletError(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, source)
}

func (r *testRecorder) RecordFrame(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

func (r *testRecorder) RecordEvent(name string, handlers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[name] += handlers
}

func (r *testRecorder) RecordMapperRun(ran int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers += ran
}

func TestRecorder(t *testing.T) {
	rec := &testRecorder{events: make(map[string]int)}
	m, ctx := startModule(t, Config{Engine: engine.KindJS}, WithRecorder(rec))

	_, err := m.RegisterEventHandler("onTap", jsWorklet(t, "", "function () {}"))
	require.NoError(t, err)
	_, err = m.StartMapper(jsWorklet(t, "", "function () { return {} }"), nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.OnEvent(ctx, 0, "onTap", nil))
	require.NoError(t, m.OnRender(ctx, 0))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.frames)
	assert.Equal(t, map[string]int{"onTap": 1}, rec.events)
	assert.Equal(t, 1, rec.mappers)
}

func TestFrameLoopDrivesMappers(t *testing.T) {
	m, _ := startModule(t, Config{Engine: engine.KindJS})

	_, err := m.StartMapper(jsWorklet(t, "", "function () { return { ticked: true } }"), nil, []string{"ticked"})
	require.NoError(t, err)

	loop, err := scheduler.NewFrameLoop(m.Scheduler().UI, 120, m.FrameFunc())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, true, sharedValue(t, m, "ticked"))
}
