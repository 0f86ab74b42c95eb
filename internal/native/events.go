package native

import (
	"context"
	"strconv"
	"strings"

	"github.com/dshills/worklets/internal/event"
	"github.com/dshills/worklets/internal/shareable"
)

// RegisterEventHandler registers w for eventName and returns its id at once.
// The worklet is materialised on the UI runtime by a queued task.
func (m *Module) RegisterEventHandler(eventName string, w *shareable.Worklet) (uint64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	id := m.events.NextID()
	if err := m.registerHandler(id, eventName, w); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Module) registerHandler(id uint64, eventName string, w *shareable.Worklet) error {
	data, err := w.Encode()
	if err != nil {
		return err
	}
	return m.sched.ScheduleOnUI(func() error {
		decoded, err := shareable.Decode(data)
		if err != nil {
			return err
		}
		handle, err := decoded.Materialize(m.ui)
		if err != nil {
			return err
		}
		if err := m.events.Add(event.NewHandler(id, eventName, handle)); err != nil {
			handle.Invalidate()
			return err
		}
		m.logger.Debug("event handler %d registered for %s (%s)", id, eventName, handle)
		return nil
	})
}

// UnregisterEventHandler removes a handler. The removal is queued on the UI
// thread behind any pending registration. Unknown ids are ignored.
func (m *Module) UnregisterEventHandler(id uint64) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.sched.ScheduleOnUI(func() error {
		m.events.Unregister(id)
		return nil
	})
}

// IsAnyHandlerWaitingForEvent reports whether eventName has handlers.
func (m *Module) IsAnyHandlerWaitingForEvent(eventName string) bool {
	return m.events.IsAnyHandlerWaitingForEvent(eventName)
}

// OnEvent dispatches an event on the UI thread and waits for its handlers.
// Handler failures are reported to the error handler and also returned.
// It must not be called from a UI thread task.
func (m *Module) OnEvent(ctx context.Context, timestamp float64, eventName string, payload any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.sched.RunOnUI(ctx, func() error {
		return m.dispatch(timestamp, eventName, payload)
	})
}

// PostEvent queues an event for dispatch on the UI thread.
func (m *Module) PostEvent(timestamp float64, eventName string, payload any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.sched.ScheduleOnUI(func() error {
		// Failures were reported by the registry.
		_ = m.dispatch(timestamp, eventName, payload)
		return nil
	})
}

func (m *Module) dispatch(timestamp float64, eventName string, payload any) error {
	handlers := len(m.events.Handlers(eventName))
	if handlers == 0 {
		return nil
	}
	err := m.events.ProcessEvent(m.ui, timestamp, eventName, payload)
	m.recorder.RecordEvent(eventName, handlers)
	return err
}

// HandleRawEvent dispatches a view event, named by EventName, timestamped
// with Now. Events nobody listens for are dropped without touching the UI
// thread.
func (m *Module) HandleRawEvent(ctx context.Context, viewTag int, eventType string, payload any) error {
	name := EventName(viewTag, eventType)
	if !m.IsAnyHandlerWaitingForEvent(name) {
		return nil
	}
	return m.OnEvent(ctx, m.Now(), name, payload)
}

// EventName builds the registry name of a view event: the view tag followed
// by the event type with a leading "top" replaced by "on". Tag 7 with type
// "topScroll" gives "7onScroll".
func EventName(viewTag int, eventType string) string {
	if rest, ok := strings.CutPrefix(eventType, "top"); ok {
		eventType = "on" + rest
	}
	return strconv.Itoa(viewTag) + eventType
}
