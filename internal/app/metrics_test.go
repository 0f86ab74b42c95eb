package app

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/worklets/internal/native"
)

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	require.NotNil(t, c.Registry())

	c.RecordFrame(time.Millisecond)
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "worklets_frame_rendered_total")
	assert.Contains(t, names, "worklets_uptime_seconds")
}

func TestCollector_Records(t *testing.T) {
	c := NewCollector("test")

	c.RecordFrame(2 * time.Millisecond)
	c.RecordFrame(3 * time.Millisecond)
	c.RecordEvent("onTap", 2)
	c.RecordEvent("onTap", 1)
	c.RecordMapperRun(4, time.Millisecond)
	c.RecordWorkletError("exception")
	c.RecordWorkletError("")
	c.RecordReload(nil)
	c.RecordReload(errors.New("bad file"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.frames))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("onTap")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.eventHandlers.WithLabelValues("onTap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mapperRuns))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.mappersRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workletErrors.WithLabelValues("exception")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workletErrors.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("error")))
}

func TestCollector_WatchStats(t *testing.T) {
	c := NewCollector("test")
	stats := native.Stats{Handlers: 3, Mappers: 2, SharedValues: 5}

	c.WatchStats(func() native.Stats { return stats })
	assert.NotPanics(t, func() {
		c.WatchStats(func() native.Stats { return native.Stats{} })
	})

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		if len(f.GetMetric()) == 1 && f.GetMetric()[0].GetGauge() != nil {
			values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, values["test_event_handlers"])
	assert.Equal(t, 2.0, values["test_mapper_active"])
	assert.Equal(t, 5.0, values["test_shared_values"])
	assert.Equal(t, 0.0, values["test_thread_ui_pending"])
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.RecordEvent("onScroll", 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `test_event_dispatched_total{event="onScroll"} 1`), string(body))
}
