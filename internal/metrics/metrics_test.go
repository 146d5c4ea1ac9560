package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.Classifications.WithLabelValues("related", "").Inc()
	m.Streams.WithLabelValues("completed").Add(2)
	m.ActiveStreams.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Classifications.WithLabelValues("related", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Streams.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Streams.WithLabelValues("busy").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chat_streams_total{outcome="busy"} 1`)
}

func TestNewIsIsolated(t *testing.T) {
	// 每个实例使用独立 Registry，重复创建不会冲突
	a, b := New(), New()
	a.Streams.WithLabelValues("completed").Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Streams.WithLabelValues("completed")))
}
