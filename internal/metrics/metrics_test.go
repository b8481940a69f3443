package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("Counters", func(t *testing.T) {
		t.Parallel()
		m := New()
		m.FileIndexed("ok")
		m.FileIndexed("ok")
		m.FileIndexed("partial")
		m.FileRemoved()
		m.QueryTimedOut()
		m.BundleAssembled(500, 3)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.filesIndexed.WithLabelValues("ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.filesIndexed.WithLabelValues("partial")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.filesRemoved))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.queryTimeouts))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.droppedChunks))
	})

	t.Run("NilIsNoop", func(t *testing.T) {
		t.Parallel()
		var m *Metrics
		assert.NotPanics(t, func() {
			m.FileIndexed("ok")
			m.FileRemoved()
			m.BuildFinished(time.Second)
			m.PhaseFinished("lexical", time.Millisecond)
			m.QueryTimedOut()
			m.BundleAssembled(1, 1)
		})
	})

	t.Run("Handler", func(t *testing.T) {
		t.Parallel()
		m := New()
		m.PhaseFinished("lexical", 10*time.Millisecond)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `repoctx_query_phase_duration_seconds_count{phase="lexical"} 1`))
	})
}
