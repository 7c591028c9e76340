package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/infrastructure/messaging"
)

var (
	_ command.EngineObserver = (*Metrics)(nil)
	_ messaging.Observer     = (*Metrics)(nil)
)

func TestMetrics_EngineAndEvents(t *testing.T) {
	m := New(false)

	m.ObserveCompletion("credited", 3*time.Millisecond)
	m.ObserveCompletion("credited", 4*time.Millisecond)
	m.ObserveCompletion("already_completed", time.Millisecond)
	m.ObserveRetry(2)
	m.ObserveRankUp("Apprentice")
	m.ObservePublish("progression.quest_completed")
	m.ObserveHandler("progression.quest_completed", time.Millisecond, false)
	m.ObserveJob("streak_reminder", time.Second, true)
	m.ObserveReminder("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.completions.WithLabelValues("credited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completions.WithLabelValues("already_completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rankUps.WithLabelValues("Apprentice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventHandlers.WithLabelValues("progression.quest_completed", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("streak_reminder", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reminders.WithLabelValues("sent")))
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := New(false)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Post("/api/quests/{id}/complete", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/quests/"+id+"/complete", nil))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/quests/{id}/complete", "201")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ascend_http_requests_total")
}
