package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRateLimitDecision(t *testing.T) {
	r := New()

	r.RateLimitDecision("free", true)
	r.RateLimitDecision("free", true)
	r.RateLimitDecision("demo", false)

	require.Equal(t, 2.0, testutil.ToFloat64(r.rateLimitDecisions.WithLabelValues("free", OutcomeAdmitted)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.rateLimitDecisions.WithLabelValues("demo", OutcomeRejected)))
	require.Equal(t, 0.0, testutil.ToFloat64(r.rateLimitDecisions.WithLabelValues("demo", OutcomeAdmitted)))
}

func TestScoringAndArchive(t *testing.T) {
	r := New()

	r.ScoringResult(ScoreOK, time.Second)
	r.ScoringResult(ScoreFallback, 2*time.Second)
	r.ArchiveFailure("demo_uploads")

	require.Equal(t, 1.0, testutil.ToFloat64(r.scoring.WithLabelValues(ScoreFallback)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.archiveFailures.WithLabelValues("demo_uploads")))
	require.Equal(t, 1, testutil.CollectAndCount(r.scoringLatency))
}

func TestHandlerServesNamespacedMetrics(t *testing.T) {
	r := New(WithNamespace("test"))
	r.HTTPRequest("/api/demo", http.MethodPost, http.StatusTooManyRequests, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `test_http_requests_total{code="429",method="POST",route="/api/demo"} 1`), string(body))
}

func TestRuntimeCollectorsAreOptional(t *testing.T) {
	plain, err := New().Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range plain {
		require.False(t, strings.HasPrefix(mf.GetName(), "go_"), mf.GetName())
	}

	withRuntime, err := New(WithRuntimeCollectors()).Gatherer().Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range withRuntime {
		if mf.GetName() == "go_goroutines" {
			found = true
		}
	}
	require.True(t, found)
}
