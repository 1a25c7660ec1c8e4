package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Exchange(ModeQuery, ResultSuccess)
	m.Exchange(ModeQuery, ResultSuccess)
	m.Exchange(ModeStream, ResultError)
	m.Evicted(2)
	m.Evicted(0)
	m.TokenLimitRejected()
	m.Fallback()
	m.Fragment()
	m.Fragment()
	m.EngineLatency(ModeQuery, 300*time.Millisecond)

	if got := testutil.ToFloat64(m.exchanges.WithLabelValues(ModeQuery, ResultSuccess)); got != 2 {
		t.Errorf("query successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.exchanges.WithLabelValues(ModeStream, ResultError)); got != 1 {
		t.Errorf("stream errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.turnsEvicted); got != 2 {
		t.Errorf("evicted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tokenLimitRejects); got != 1 {
		t.Errorf("token rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.engineFallbacks); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.streamFragments); got != 2 {
		t.Errorf("fragments = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.engineLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Exchange(ModeQuery, ResultSuccess)
	m.Evicted(1)
	m.TokenLimitRejected()
	m.Fallback()
	m.Fragment()
	m.EngineLatency(ModeStream, time.Second)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Fallback()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "session_engine_fallbacks_total") {
		t.Fatalf("metrics output missing fallback counter:\n%s", body)
	}
}
