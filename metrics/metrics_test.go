package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("idle", "recording_response")
	m.Call("transcribe", "fake", time.Now(), errors.New("x"))
	m.Exchange()
	m.Recording(time.Second)
	m.SessionEnd("completed")
}

func TestCounters(t *testing.T) {
	m := New("")
	m.Transition("idle", "speaking_question")
	m.Transition("idle", "speaking_question")
	m.Exchange()
	m.Call("synthesize", "openai", time.Now(), nil)
	m.Call("synthesize", "openai", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("idle", "speaking_question")); got != 2 {
		t.Errorf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.Exchanges); got != 1 {
		t.Errorf("exchanges = %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("synthesize", "openai")); got != 1 {
		t.Errorf("errors = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New("test")
	m.SessionEnd("expired")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `test_sessions_total{status="expired"} 1`) {
		t.Errorf("metrics output missing session counter:\n%s", body)
	}
}
