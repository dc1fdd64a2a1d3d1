package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.ObserveRun(OutcomeDone, time.Second)
	m.ObserveRun(OutcomeFailed, time.Second)
	m.ObserveItem("research", "failed")
	m.ObserveToolCall("calculator", false)
	m.ObserveToolCall("calculator", true)
	m.ObserveCheckpoint(errors.New("disk full"))

	out := scrape(t, m)
	for _, want := range []string{
		`relay_runs_total{outcome="done"} 1`,
		`relay_plan_items_total{agent="research",outcome="failed"} 1`,
		`relay_tool_calls_total{outcome="error",tool="calculator"} 1`,
		`relay_checkpoint_saves_total{outcome="error"} 1`,
		`relay_run_duration_seconds_count 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRun(OutcomeDone, time.Second)
	m.ObserveItem("math", "ok")
	m.ObserveToolCall("calculator", false)
	m.ObserveCheckpoint(nil)
}
