package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/lab-scheduler/internal/admission"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectorExposesAdmissionActivity(t *testing.T) {
	c := New()
	c.ObserveAdmission("L1", admission.OutcomeAdmitted)
	c.ObserveAdmission("L1", admission.OutcomeQueued)
	c.ObserveAdmission("L1", admission.OutcomeQueued)
	c.ObserveCompletion("L1", admission.ReasonExpired)
	c.ObserveCancellation("L1", admission.ReasonDisconnected)
	c.ObserveBindFailure("L1")
	c.ObserveLaboratory("L1", 1, 4)
	c.TrackChannels(func() (int, int) { return 4, 1 })

	body := scrape(t, c)
	for _, want := range []string{
		`lab_scheduler_admissions_total{laboratory="L1",outcome="queued"} 2`,
		`lab_scheduler_admissions_total{laboratory="L1",outcome="admitted"} 1`,
		`lab_scheduler_session_completions_total{laboratory="L1",reason="expired"} 1`,
		`lab_scheduler_queue_cancellations_total{laboratory="L1",reason="disconnected"} 1`,
		`lab_scheduler_hardware_bind_failures_total{laboratory="L1"} 1`,
		`lab_scheduler_laboratory_occupancy{laboratory="L1"} 1`,
		`lab_scheduler_queue_depth{laboratory="L1"} 4`,
		`lab_scheduler_open_channels{state="waiting"} 4`,
		`lab_scheduler_open_channels{state="admitted"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape is missing %q\n%s", want, body)
		}
	}
}
