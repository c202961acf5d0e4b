package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/deepdesk/internal/deepresearch"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func TestPollOutcomes(t *testing.T) {
	m := NewMetrics("deepdesk")

	m.PollCompleted("authenticated", nil)
	m.PollCompleted("authenticated", &deepresearch.AuthExpiredError{Code: 401})
	m.PollCompleted("public", errors.New("boom"))
	m.PollCompleted("public", nil)
	m.PollCompleted("public", nil)

	out := scrape(t, m)
	for _, want := range []string{
		`deepdesk_status_polls_total{outcome="ok",source="authenticated"} 1`,
		`deepdesk_status_polls_total{outcome="auth_expired",source="authenticated"} 1`,
		`deepdesk_status_polls_total{outcome="error",source="public"} 1`,
		`deepdesk_status_polls_total{outcome="ok",source="public"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics("deepdesk")
	m.PhaseEntered("completed")
	m.NotificationSent()
	m.DeliveryFinished("cancel", nil)
	m.SetHistoryEntries(3)
	m.OutboxPending(2)

	out := scrape(t, m)
	for _, want := range []string{
		`deepdesk_task_phase_entries_total{phase="completed"} 1`,
		`deepdesk_completion_notifications_total 1`,
		`deepdesk_outbox_deliveries_total{kind="cancel",outcome="ok"} 1`,
		`deepdesk_history_entries 3`,
		`deepdesk_outbox_pending 2`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics("deepdesk")
	b := NewMetrics("deepdesk")
	a.NotificationSent()
	if out := scrape(t, b); !strings.Contains(out, "deepdesk_completion_notifications_total 0") {
		t.Error("second registry saw notifications of the first")
	}
}
