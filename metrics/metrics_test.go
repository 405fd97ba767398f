package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/GetStream/unified-inbox/inbox"
)

func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !hasLabels(metric, labels) {
				continue
			}
			switch {
			case metric.Counter != nil:
				return metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				return metric.GetGauge().GetValue()
			case metric.Histogram != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, l := range metric.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_ObservePass(t *testing.T) {
	m := New()
	m.ObservePass(inbox.TypeSMS, 3, nil)
	m.ObservePass(inbox.TypeSMS, 5, nil)
	m.ObservePass(inbox.TypeTicketChat, 0, &inbox.SourceError{Type: inbox.TypeTicketChat, Err: errors.New("down")})

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"SMSOK", "inbox_source_passes_total", map[string]string{"type": "sms", "result": "ok"}, 2},
		{"TicketFailed", "inbox_source_passes_total", map[string]string{"type": "ticket_chat", "result": "failed"}, 1},
		{"SMSRecords", "inbox_source_records", map[string]string{"type": "sms"}, 5},
		{"TicketRecordsUntouched", "inbox_source_records", map[string]string{"type": "ticket_chat"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := value(t, m, tt.metric, tt.labels); got != tt.want {
				t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
			}
		})
	}
}

func TestMetrics_ObserveMutation(t *testing.T) {
	m := New()
	m.ObserveMutation("archive", nil, false)
	m.ObserveMutation("archive", errors.New("boom"), true)
	m.ObserveMutation("acknowledge", &inbox.CapabilityError{Type: inbox.TypeSMS, Op: "acknowledge"}, false)
	m.ObserveMutation("mark_read", fmt.Errorf("wrap: %w", inbox.ErrNotFound), false)

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"ArchiveOK", "inbox_mutations_total", map[string]string{"op": "archive", "result": "ok"}, 1},
		{"ArchiveFailed", "inbox_mutations_total", map[string]string{"op": "archive", "result": "failed"}, 1},
		{"ArchiveRollback", "inbox_mutation_rollbacks_total", map[string]string{"op": "archive"}, 1},
		{"Unsupported", "inbox_mutations_total", map[string]string{"op": "acknowledge", "result": "unsupported"}, 1},
		{"NotFound", "inbox_mutations_total", map[string]string{"op": "mark_read", "result": "not_found"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := value(t, m, tt.metric, tt.labels); got != tt.want {
				t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
			}
		})
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest("GET /feed", 200, 15*time.Millisecond)

	if got := value(t, m, "inbox_http_request_duration_seconds", map[string]string{"route": "GET /feed", "code": "200"}); got != 1 {
		t.Errorf("request count = %v, want 1", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "inbox_http_request_duration_seconds_count") {
		t.Errorf("metrics output missing request histogram:\n%s", body)
	}
}
