package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/complyarc/grc/internal/models"
)

func TestShouldNotify(t *testing.T) {
	s := NewService(Config{}, nil)

	cases := []struct {
		actual  models.RiskLevel
		minimum models.RiskLevel
		want    bool
	}{
		{models.RiskCritical, models.RiskHigh, true},
		{models.RiskHigh, models.RiskHigh, true},
		{models.RiskMedium, models.RiskHigh, false},
		{models.RiskLow, models.RiskLow, true},
		{models.RiskLow, models.RiskCritical, false},
	}
	for _, tc := range cases {
		if got := s.shouldNotify(tc.actual, tc.minimum); got != tc.want {
			t.Errorf("shouldNotify(%s, %s) = %v, want %v", tc.actual, tc.minimum, got, tc.want)
		}
	}
}

func TestNotify_SlackPayload(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding slack payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewService(Config{
		Slack: SlackConfig{
			WebhookURL:  server.URL,
			Channel:     "#compliance",
			Username:    "Compliance Bot",
			Enabled:     true,
			MinSeverity: models.RiskLow,
		},
	}, nil)

	err := s.NotifyScoreDrop(context.Background(), "EU Subsidiary", "GDPR", 62.0, 41.5)
	if err != nil {
		t.Fatalf("NotifyScoreDrop failed: %v", err)
	}

	if received.Channel != "#compliance" {
		t.Errorf("Expected channel #compliance, got %s", received.Channel)
	}
	if len(received.Attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(received.Attachments))
	}
	att := received.Attachments[0]
	if att.Title != "Compliance Score Dropped" {
		t.Errorf("Expected score drop title, got %s", att.Title)
	}
	// 41.5 is above the critical cutoff: high severity, orange
	if att.Color != "#FFA500" {
		t.Errorf("Expected high-severity color, got %s", att.Color)
	}
	if len(att.Fields) != 4 {
		t.Errorf("Expected 4 fields (entity, framework, score, previous), got %d", len(att.Fields))
	}
}

func TestNotify_SeverityFilter(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewService(Config{
		Slack: SlackConfig{
			WebhookURL:  server.URL,
			Enabled:     true,
			MinSeverity: models.RiskCritical,
		},
	}, nil)

	err := s.Notify(context.Background(), &Event{
		Type:      EventSnapshotComplete,
		Title:     "Snapshot Complete",
		Severity:  models.RiskLow,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if called {
		t.Error("Expected low-severity event to be filtered out")
	}
}

func TestFormatEmailBody(t *testing.T) {
	s := NewService(Config{}, nil)

	body, err := s.formatEmailBody(&Event{
		Type:     EventScoreDrop,
		Title:    "Compliance Score Dropped",
		Message:  "GDPR compliance for EU Subsidiary fell from 62.0 to 25.0",
		Severity: models.RiskCritical,
		Data: map[string]interface{}{
			"entity": "EU Subsidiary",
		},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("formatEmailBody failed: %v", err)
	}

	for _, want := range []string{"Compliance Score Dropped", "EU Subsidiary", "critical", "#F44336"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected email body to contain %q", want)
		}
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	if err := n.Notify(context.Background(), &Event{Title: "ignored"}); err != nil {
		t.Errorf("Expected nil from NopNotifier, got %v", err)
	}
}
