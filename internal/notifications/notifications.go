package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/complyarc/grc/internal/models"
)

// EventType defines the type of compliance event
type EventType string

const (
	EventScoreDrop        EventType = "score_drop"
	EventSnapshotComplete EventType = "snapshot_complete"
	EventGapOpened        EventType = "gap_opened"
	EventDeadlineNear     EventType = "deadline_near"
)

// Event is a compliance event pushed to the configured channels.
type Event struct {
	Type      EventType
	Title     string
	Message   string
	Severity  models.RiskLevel
	Data      map[string]interface{}
	Timestamp time.Time
}

// Notifier is the event sink the scheduler and aggregation paths are
// given. Injected explicitly rather than reached for as a singleton.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *Event) error { return nil }

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	Enabled     bool
	MinSeverity models.RiskLevel
}

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	Enabled     bool
	MinSeverity models.RiskLevel
}

// Service delivers events over Slack webhooks and SMTP.
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends an event to all enabled channels.
func (s *Service) Notify(ctx context.Context, event *Event) error {
	var errs []error

	if s.config.Slack.Enabled && s.shouldNotify(event.Severity, s.config.Slack.MinSeverity) {
		if err := s.sendSlack(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && s.shouldNotify(event.Severity, s.config.Email.MinSeverity) {
		if err := s.sendEmail(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}

	return nil
}

func (s *Service) shouldNotify(actual, minimum models.RiskLevel) bool {
	order := map[models.RiskLevel]int{
		models.RiskLow:      1,
		models.RiskMedium:   2,
		models.RiskHigh:     3,
		models.RiskCritical: 4,
	}

	return order[actual] >= order[minimum]
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, event *Event) error {
	color := s.severityToColor(event.Severity)

	fields := []SlackField{}
	if event.Data != nil {
		if entity, ok := event.Data["entity"].(string); ok {
			fields = append(fields, SlackField{Title: "Entity", Value: entity, Short: true})
		}
		if framework, ok := event.Data["framework"].(string); ok {
			fields = append(fields, SlackField{Title: "Framework", Value: framework, Short: true})
		}
		if score, ok := event.Data["score"].(float64); ok {
			fields = append(fields, SlackField{Title: "Score", Value: fmt.Sprintf("%.1f", score), Short: true})
		}
		if previous, ok := event.Data["previous_score"].(float64); ok {
			fields = append(fields, SlackField{Title: "Previous", Value: fmt.Sprintf("%.1f", previous), Short: true})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     event.Title,
				Text:      event.Message,
				Fallback:  fmt.Sprintf("%s: %s", event.Title, event.Message),
				Fields:    fields,
				Footer:    "Compliance Alerts",
				Timestamp: event.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", event.Type,
		"title", event.Title)

	return nil
}

func (s *Service) severityToColor(severity models.RiskLevel) string {
	switch severity {
	case models.RiskCritical:
		return "#FF0000"
	case models.RiskHigh:
		return "#FFA500"
	case models.RiskMedium:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendEmail(ctx context.Context, event *Event) error {
	subject := fmt.Sprintf("[Compliance Alert] %s", event.Title)
	body, err := s.formatEmailBody(event)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	err = smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg))
	if err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", event.Type,
		"title", event.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

func (s *Service) formatEmailBody(event *Event) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated compliance alert.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3"
	severityColor := s.severityToColor(event.Severity)

	switch event.Severity {
	case models.RiskCritical:
		headerColor = "#F44336"
	case models.RiskHigh:
		headerColor = "#FF9800"
	case models.RiskMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         event.Title,
		"Message":       event.Message,
		"Severity":      string(event.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": severityColor,
		"Data":          event.Data,
		"HasData":       len(event.Data) > 0,
		"Timestamp":     event.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// NotifyScoreDrop reports a compliance score falling below the alert
// threshold between consecutive snapshots.
func (s *Service) NotifyScoreDrop(ctx context.Context, entityName, frameworkName string, previous, current float64) error {
	severity := models.RiskHigh
	if current < 30 {
		severity = models.RiskCritical
	}
	return s.Notify(ctx, &Event{
		Type:     EventScoreDrop,
		Title:    "Compliance Score Dropped",
		Message:  fmt.Sprintf("%s compliance for %s fell from %.1f to %.1f", frameworkName, entityName, previous, current),
		Severity: severity,
		Data: map[string]interface{}{
			"entity":         entityName,
			"framework":      frameworkName,
			"score":          current,
			"previous_score": previous,
		},
		Timestamp: time.Now(),
	})
}

// NotifySnapshotComplete reports a finished snapshot run.
func (s *Service) NotifySnapshotComplete(ctx context.Context, snapshots int, duration time.Duration) error {
	return s.Notify(ctx, &Event{
		Type:     EventSnapshotComplete,
		Title:    "Compliance Snapshot Complete",
		Message:  fmt.Sprintf("Recorded %d compliance snapshots in %s", snapshots, duration.Round(time.Second)),
		Severity: models.RiskLow,
		Data: map[string]interface{}{
			"snapshots": snapshots,
		},
		Timestamp: time.Now(),
	})
}
