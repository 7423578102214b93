package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// pagerDutyEventsURL is the Events API v2 enqueue endpoint.
const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// SlackSender posts to a Slack incoming-webhook URL.
type SlackSender struct {
	Client *http.Client
}

// NewSlackSender returns a sender with a pooled, non-shared HTTP client.
func NewSlackSender() *SlackSender {
	return &SlackSender{Client: cleanhttp.DefaultPooledClient()}
}

type slackMessage struct {
	Text string `json:"text"`
}

// Send posts s to the webhook at target.
func (c *SlackSender) Send(ctx context.Context, target string, s Summary) error {
	text := fmt.Sprintf("*%s*\nProvider: %s\nTotal: %d  Critical: %d  High: %d  Medium: %d  Low: %d\nAudit: %s",
		s.Subject(), s.Provider, s.TotalFindings, s.Critical, s.High, s.Medium, s.Low, s.AuditID)
	return postJSON(ctx, c.Client, target, slackMessage{Text: text})
}

// PagerDutySender triggers Events API v2 alerts. The channel target is the
// integration routing key.
type PagerDutySender struct {
	Client *http.Client
	URL    string
}

// NewPagerDutySender returns a sender posting to the public Events API.
func NewPagerDutySender() *PagerDutySender {
	return &PagerDutySender{Client: cleanhttp.DefaultPooledClient(), URL: pagerDutyEventsURL}
}

type pdEvent struct {
	RoutingKey  string    `json:"routing_key"`
	EventAction string    `json:"event_action"`
	DedupKey    string    `json:"dedup_key"`
	Payload     pdPayload `json:"payload"`
}

type pdPayload struct {
	Summary       string  `json:"summary"`
	Source        string  `json:"source"`
	Severity      string  `json:"severity"`
	CustomDetails Summary `json:"custom_details"`
}

// Send triggers an incident deduplicated on the audit id.
func (c *PagerDutySender) Send(ctx context.Context, routingKey string, s Summary) error {
	sev := "error"
	if s.Critical > 0 {
		sev = "critical"
	}
	return postJSON(ctx, c.Client, c.URL, pdEvent{
		RoutingKey:  routingKey,
		EventAction: "trigger",
		DedupKey:    "cloudaudit-" + s.AuditID,
		Payload: pdPayload{
			Summary:       s.Subject(),
			Source:        string(s.Provider) + ":" + s.AccountID,
			Severity:      sev,
			CustomDetails: s,
		},
	})
}
