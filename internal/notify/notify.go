// Package notify delivers match and operational events to downstream sinks.
// Delivery is best effort: a failed notification is logged and dropped, it
// never blocks or fails the pipeline that produced it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindNewMatches          Kind = "new_matches"
	KindDeadlineApproaching Kind = "deadline_approaching"
	KindOpsAlert            Kind = "ops_alert"
)

// Notification is the wire shape handed to sinks. Only the fields relevant
// to the kind are set.
type Notification struct {
	Kind           Kind      `json:"kind"`
	OrgID          uuid.UUID `json:"org_id,omitempty"`
	ProgramID      uuid.UUID `json:"program_id,omitempty"`
	ProgramTitle   string    `json:"program_title,omitempty"`
	NewMatchCount  int       `json:"new_match_count,omitempty"`
	DeadlineInDays int       `json:"deadline_in_days,omitempty"`
	SourceID       string    `json:"source_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Sink delivers one notification.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the process log. It is the default sink
// and the fallback when no webhook is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, n Notification) error {
	switch n.Kind {
	case KindNewMatches:
		log.Printf("[notify] org=%s new_matches=%d", n.OrgID, n.NewMatchCount)
	case KindDeadlineApproaching:
		log.Printf("[notify] org=%s program=%s deadline_in_days=%d", n.OrgID, n.ProgramID, n.DeadlineInDays)
	case KindOpsAlert:
		log.Printf("[notify] ops alert source=%s: %s", n.SourceID, n.Detail)
	default:
		log.Printf("[notify] %s: %+v", n.Kind, n)
	}
	return nil
}

// WebhookSink POSTs notifications as JSON to a configured endpoint, usually
// the account service's notification intake.
type WebhookSink struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewWebhookSink(url, token string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
