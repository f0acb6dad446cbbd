package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"churchtransport/internal/remote"
)

// Email is one message handed to the mail service.
type Email struct {
	To        string         `json:"to"`
	Subject   string         `json:"subject"`
	HTML      string         `json:"html"`
	Text      string         `json:"text,omitempty"`
	EmailType string         `json:"emailType"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Receipt is the mail service's answer for an accepted message.
type Receipt struct {
	Success   bool   `json:"success"`
	Sender    string `json:"sender,omitempty"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, e Email) (Receipt, error)
}

// HTTPMailer posts messages to the mail service, either straight to a sending account or
// through its queue.
type HTTPMailer struct {
	c           *remote.Client
	BypassQueue bool
}

func NewHTTPMailer(baseURL string, bypassQueue bool, timeout time.Duration) *HTTPMailer {
	return &HTTPMailer{c: remote.New(baseURL, timeout), BypassQueue: bypassQueue}
}

func (m *HTTPMailer) Send(ctx context.Context, e Email) (Receipt, error) {
	path := "/api/email/send"
	if m.BypassQueue {
		path = "/api/email/bypass-queue"
	}
	var rc Receipt
	if err := m.c.Do(ctx, http.MethodPost, path, e, &rc); err != nil {
		return rc, err
	}
	if !rc.Success {
		msg := rc.Error
		if msg == "" {
			msg = "mail service reported failure"
		}
		return rc, fmt.Errorf("send to %s: %w", e.To, errors.New(msg))
	}
	return rc, nil
}
