package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"churchtransport/internal/metrics"
	"churchtransport/pkg/logger"
)

var errNoAddress = errors.New("no email address")

// Result is the outcome of one message.
type Result struct {
	To        string `json:"to"`
	OK        bool   `json:"ok"`
	Sender    string `json:"sender,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates a batch. Results are in input order.
type Report struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

func (r *Report) add(res Result) {
	r.Attempted++
	if res.OK {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Dispatcher sends messages one at a time, spaced by a fixed delay.
type Dispatcher struct {
	Mailer  Mailer
	Log     logger.Logger
	limiter *rate.Limiter
}

func NewDispatcher(m Mailer, delay time.Duration, log logger.Logger) *Dispatcher {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Dispatcher{Mailer: m, Log: log, limiter: rate.NewLimiter(limit, 1)}
}

// Send attempts every message in order. A failed message never stops the batch; once ctx is
// done the remaining messages are reported failed with the context error.
func (d *Dispatcher) Send(ctx context.Context, msgs []Email) Report {
	rep := Report{Results: make([]Result, 0, len(msgs))}
	for _, m := range msgs {
		res := Result{To: m.To}
		if strings.TrimSpace(m.To) == "" {
			res.Error = errNoAddress.Error()
			rep.add(res)
			metrics.Notifications.WithLabelValues("email", "skipped").Inc()
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			res.Error = err.Error()
			rep.add(res)
			metrics.Notifications.WithLabelValues("email", "failed").Inc()
			continue
		}
		rc, err := d.Mailer.Send(ctx, m)
		if err != nil {
			d.Log.Warn("email send failed", "to", m.To, "subject", m.Subject, "error", err)
			res.Error = err.Error()
			metrics.Notifications.WithLabelValues("email", "failed").Inc()
		} else {
			res.OK, res.Sender, res.MessageID = true, rc.Sender, rc.MessageID
			metrics.Notifications.WithLabelValues("email", "sent").Inc()
		}
		rep.add(res)
	}
	d.Log.Info("email batch finished", "attempted", rep.Attempted, "succeeded", rep.Succeeded, "failed", rep.Failed)
	return rep
}

// Recipient is a broadcast target.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Broadcast sends the same message to each recipient. "{{name}}" in the body is replaced
// with the recipient's name.
func (d *Dispatcher) Broadcast(ctx context.Context, recipients []Recipient, subject, html, emailType string) Report {
	if emailType == "" {
		emailType = "events"
	}
	msgs := make([]Email, 0, len(recipients))
	for _, r := range recipients {
		msgs = append(msgs, Email{
			To:        r.Email,
			Subject:   subject,
			HTML:      strings.ReplaceAll(html, "{{name}}", r.Name),
			EmailType: emailType,
		})
	}
	return d.Send(ctx, msgs)
}
