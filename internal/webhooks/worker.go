package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"churchtransport/internal/metrics"
	"churchtransport/internal/store"
	"churchtransport/pkg/logger"
)

type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Log         logger.Logger
	MaxAttempts int
	Interval    time.Duration
	BatchSize   int

	stop chan struct{}
	done sync.WaitGroup
	once sync.Once
}

func NewWorker(s store.Store, maxAttempts int, log logger.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Log:         log,
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		BatchSize:   50,
		stop:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

// Close stops the loop and waits for the in-flight batch.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.stop) })
	w.done.Wait()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
	if err != nil {
		w.Log.Warn("fetch due webhook deliveries failed", "error", err)
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	success := false
	code := 0
	lastErr := ""
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		sign(req, it.Secret, it.EventType, it.Payload, start)
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			success = code >= 200 && code < 300
			if !success {
				lastErr = "unexpected status " + strconv.Itoa(code)
			}
		}
	}
	if err != nil {
		lastErr = err.Error()
	}
	latency := int(time.Since(start).Milliseconds())

	status := "delivered"
	switch {
	case success:
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
	case it.Attempts+1 >= w.MaxAttempts:
		status = "failed"
		err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
		w.Log.Warn("webhook delivery dead-lettered", "delivery_id", it.ID, "event_type", it.EventType, "attempts", it.Attempts+1, "error", lastErr)
	default:
		status = "retry"
		next := time.Now().Add(nextBackoff(it.Attempts))
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
	}
	if err != nil {
		w.Log.Error("webhook delivery state update failed", "delivery_id", it.ID, "error", err)
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 12 {
		attempts = 12
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
