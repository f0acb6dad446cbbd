package notify

import (
	"context"
	"net/http"
	"time"

	"churchtransport/internal/metrics"
	"churchtransport/internal/remote"
)

// SMSClient sends route links to drivers through the SMS gateway.
type SMSClient struct {
	c *remote.Client
}

func NewSMSClient(baseURL, token string, timeout time.Duration) *SMSClient {
	c := remote.New(baseURL, timeout)
	c.Token = token
	return &SMSClient{c: c}
}

type routeSMS struct {
	DriverID  string `json:"driver_id"`
	RouteURL  string `json:"route_url"`
	EventName string `json:"event_name"`
}

func (s *SMSClient) SendRouteSMS(ctx context.Context, driverID, routeURL, eventName string) error {
	err := s.c.Do(ctx, http.MethodPost, "/send_route_sms", routeSMS{DriverID: driverID, RouteURL: routeURL, EventName: eventName}, nil)
	status := "sent"
	if err != nil {
		status = "failed"
	}
	metrics.Notifications.WithLabelValues("sms", status).Inc()
	return err
}
