package api

import (
	"fmt"
	"net/url"
	"strings"

	"churchtransport/internal/model"
	"churchtransport/internal/notify"
	"churchtransport/internal/webhooks"
)

var knownEvents = map[string]bool{
	"*":                            true,
	webhooks.EventRequestAssigned:  true,
	webhooks.EventRequestCompleted: true,
	webhooks.EventRequestCancelled: true,
	webhooks.EventRouteBuilt:       true,
	webhooks.EventRouteSent:        true,
	webhooks.EventDriversStaffed:   true,
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) url")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range req.Events {
		if !knownEvents[e] {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	if len(strings.TrimSpace(req.Secret)) < 8 {
		return fmt.Errorf("secret must be at least 8 characters")
	}
	return nil
}

type assignBody struct {
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`
}

type notifyBody struct {
	Subject    string             `json:"subject"`
	HTML       string             `json:"html"`
	EmailType  string             `json:"email_type"`
	Recipients []notify.Recipient `json:"recipients"`
}

func (b notifyBody) validate() error {
	if strings.TrimSpace(b.Subject) == "" || strings.TrimSpace(b.HTML) == "" {
		return fmt.Errorf("subject and html are required")
	}
	if len(b.Recipients) == 0 {
		return fmt.Errorf("recipients must not be empty")
	}
	return nil
}
