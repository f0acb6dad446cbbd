package routing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"churchtransport/internal/model"
	"churchtransport/internal/remote"
)

// BuildRequest is the body posted to the route service.
type BuildRequest struct {
	EventID    string           `json:"event_id"`
	Waypoints  []model.Waypoint `json:"waypoints"`
	IsTestData bool             `json:"is_test_data,omitempty"`
}

// Optimizer is the external route optimization service.
type Optimizer interface {
	BuildTransportRoute(ctx context.Context, req BuildRequest) (model.RouteData, error)
	TestRoute(ctx context.Context) (model.RouteData, error)
}

// HTTPOptimizer talks to the route service over HTTP.
type HTTPOptimizer struct {
	c *remote.Client
}

func NewHTTPOptimizer(baseURL string, timeout time.Duration) *HTTPOptimizer {
	return &HTTPOptimizer{c: remote.New(baseURL, timeout)}
}

func (o *HTTPOptimizer) BuildTransportRoute(ctx context.Context, req BuildRequest) (model.RouteData, error) {
	var out model.RouteData
	err := o.c.Do(ctx, http.MethodPost, "/api/events/build-transport-route", req, &out)
	return out, err
}

// ErrMissingRoute is returned when the test-route endpoint answers without route data.
var ErrMissingRoute = errors.New("test route response missing route data")

func (o *HTTPOptimizer) TestRoute(ctx context.Context) (model.RouteData, error) {
	var out struct {
		Route *model.RouteData `json:"route"`
	}
	if err := o.c.Do(ctx, http.MethodGet, "/api/events/test-route", nil, &out); err != nil {
		return model.RouteData{}, err
	}
	if out.Route == nil || out.Route.URL == "" {
		return model.RouteData{}, ErrMissingRoute
	}
	return *out.Route, nil
}
