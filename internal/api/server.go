// Package api implements the HTTP surface of the transport service.
package api

import (
	"context"
	"net/http"

	"churchtransport/internal/assign"
	"churchtransport/internal/auth"
	"churchtransport/internal/config"
	"churchtransport/internal/notify"
	"churchtransport/internal/opt"
	"churchtransport/internal/routing"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
	"churchtransport/internal/webhooks"
	"churchtransport/pkg/logger"
)

type Server struct {
	Config *config.Config
	Log    logger.Logger
	Store  store.Store
	Pub    *webhooks.Publisher
	Auth   *auth.Verifier
	Broker EventBroker
	Events transport.EventSink

	Requests *transport.Repository
	Engine   *assign.Engine
	Builder  *routing.Builder
	Planner  *routing.Planner
	Mail     *notify.Dispatcher
	Routes   *notify.RouteNotifier
	SMS      *notify.SMSClient
}

// NewServer wires the service. Without DATABASE_URL an in-memory store is used; with
// REDIS_URL transport events fan out through Redis.
func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	var s store.Store
	if cfg.DatabaseURL == "" {
		s = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := pg.MigrateDir("db/migrations"); err != nil {
				log.Warn("migrations failed", "error", err)
			}
		}
		s = pg
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			log.Warn("redis broker unavailable, using in-process broker", "error", err)
		} else {
			broker = rb
		}
	}
	return NewServerWith(cfg, log, s, broker), nil
}

// NewServerWith builds the server over an existing store and broker.
func NewServerWith(cfg *config.Config, log logger.Logger, s store.Store, broker EventBroker) *Server {
	pub := webhooks.NewPublisher(s, log)
	events := &fanout{pub: pub, broker: broker}
	base := routing.Base{Point: opt.Point{Lat: cfg.ChurchLat, Lng: cfg.ChurchLng}, Address: cfg.ChurchAddress}
	mail := notify.NewDispatcher(notify.NewHTTPMailer(cfg.EmailServiceURL, cfg.EmailBypassQueue, cfg.HTTPTimeout), cfg.NotifyDelay, log)
	return &Server{
		Config:   cfg,
		Log:      log,
		Store:    s,
		Pub:      pub,
		Auth:     auth.NewVerifier(cfg),
		Broker:   broker,
		Events:   events,
		Requests: transport.NewRepository(s, events),
		Engine:   assign.NewEngine(s, events, log),
		Builder:  routing.NewBuilder(s, routing.NewHTTPOptimizer(cfg.RouteServiceURL, cfg.HTTPTimeout), events, base, log),
		Planner:  routing.NewPlanner(s, events, base, log),
		Mail:     mail,
		Routes:   notify.NewRouteNotifier(s, mail, events, log),
		SMS:      notify.NewSMSClient(cfg.SMSServiceURL, cfg.SMSToken, cfg.HTTPTimeout),
	}
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts, s.Log)
}

// Handler registers every route on a new mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/contacts", s.ContactsHandler)
	mux.HandleFunc("/v1/contacts/", s.ContactsHandler)
	mux.HandleFunc("/v1/drivers", s.DriversHandler)
	mux.HandleFunc("/v1/drivers/", s.DriversHandler)
	mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
	mux.HandleFunc("/v1/vehicles/", s.VehiclesHandler)

	mux.HandleFunc("/v1/transport-requests", s.RequestsHandler)
	mux.HandleFunc("/v1/transport-requests/", s.RequestByIDHandler)

	mux.HandleFunc("/v1/events/", s.EventsHandler)
	mux.HandleFunc("/v1/routes/", s.RouteByIDHandler)
	mux.HandleFunc("/v1/fleet/capacity", s.CapacityHandler)

	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)

	mux.HandleFunc("/graphql", s.GraphQLHTTPHandler)
	mux.HandleFunc("/graphql/ws", s.GraphQLWSHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/swagger", s.SwaggerHandler)
	return mux
}

// fanout sends transport events to webhook subscribers and live stream listeners.
type fanout struct {
	pub    *webhooks.Publisher
	broker EventBroker
}

func (f *fanout) Publish(ctx context.Context, eventID, eventType string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event_id"] = eventID
	f.broker.Publish(eventID, SSEEvent{Type: eventType, Data: payload})
	f.pub.Publish(ctx, eventID, eventType, data)
}
