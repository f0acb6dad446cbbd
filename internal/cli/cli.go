// Package cli implements transportctl, the operator command line for the transport pipeline.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"churchtransport/internal/assign"
	"churchtransport/internal/buildinfo"
	"churchtransport/internal/config"
	"churchtransport/internal/notify"
	"churchtransport/internal/opt"
	"churchtransport/internal/routing"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
	"churchtransport/internal/webhooks"
	"churchtransport/pkg/logger"
)

// App holds the components the commands drive.
type App struct {
	Config   *config.Config
	Log      logger.Logger
	Store    store.Store
	Requests *transport.Repository
	Engine   *assign.Engine
	Builder  *routing.Builder
	Planner  *routing.Planner
	Routes   *notify.RouteNotifier
}

// NewApp wires the pipeline over s. Transport events are queued for webhook delivery; the API
// server's worker sends them.
func NewApp(cfg *config.Config, log logger.Logger, s store.Store) *App {
	events := webhooks.NewPublisher(s, log)
	base := routing.Base{Point: opt.Point{Lat: cfg.ChurchLat, Lng: cfg.ChurchLng}, Address: cfg.ChurchAddress}
	mail := notify.NewDispatcher(notify.NewHTTPMailer(cfg.EmailServiceURL, cfg.EmailBypassQueue, cfg.HTTPTimeout), cfg.NotifyDelay, log)
	return &App{
		Config:   cfg,
		Log:      log,
		Store:    s,
		Requests: transport.NewRepository(s, events),
		Engine:   assign.NewEngine(s, events, log),
		Builder:  routing.NewBuilder(s, routing.NewHTTPOptimizer(cfg.RouteServiceURL, cfg.HTTPTimeout), events, base, log),
		Planner:  routing.NewPlanner(s, events, base, log),
		Routes:   notify.NewRouteNotifier(s, mail, events, log),
	}
}

// openFromEnv loads configuration and opens the record store. Without DATABASE_URL the
// commands run against an empty in-memory store.
func openFromEnv() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg.LogLevel)
	for _, key := range cfg.Missing() {
		log.Warn("configuration missing", "key", key)
	}
	if cfg.DatabaseURL == "" {
		return NewApp(cfg, log, store.NewMemory()), nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewApp(cfg, log, pg), nil
}

// Execute runs transportctl against the environment configuration.
func Execute() {
	if err := NewRootCmd(openFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. open is called once, before the first command that
// needs the pipeline.
func NewRootCmd(open func() (*App, error)) *cobra.Command {
	var app *App
	load := func() (*App, error) {
		if app != nil {
			return app, nil
		}
		a, err := open()
		if err != nil {
			return nil, err
		}
		app = a
		return app, nil
	}

	root := &cobra.Command{
		Use:           "transportctl",
		Short:         "Operate church event transport",
		Long:          `transportctl assigns riders to drivers, builds and sends routes and seeds demo data for church events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newAssignCmd(load),
		newStaffCmd(load),
		newBuildRouteCmd(load),
		newGenerateRoutesCmd(load),
		newSendRoutesCmd(load),
		newCapacityCmd(load),
		newSeedCmd(load),
		newImportCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			},
		},
	)
	return root
}

type loader func() (*App, error)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAssignCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <event-id>",
		Short: "Greedily assign pending requests to the event's drivers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			res, err := app.Engine.AutoAssign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newStaffCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "staff <event-id>",
		Short: "Add fleet drivers to an event for its pending requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			res, err := app.Engine.StaffEvent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newBuildRouteCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "build-route <event-id>",
		Short: "Build the event route through the route service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			out, err := app.Builder.Build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newGenerateRoutesCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-routes <event-id>",
		Short: "Replace the event's draft routes with one route per assigned driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			routes, err := app.Planner.GenerateDriverRoutes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), routes)
		},
	}
}

func newSendRoutesCmd(load loader) *cobra.Command {
	var eventName string
	cmd := &cobra.Command{
		Use:   "send-routes <event-id>",
		Short: "Email each driver their route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			rep, err := app.Routes.SendRoutes(cmd.Context(), args[0], eventName)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&eventName, "event-name", "", "event name used in the email subject")
	return cmd
}

func newCapacityCmd(load loader) *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Show fleet capacity and utilization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			out, err := app.Requests.Capacity(cmd.Context(), eventID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "limit assignments to one event (default all events)")
	return cmd
}
