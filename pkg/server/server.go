// Package server provides the public entry point for initializing the
// searchgate server: configuration, telemetry, the backend registry and
// quota tracker, the budget ledger, the phase gate and the arbiter, all
// composed behind one HTTP handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/searchgate/searchgate/internal/api"
	"github.com/searchgate/searchgate/internal/api/handlers"
	"github.com/searchgate/searchgate/internal/arbiter"
	"github.com/searchgate/searchgate/internal/budget"
	"github.com/searchgate/searchgate/internal/config"
	"github.com/searchgate/searchgate/internal/dispatch"
	"github.com/searchgate/searchgate/internal/metrics"
	"github.com/searchgate/searchgate/internal/phase"
	"github.com/searchgate/searchgate/internal/quota"
	"github.com/searchgate/searchgate/internal/registry"
	"github.com/searchgate/searchgate/internal/sessions"
	"github.com/searchgate/searchgate/internal/telemetry"
	"github.com/searchgate/searchgate/pkg/models"
)

// Server holds the initialized searchgate service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry is the backend registry, exposed for health sweeps.
	Registry *registry.Registry

	// Drivers holds the protocol drivers for registered backend kinds.
	Drivers *dispatch.Drivers

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from the environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(_ context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := registry.New()
	tracker := quota.NewTracker()
	tiers := make(map[string]models.QuotaTier, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		tier, _ := cfg.Tier(tc.Name)
		tiers[tc.Name] = tier
	}

	drivers := dispatch.NewDrivers()

	// Seed configured backends
	for _, bc := range cfg.Backends {
		backend := &models.Backend{
			ID:           bc.ID,
			Kind:         bc.Kind,
			Endpoint:     bc.Endpoint,
			Capabilities: bc.Capabilities,
			Tier:         bc.Tier,
			Config:       bc.Config,
		}
		if drivers.Get(bc.Kind) == nil {
			return nil, fmt.Errorf("backend %s: no driver for kind %q", bc.ID, bc.Kind)
		}
		if err := reg.Register(backend); err != nil {
			return nil, fmt.Errorf("register backend %s: %w", bc.ID, err)
		}
		if err := tracker.Register(bc.ID, tiers[bc.Tier]); err != nil {
			return nil, fmt.Errorf("track backend %s: %w", bc.ID, err)
		}
	}
	log.Info().Int("backends", len(cfg.Backends)).Msg("Backend registry initialized")

	ledger := budget.NewLedger(cfg.Ceilings())
	gate := phase.NewGate(cfg.PhaseDefinitions())
	sessStore := sessions.NewStore()
	m := metrics.New(prometheus.DefaultRegisterer)

	arb := arbiter.New(reg, tracker, ledger, gate, drivers, m, arbiter.Config{
		MaxAttempts:    cfg.Policy.MaxAttempts,
		AttemptTimeout: cfg.Policy.AttemptTimeout.Duration,
		BudgetMode:     models.BudgetMode(cfg.Policy.BudgetMode),
		RetryInterval:  cfg.Policy.RetryInterval.Duration,
	})
	log.Info().
		Str("budget_mode", cfg.Policy.BudgetMode).
		Dur("attempt_timeout", cfg.Policy.AttemptTimeout.Duration).
		Msg("Arbiter initialized")

	h := handlers.New(sessStore, arb, reg, tracker, ledger, gate, drivers, tiers)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Registry:     reg,
		Drivers:      drivers,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
