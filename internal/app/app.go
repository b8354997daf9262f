// Package app concentrates the process-wide singletons spec.md §9 calls
// out ("Global mutable state -> owned registries") into one App value
// constructed at startup, generalized from the teacher's internal/app/app.go
// NewApp/setupDependencies staged-construction pattern.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asrhub/asrhub/internal/clock"
	"github.com/asrhub/asrhub/internal/config"
	"github.com/asrhub/asrhub/internal/coordinator"
	"github.com/asrhub/asrhub/internal/providerpool"
	"github.com/asrhub/asrhub/internal/queue"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/asrhub/asrhub/internal/timer"
	"github.com/asrhub/asrhub/pkg/logging"
)

// sweepInterval is how often Run scans for expired sessions (spec.md §3:
// sessions are "destroyed by delete_session or by expiry sweep").
const sweepInterval = 30 * time.Second

// App owns every process-wide singleton: the store, the timestamped
// queue registry, the timer service, the provider pool, and the
// coordinator that wires them together. Components receive explicit
// references rather than reaching for package-level globals (spec.md §9).
type App struct {
	Config *config.Settings
	Logger *logging.Logger

	Store       *store.Store
	Queue       *queue.Registry
	Timer       *timer.Service
	Pool        *providerpool.Pool
	Coordinator *coordinator.Coordinator

	cancel context.CancelFunc
}

// Collaborators is the set of out-of-core implementations the caller
// supplies (spec.md §1 "Out of scope"); main.go wires stub or real
// implementations depending on deployment.
type Collaborators = coordinator.Collaborators

// New constructs an App with all dependencies wired (spec.md §9 "owned
// registries"). It does not start the coordinator; call Run for that.
func New(cfg *config.Settings, logger *logging.Logger, collabs Collaborators, providerFactory providerpool.Factory) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	clk := clock.Real

	pool, err := providerpool.New(cfg.Pool.Size, providerFactory)
	if err != nil {
		return nil, fmt.Errorf("app: build provider pool: %w", err)
	}

	s := store.New(clk, genSessionID, store.SessionsReducer, store.StatsReducer)
	q := queue.NewRegistry(clk)
	tm := timer.New(clk)

	coord := coordinator.New(s, q, tm, pool, collabs, *cfg, clk, logger)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       s,
		Queue:       q,
		Timer:       tm,
		Pool:        pool,
		Coordinator: coord,
	}, nil
}

// genSessionID produces a collision-resistant, time-ordered session ID
// (SPEC_FULL.md §3): a UUIDv7, whose embedded millisecond timestamp
// gives lexical/creation-order sortability without a coordinator.
func genSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails on an exhausted entropy source; fall back to a
		// random v4 rather than panic mid-dispatch.
		return uuid.NewString()
	}
	return id.String()
}

// Run starts the coordinator's subscription loop and the expiry sweep, and
// blocks until ctx is canceled or Shutdown is called.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.sweepExpiredSessions(ctx)
	a.Coordinator.Run(ctx)
}

// sweepExpiredSessions periodically scans live sessions for ones past their
// ExpiresAt and dispatches session_expired for each, the other half (besides
// delete_session) of spec.md §3's session destruction contract.
func (a *App) sweepExpiredSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for id, sess := range a.Store.State().Sessions {
				if !sess.ExpiresAt.IsZero() && now.After(sess.ExpiresAt) {
					a.Store.Dispatch(store.Action{Kind: store.KindSessionExpired, SessionID: id})
				}
			}
		}
	}
}

// Shutdown stops the coordinator loop and the store's dispatcher.
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.Store.Close()
}
