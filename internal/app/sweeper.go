package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
)

// Sweeper periodically reclaims idle sessions and expired tokens.
// Best-effort cleanup only: lazy checks at use time stay authoritative,
// so a lagging sweep never affects correctness.
type Sweeper struct {
	clock    core.Clock
	registry *Registry
	auth     *AuthGateway
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewSweeper(clock core.Clock, registry *Registry, auth *AuthGateway, interval, sessionTimeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if sessionTimeout <= 0 {
		sessionTimeout = 10 * time.Minute
	}
	return &Sweeper{
		clock:    clock,
		registry: registry,
		auth:     auth,
		interval: interval,
		timeout:  sessionTimeout,
	}
}

// Start launches the sweep loop. Idempotent; only the first call spawns.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true
	ticker := s.clock.NewTicker(s.interval)
	go s.loop(ctx, ticker)
	log.Info().Str("module", "app.sweeper").Dur("interval", s.interval).Dur("timeout", s.timeout).Msg("sweeper started")
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, ticker core.Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	removed := s.registry.SweepInactive(s.timeout)
	purged := s.auth.PurgeExpired(s.clock.Now())
	if len(removed) > 0 || purged > 0 {
		log.Info().Str("module", "app.sweeper").Int("sessions", len(removed)).Int("tokens", purged).Msg("sweep completed")
	}
}
