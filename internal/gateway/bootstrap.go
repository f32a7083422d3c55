// ABOUTME: Startup bootstrap loop waiting for the issuer and seeding the admin user
// ABOUTME: Bounded retries; failure degrades readiness instead of aborting startup

package gateway

import (
	"context"
	"sync"
	"time"
)

// Bootstrap outcomes, surfaced on /health/ready.
const (
	bootstrapPending  = "pending"
	bootstrapReady    = "ready"
	bootstrapDegraded = "degraded"
)

// bootstrapState tracks the startup bootstrap outcome for the readiness
// endpoint. Written by the bootstrap goroutine, read by handlers.
type bootstrapState struct {
	mu      sync.RWMutex
	outcome string
	detail  string
}

func newBootstrapState() *bootstrapState {
	return &bootstrapState{outcome: bootstrapPending}
}

func (b *bootstrapState) set(outcome, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcome = outcome
	b.detail = detail
}

func (b *bootstrapState) get() (string, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.outcome, b.detail
}

// runBootstrap waits for the issuer to come up, then seeds the bootstrap
// admin user if one is configured. Failures mark the gateway degraded but
// never stop it serving: token validation still works through the remote
// fallback once the issuer recovers.
func (g *Gateway) runBootstrap(ctx context.Context) {
	logger := g.logger.With("component", "bootstrap")
	cfg := g.config.Bootstrap

	deadline := time.Now().Add(cfg.MaxWait)
	attempt := 0

	for {
		attempt++
		err := g.issuer.Ready(ctx)
		if err == nil {
			break
		}

		if ctx.Err() != nil {
			g.bootstrap.set(bootstrapDegraded, "canceled before issuer became ready")
			return
		}
		if time.Now().After(deadline) {
			logger.Error("issuer never became ready", "attempts", attempt, "max_wait", cfg.MaxWait)
			g.bootstrap.set(bootstrapDegraded, "issuer unreachable: "+err.Error())
			return
		}

		logger.Warn("issuer not ready, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			g.bootstrap.set(bootstrapDegraded, "canceled before issuer became ready")
			return
		case <-time.After(cfg.RetryDelay):
		}
	}

	logger.Info("issuer ready", "attempts", attempt)

	if cfg.AdminUser == "" {
		logger.Info("no bootstrap admin configured, skipping admin seed")
		g.bootstrap.set(bootstrapReady, "")
		return
	}

	if err := g.issuer.EnsureAdminUser(ctx, cfg.AdminUser, cfg.AdminPassword); err != nil {
		logger.Error("bootstrap admin seed failed", "username", cfg.AdminUser, "error", err)
		g.bootstrap.set(bootstrapDegraded, "admin seed failed: "+err.Error())
		return
	}

	logger.Info("bootstrap complete", "admin_user", cfg.AdminUser)
	g.bootstrap.set(bootstrapReady, "")
}
