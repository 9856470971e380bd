package admission

import (
	"context"
	"fmt"
	"time"

	"shopimage-server-go/internal/platform/logging"
)

// Reasons an admission can be refused.
const (
	ReasonRate  = "rate"
	ReasonQuota = "quota"
)

// Admission is the combined decision of the rate limiter and the quota
// ledger for one request.
type Admission struct {
	Allowed bool
	Reason  string
	Rate    RateDecision
	Quota   QuotaDecision
}

// Gate fronts the conversion endpoints with both admission controls. The
// rate limiter runs first; a rate-limited request is never charged quota.
type Gate struct {
	limiter   *RateLimiter
	ledger    *Ledger
	idleEvict time.Duration
	logger    *logging.Logger
}

// NewGate wires a limiter and a ledger behind one entry point. idleEvict
// bounds how long an idle identity stays tracked; zero disables eviction.
func NewGate(limiter *RateLimiter, ledger *Ledger, idleEvict time.Duration, logger *logging.Logger) *Gate {
	return &Gate{
		limiter:   limiter,
		ledger:    ledger,
		idleEvict: idleEvict,
		logger:    logger,
	}
}

// Admit charges one rate token and units quota units for identity.
func (g *Gate) Admit(identity, plan string, units uint64) Admission {
	rate := g.limiter.Take(identity)
	if !rate.Allowed {
		return Admission{Reason: ReasonRate, Rate: rate}
	}

	quota := g.ledger.TryConsume(identity, plan, units)
	if !quota.Allowed {
		return Admission{Reason: ReasonQuota, Rate: rate, Quota: quota}
	}

	return Admission{Allowed: true, Rate: rate, Quota: quota}
}

// TakeRate charges one rate token without touching quota. Used by the
// HTTP middleware, which runs before the handler decides how many quota
// units the request is worth.
func (g *Gate) TakeRate(identity string) RateDecision {
	return g.limiter.Take(identity)
}

// ConsumeQuota charges quota units without a rate check.
func (g *Gate) ConsumeQuota(identity, plan string, units uint64) QuotaDecision {
	return g.ledger.TryConsume(identity, plan, units)
}

// Ledger exposes the underlying quota ledger for persistence wiring.
func (g *Gate) Ledger() *Ledger {
	return g.ledger
}

// Run evicts idle identities until ctx is cancelled. Intended to be
// launched as a background goroutine at boot.
func (g *Gate) Run(ctx context.Context) {
	if g.idleEvict <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(g.idleEvict / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-g.idleEvict)
			buckets := g.limiter.Evict(cutoff)
			entries := g.ledger.Evict(cutoff)
			if buckets > 0 || entries > 0 {
				g.logger.DebugTag("ADMIT", fmt.Sprintf(
					"evicted idle identities: buckets=%d quota=%d", buckets, entries))
			}
		}
	}
}
