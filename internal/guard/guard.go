// Package guard decides whether a request may reach a sensitive read at all,
// before any credential is looked at.
package guard

import (
	"time"

	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
)

// Denial reasons
const (
	ReasonRateLimited = "RateLimited"
	ReasonBotDetected = "BotDetected"
)

// ActionDeliveryAccess is the rate-limit action for the delivery surface.
const ActionDeliveryAccess = "delivery_access"

// Verdict is the outcome of a guard check.
type Verdict struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	// Signature is the matched bot signature, for logs only.
	Signature string
}

// Guard runs the rate limit, then the bot filter.
type Guard struct {
	limiter *Limiter
	bots    *BotFilter
}

// New creates a guard. Either component may be nil to disable it.
func New(limiter *Limiter, bots *BotFilter) *Guard {
	return &Guard{limiter: limiter, bots: bots}
}

// Limiter returns the underlying limiter.
func (g *Guard) Limiter() *Limiter {
	return g.limiter
}

// Check evaluates one request for action from clientIP.
func (g *Guard) Check(action, clientIP, userAgent string) Verdict {
	if g.limiter != nil {
		if ok, retry := g.limiter.Allow(action, clientIP); !ok {
			metrics.GuardDenialsTotal.WithLabelValues(action, ReasonRateLimited).Inc()
			return Verdict{Reason: ReasonRateLimited, RetryAfter: retry}
		}
	}
	if g.bots != nil {
		if sig, bot := g.bots.Match(userAgent); bot {
			metrics.GuardDenialsTotal.WithLabelValues(action, ReasonBotDetected).Inc()
			return Verdict{Reason: ReasonBotDetected, Signature: sig}
		}
	}
	return Verdict{Allowed: true}
}
