package call

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/domain"
)

// The wake dispatcher observes inbound offers addressed to the local
// identity. When idle it responds like a two-way radio: record the offer,
// ring, and answer without waiting for confirmation (unless auto-answer is
// disabled). When busy it defers to the arbiter. Stale offers are ignored
// rather than answered.

func (c *Client) handleInbound(ctx context.Context, rec domain.CallSession) {
	dlog := log.With().Str("module", "call.dispatch").Str("call", string(rec.CallID)).
		Str("from", string(rec.CallerID)).Logger()

	if rec.Status != domain.StatusOffering {
		return
	}
	age := time.Since(rec.StartedAt)
	if age > c.timeouts.StaleOffer {
		dlog.Info().Dur("age", age).Msg("ignoring stale offer")
		return
	}

	c.mu.Lock()
	if c.incoming != nil && c.incoming.CallID == rec.CallID {
		// Duplicate notification for an offer we already took.
		c.mu.Unlock()
		return
	}
	active := c.active
	if active == nil {
		in := rec
		c.incoming = &in
	}
	c.mu.Unlock()

	if active != nil {
		c.arbitrate(ctx, rec, active)
		return
	}

	// A pending offer dies with its freshness window; the caller's watchdog
	// has ended the record by then and answering it would hit a dead call.
	c.timers.Arm(rec.CallID, c.timeouts.StaleOffer-age, func() {
		c.clearIncoming(rec.CallID)
		dlog.Info().Msg("pending offer expired")
	})

	dlog.Info().Str("caller_name", rec.CallerName).Msg("incoming call")
	if !c.autoAnswer {
		return
	}
	if err := c.answer(ctx, rec); err != nil {
		dlog.Error().Err(err).Msg("auto-answer failed")
	}
}
