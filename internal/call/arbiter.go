package call

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

// Arbitration for inbound offers hitting a busy client. Two cases: a plain
// busy signal, and glare, where both parties offered to each other within the
// same window. Glare is resolved by the identity total order (domain.Yields),
// so both sides converge on a single surviving call without extra negotiation.

func (c *Client) arbitrate(ctx context.Context, inbound domain.CallSession, active *session) {
	alog := log.With().Str("module", "call.arbiter").
		Str("inbound", string(inbound.CallID)).
		Str("active", string(active.id)).Logger()

	status := active.currentStatus()
	glare := inbound.CallerID == active.peer &&
		active.role == roleOfferer &&
		(status == domain.StatusOffering || status == domain.StatusRinging)

	if !glare {
		alog.Info().Str("from", string(inbound.CallerID)).Msg("busy: rejecting inbound offer")
		c.writeStatus(ctx, inbound.CallID, domain.StatusBusy)
		return
	}

	if domain.Yields(c.self, inbound.CallerID) {
		// Smaller identity yields: abandon our own offer, take theirs.
		alog.Info().Msg("glare: yielding, answering inbound offer")
		st := domain.StatusEnded
		active.teardown("glare yield", &st)
		if err := c.answer(ctx, inbound); err != nil {
			alog.Error().Err(err).Msg("glare answer failed")
		}
		return
	}

	// Larger identity keeps its own offer and turns the inbound one away.
	alog.Info().Msg("glare: keeping own offer, inbound marked busy")
	c.writeStatus(ctx, inbound.CallID, domain.StatusBusy)
}

func (c *Client) writeStatus(ctx context.Context, id domain.CallID, st domain.CallStatus) {
	if err := c.store.Update(ctx, id, core.Patch{Status: &st}); err != nil {
		log.Warn().Err(err).Str("module", "call.arbiter").Str("call", string(id)).
			Str("status", string(st)).Msg("status write failed")
	}
}
