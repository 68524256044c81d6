package call

import (
	"context"
	"fmt"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

// This file is the negotiation engine: the per-session logic that exchanges
// session descriptions and connectivity candidates through the store. The
// description channel and the candidate channel carry no ordering guarantee
// relative to each other, so every handler here must be safely replayable.

// bindTransport registers the transport callbacks. The candidate emission
// handler is guarded by the torn flag so a stale handler from a torn-down
// session can never write into the store.
func (s *session) bindTransport(dir domain.Direction) {
	s.tr.OnCandidate(func(c domain.Candidate) {
		s.mu.Lock()
		torn := s.torn
		s.mu.Unlock()
		if torn {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := s.c.store.AppendCandidate(ctx, s.id, dir, c); err != nil {
			s.log.Warn().Err(err).Msg("candidate append failed")
		}
	})
	s.tr.OnStateChange(s.onTransportState)
}

// onRemoteCandidate handles one entry from the peer's candidate log. Entries
// are at-least-once: duplicates are dropped by content hash. A candidate seen
// before the remote description is applied is buffered in arrival order.
func (s *session) onRemoteCandidate(c domain.Candidate) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	h := c.Hash()
	if _, dup := s.seen[h]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[h] = struct{}{}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.tr.AddCandidate(c); err != nil {
		// Non-fatal: candidates are best-effort and redundant.
		s.log.Warn().Err(err).Msg("candidate apply failed")
	}
}

// enableCandidates drains the buffer in arrival order, then switches to
// immediate application. Candidates landing mid-drain go back through the
// buffer, so nothing ever overtakes an earlier arrival.
func (s *session) enableCandidates() {
	for {
		s.mu.Lock()
		if s.torn || len(s.pending) == 0 {
			s.remoteSet = true
			s.mu.Unlock()
			return
		}
		buf := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, c := range buf {
			if err := s.tr.AddCandidate(c); err != nil {
				s.log.Warn().Err(err).Msg("buffered candidate apply failed")
			}
		}
	}
}

func (s *session) onTransportState(st core.TransportState) {
	s.log.Info().Str("transport", st.String()).Msg("transport state")
	switch st {
	case core.TransportConnected:
		if s.advance(domain.StatusConnected) {
			ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
			defer cancel()
			status := domain.StatusConnected
			if err := s.c.store.Update(ctx, s.id, core.Patch{Status: &status}); err != nil {
				s.log.Warn().Err(err).Msg("connected status write failed")
			}
		}
	case core.TransportDisconnected, core.TransportFailed:
		// Only the offerer role initiates reconnection; the answerer waits
		// for a fresh offer epoch on the record.
		if s.role == roleOfferer {
			s.restartICE()
		}
	case core.TransportClosed:
		// Teardown owns closing; nothing to do here.
	}
}

// restartICE starts a new negotiation epoch over the same call record. The
// busy flag keeps overlapping attempts from one client apart, and a restart
// only starts while negotiation is quiescent.
func (s *session) restartICE() {
	s.mu.Lock()
	if s.torn || s.renegotiating {
		s.mu.Unlock()
		return
	}
	if !s.tr.Stable() {
		s.mu.Unlock()
		return
	}
	s.renegotiating = true
	s.mu.Unlock()

	offer, err := s.tr.CreateOffer(true)
	if err != nil {
		s.log.Error().Err(err).Msg("ice restart offer failed")
		s.mu.Lock()
		s.renegotiating = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.appliedOffer = offer.Payload
	s.mu.Unlock()

	s.log.Info().Msg("ice restart: new offer epoch")
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	// Overwrite the offer and drop the stale answer so the answerer sees a
	// clean reconnection request.
	if err := s.c.store.Update(ctx, s.id, core.Patch{Offer: &offer, ClearAnswer: true}); err != nil {
		s.log.Warn().Err(err).Msg("ice restart offer write failed")
		s.mu.Lock()
		s.renegotiating = false
		s.mu.Unlock()
	}
}

// onRecord consumes one record change notification. Notifications are
// at-least-once and may arrive out of order; everything below tolerates both.
func (s *session) onRecord(rec domain.CallSession) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.rec = rec
	s.mu.Unlock()

	if rec.Status.Terminal() {
		s.teardown("remote "+string(rec.Status), nil)
		return
	}

	switch s.role {
	case roleOfferer:
		s.offererOnRecord(rec)
	case roleAnswerer:
		s.answererOnRecord(rec)
	}
	s.updatePlayback(rec)
}

func (s *session) offererOnRecord(rec domain.CallSession) {
	if rec.Status == domain.StatusRinging {
		s.advance(domain.StatusRinging)
	}

	if rec.Answer != nil {
		s.mu.Lock()
		fresh := rec.Answer.Payload != s.appliedAnswer
		s.mu.Unlock()
		if fresh {
			s.advance(domain.StatusRinging)
			if err := s.tr.SetRemoteDescription(*rec.Answer); err != nil {
				// Negotiation cannot proceed without the remote description.
				s.log.Error().Err(err).Msg("apply answer failed")
				st := domain.StatusEnded
				s.teardown("remote description rejected", &st)
				return
			}
			s.mu.Lock()
			s.appliedAnswer = rec.Answer.Payload
			s.renegotiating = false
			s.mu.Unlock()
			s.enableCandidates()
			s.advance(domain.StatusConnecting)
		}
	}

	if rec.Status == domain.StatusConnected {
		s.advance(domain.StatusConnected)
	}
}

func (s *session) answererOnRecord(rec domain.CallSession) {
	if rec.Status == domain.StatusConnected {
		s.advance(domain.StatusConnected)
	}

	// A changed offer payload while quiescent is a reconnection request:
	// repeat the apply/answer/flush sequence on the new epoch.
	if rec.Offer == nil {
		return
	}
	s.mu.Lock()
	fresh := rec.Offer.Payload != s.appliedOffer
	s.mu.Unlock()
	if !fresh || !s.tr.Stable() {
		return
	}
	if err := s.reApply(*rec.Offer); err != nil {
		s.log.Error().Err(err).Msg("reconnection failed")
		st := domain.StatusEnded
		s.teardown("remote description rejected", &st)
	}
}

// reApply handles a fresh offer epoch on an established session.
func (s *session) reApply(offer domain.SessionDescription) error {
	if err := s.tr.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	s.mu.Lock()
	s.appliedOffer = offer.Payload
	s.mu.Unlock()

	answer, err := s.tr.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	s.mu.Lock()
	s.appliedAnswer = answer.Payload
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := s.c.store.Update(ctx, s.id, core.Patch{Answer: &answer}); err != nil {
		s.log.Warn().Err(err).Msg("reconnection answer write failed")
	}
	s.enableCandidates()
	return nil
}
