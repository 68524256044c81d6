package call

import (
	"context"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

// Floor control: the link is half-duplex and ActiveSpeakerID on the record is
// the sole signal for who may transmit. Only the speaking party ever writes
// its own identity there, and clearing is symmetric, so no extra locking is
// needed.

// setTalking gates the outbound track and publishes or clears the floor.
func (s *session) setTalking(ctx context.Context, on bool) error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	s.mu.Unlock()

	s.tr.SetMicEnabled(on)

	p := core.Patch{}
	if on {
		self := s.self
		p.Speaker = &self
	} else {
		p.ClearSpeaker = true
	}
	if err := s.c.store.Update(ctx, s.id, p); err != nil {
		// Recoverable: the next toggle or record change corrects the floor.
		s.log.Warn().Err(err).Bool("talking", on).Msg("floor write failed")
	}
	s.log.Info().Bool("talking", on).Msg("floor toggled")
	return nil
}

// updatePlayback gates remote audio strictly: unmuted only when the call is
// CONNECTED and the floor holder is the remote party. Never unmutes for the
// local identity, which would loop local audio back.
func (s *session) updatePlayback(rec domain.CallSession) {
	unmute := rec.Status == domain.StatusConnected &&
		rec.ActiveSpeakerID != "" &&
		rec.ActiveSpeakerID == s.peer &&
		rec.ActiveSpeakerID != s.self
	s.tr.SetPlaybackMuted(!unmute)
}
