package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

type role int

const (
	roleOfferer role = iota
	roleAnswerer
)

func (r role) String() string {
	if r == roleOfferer {
		return "offerer"
	}
	return "answerer"
}

// session owns one call from creation to teardown. All mutation goes through
// its methods; asynchronous store and transport callbacks read the current
// fields through the session instead of captured snapshots.
type session struct {
	c    *Client
	id   domain.CallID
	role role
	self domain.UserID
	peer domain.UserID
	tr   core.Transport
	log  zerolog.Logger

	mu     sync.Mutex
	status domain.CallStatus
	rec    domain.CallSession

	// Candidate handling: buffered until the remote description is applied,
	// then applied immediately. seen dedupes by content hash.
	remoteSet bool
	pending   []domain.Candidate
	seen      map[string]struct{}

	// Negotiation epoch bookkeeping.
	appliedOffer  string
	appliedAnswer string
	renegotiating bool

	reachedConnected bool
	torn             bool
	unsubs           []func()
}

func newSession(c *Client, r role, rec domain.CallSession, tr core.Transport) *session {
	s := &session{
		c:      c,
		id:     rec.CallID,
		role:   r,
		self:   c.self,
		peer:   rec.PeerOf(c.self),
		tr:     tr,
		status: domain.StatusIdle,
		rec:    rec,
		seen:   make(map[string]struct{}),
	}
	s.log = log.With().Str("module", "call").Str("call", string(s.id)).Str("role", r.String()).Logger()
	return s
}

func (s *session) addUnsub(fn func()) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		fn()
		return
	}
	s.unsubs = append(s.unsubs, fn)
	s.mu.Unlock()
}

// advance moves the state machine forward. Backward or duplicate transitions
// are ignored; entering a non-terminal state arms its watchdog.
func (s *session) advance(to domain.CallStatus) bool {
	s.mu.Lock()
	if s.torn || !s.status.Advances(to) {
		s.mu.Unlock()
		return false
	}
	from := s.status
	s.status = to
	if to == domain.StatusConnected {
		s.reachedConnected = true
	}
	s.mu.Unlock()

	s.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("transition")

	switch to {
	case domain.StatusOffering:
		s.armWatchdog(domain.StatusOffering, s.c.timeouts.Offering)
	case domain.StatusRinging:
		// Only the offerer waits here; the answerer moves straight on to
		// CONNECTING after writing its answer.
		if s.role == roleOfferer {
			s.armWatchdog(domain.StatusRinging, s.c.timeouts.Ringing)
		}
	case domain.StatusConnecting:
		s.armWatchdog(domain.StatusConnecting, s.c.timeouts.Connecting)
	case domain.StatusConnected:
		s.c.timers.Cancel(s.id)
	}
	return true
}

func (s *session) armWatchdog(state domain.CallStatus, d time.Duration) {
	s.c.timers.Arm(s.id, d, func() {
		// Watchdog expiry is a designed termination path, not an error.
		s.log.Info().Str("state", string(state)).Dur("after", d).Msg("watchdog expired")
		st := domain.StatusEnded
		s.teardown("timed out", &st)
	})
}

func (s *session) currentStatus() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// teardown releases everything the session holds. It is idempotent: the torn
// flag guarantees exactly one teardown sequence even when a local hangup, a
// remote terminal notification and a watchdog race each other. writeStatus,
// when set, is written to the live record unless it is already terminal.
func (s *session) teardown(cause string, writeStatus *domain.CallStatus) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.pending = nil
	s.seen = nil
	rec := s.rec
	status := s.status
	reached := s.reachedConnected
	s.mu.Unlock()

	s.log.Info().Str("cause", cause).Str("status", string(status)).Msg("teardown")

	s.c.timers.Cancel(s.id)
	for _, u := range unsubs {
		u()
	}
	if err := s.tr.Close(); err != nil {
		s.log.Warn().Err(err).Msg("transport close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	terminal := rec.Status
	if writeStatus != nil && !rec.Status.Terminal() {
		terminal = *writeStatus
		endedAt := time.Now().Unix()
		var dur int64
		if reached {
			dur = endedAt - rec.StartedAt.Unix()
		}
		p := core.Patch{Status: writeStatus, EndedAt: &endedAt, Duration: &dur}
		if err := s.c.store.Update(ctx, s.id, p); err != nil {
			// Recoverable signaling I/O: the presence fail-safe or the peer's
			// watchdog will converge the record.
			s.log.Warn().Err(err).Msg("terminal status write failed")
		}
	}
	if !terminal.Terminal() {
		terminal = domain.StatusEnded
	}

	rec.Status = domain.Classify(terminal, reached, s.role == roleAnswerer)
	rec.EndedAt = time.Now()
	if reached {
		rec.Duration = int64(rec.EndedAt.Sub(rec.StartedAt).Seconds())
	}
	if err := s.c.store.Archive(ctx, rec); err != nil {
		s.log.Warn().Err(err).Msg("archive failed")
	}
	// The creating client owns the live record's lifetime.
	if s.role == roleOfferer {
		if err := s.c.store.Delete(ctx, s.id); err != nil {
			s.log.Warn().Err(err).Msg("live record delete failed")
		}
	}

	s.c.clearSession(s)
}

// abort closes a half-built session that never owned the live record, e.g.
// when another device won the RINGING claim. Nothing is written to the store.
func (s *session) abort(cause string) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.pending = nil
	s.seen = nil
	s.mu.Unlock()

	s.log.Info().Str("cause", cause).Msg("abort")
	s.c.timers.Cancel(s.id)
	for _, u := range unsubs {
		u()
	}
	_ = s.tr.Close()
	s.c.clearSession(s)
}
