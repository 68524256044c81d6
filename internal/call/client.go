// Package call implements the call-session signaling and negotiation engine:
// the session state machine, offer/answer and candidate exchange over the
// shared record store, glare arbitration, floor control and the auto-answer
// dispatcher.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

var (
	ErrBusy           = errors.New("another call is active")
	ErrNoActiveCall   = errors.New("no active call")
	ErrNoIncomingCall = errors.New("no incoming call")
	ErrNotStarted     = errors.New("client not started")
)

// storeOpTimeout bounds store writes issued from callbacks and teardown.
const storeOpTimeout = 5 * time.Second

// Timeouts are the watchdog durations, armed on state entry and cancelled on
// any terminal transition.
type Timeouts struct {
	Offering   time.Duration // no RINGING observed
	Ringing    time.Duration // no CONNECTING observed (offerer side)
	Connecting time.Duration // no usable transport
	StaleOffer time.Duration // inbound offers older than this are ignored
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Offering:   10 * time.Second,
		Ringing:    15 * time.Second,
		Connecting: 20 * time.Second,
		StaleOffer: 10 * time.Second,
	}
}

// TransportFactory builds one transport per session.
type TransportFactory func() (core.Transport, error)

// Options wires a Client; Store, Device and Dial are required.
type Options struct {
	Self        domain.UserID
	DisplayName string
	Store       core.SignalStore
	Device      core.MediaDevice
	Waker       core.Waker
	Dial        TransportFactory
	Timeouts    Timeouts
	AutoAnswer  bool
}

// Client is the caller-facing surface. It holds at most one non-terminal
// session; the current-session slot is the only cross-session state.
type Client struct {
	self       domain.UserID
	name       string
	store      core.SignalStore
	device     core.MediaDevice
	waker      core.Waker
	dial       TransportFactory
	timeouts   Timeouts
	autoAnswer bool
	timers     *timerService

	mu          sync.Mutex
	active      *session
	incoming    *domain.CallSession
	watchCancel func()
}

func NewClient(opts Options) *Client {
	if opts.Waker == nil {
		opts.Waker = core.NopWaker{}
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	return &Client{
		self:       opts.Self,
		name:       opts.DisplayName,
		store:      opts.Store,
		device:     opts.Device,
		waker:      opts.Waker,
		dial:       opts.Dial,
		timeouts:   opts.Timeouts,
		autoAnswer: opts.AutoAnswer,
		timers:     newTimerService(),
	}
}

// Start begins observing inbound offers addressed to the local identity.
func (c *Client) Start(ctx context.Context) {
	cancel := c.store.WatchIncoming(c.self, func(rec domain.CallSession) {
		c.handleInbound(ctx, rec)
	})
	c.mu.Lock()
	c.watchCancel = cancel
	c.mu.Unlock()
	log.Info().Str("module", "call").Str("self", string(c.self)).Msg("dispatcher started")
}

// Stop ends the dispatcher and tears down any active session.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.watchCancel
	c.watchCancel = nil
	active := c.active
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active != nil {
		st := domain.StatusEnded
		active.teardown("client stopped", &st)
	}
	c.device.Release()
}

// MakeCall runs the offerer flow: allocate the session, write the initial
// record with the offer, subscribe for the answer and the callee's
// candidates, and ask the wake dispatcher to nudge the callee's devices.
func (c *Client) MakeCall(ctx context.Context, callee domain.UserID, calleeName string) (domain.CallID, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.mu.Unlock()

	// Local-resource failure is fatal to the attempt and surfaced here.
	if _, err := c.device.Acquire(); err != nil {
		return "", fmt.Errorf("acquire media: %w", err)
	}

	tr, err := c.dial()
	if err != nil {
		return "", fmt.Errorf("create transport: %w", err)
	}

	id := domain.NewCallID()
	s := newSession(c, roleOfferer, domain.CallSession{
		CallID:   id,
		CallerID: c.self,
		CalleeID: callee,
	}, tr)

	// Candidate handler before the offer, so nothing gathered is lost.
	s.bindTransport(domain.DirCaller)

	offer, err := tr.CreateOffer(false)
	if err != nil {
		_ = tr.Close()
		return "", fmt.Errorf("create offer: %w", err)
	}

	live := domain.NewCallSession(id, c.self, callee, c.name, calleeName, offer)
	s.mu.Lock()
	s.rec = *live
	s.appliedOffer = offer.Payload
	s.mu.Unlock()

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		_ = tr.Close()
		return "", ErrBusy
	}
	c.active = s
	c.mu.Unlock()

	if err := c.store.Create(ctx, live); err != nil {
		s.abort("record create failed")
		return "", fmt.Errorf("create record: %w", err)
	}

	s.addUnsub(c.store.Subscribe(s.id, s.onRecord))
	s.addUnsub(c.store.SubscribeCandidates(s.id, domain.DirCallee, s.onRemoteCandidate))
	s.advance(domain.StatusOffering)

	if err := c.waker.Wake(ctx, callee, s.id, c.name); err != nil {
		s.log.Warn().Err(err).Msg("wake dispatch failed")
	}

	s.log.Info().Str("callee", string(callee)).Msg("call placed")
	return s.id, nil
}

// answer runs the answerer flow on an inbound record. The guarded RINGING
// claim makes acknowledgement exactly-once across concurrent callee devices.
func (c *Client) answer(ctx context.Context, rec domain.CallSession) error {
	if rec.Offer == nil {
		return errors.New("inbound record has no offer")
	}

	if _, err := c.device.Acquire(); err != nil {
		c.clearIncoming(rec.CallID)
		c.writeStatus(ctx, rec.CallID, domain.StatusEnded)
		return fmt.Errorf("acquire media: %w", err)
	}

	tr, err := c.dial()
	if err != nil {
		c.clearIncoming(rec.CallID)
		return fmt.Errorf("create transport: %w", err)
	}

	s := newSession(c, roleAnswerer, rec, tr)
	s.bindTransport(domain.DirCallee)

	// Candidates may land before the remote description is applied; subscribe
	// first and let the buffer hold them.
	s.addUnsub(c.store.SubscribeCandidates(s.id, domain.DirCaller, s.onRemoteCandidate))

	claimed, err := c.store.ClaimRinging(ctx, s.id)
	if err != nil {
		s.abort("ringing claim failed")
		c.clearIncoming(rec.CallID)
		return fmt.Errorf("claim ringing: %w", err)
	}
	if !claimed {
		// Another device acknowledged first; back out without touching the
		// record.
		s.abort("ringing already claimed")
		c.clearIncoming(rec.CallID)
		return nil
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		s.abort("busy while claiming")
		c.clearIncoming(rec.CallID)
		c.writeStatus(ctx, rec.CallID, domain.StatusBusy)
		return ErrBusy
	}
	c.active = s
	c.mu.Unlock()
	s.advance(domain.StatusRinging)

	if err := s.reApply(*rec.Offer); err != nil {
		st := domain.StatusEnded
		s.teardown("remote description rejected", &st)
		c.clearIncoming(rec.CallID)
		return err
	}

	status := domain.StatusConnecting
	if err := c.store.Update(ctx, s.id, core.Patch{Status: &status}); err != nil {
		s.log.Warn().Err(err).Msg("connecting status write failed")
	}
	s.advance(domain.StatusConnecting)

	s.addUnsub(c.store.Subscribe(s.id, s.onRecord))

	c.clearIncoming(rec.CallID)
	s.log.Info().Str("caller", string(rec.CallerID)).Msg("call answered")
	return nil
}

// AnswerCall accepts the pending inbound offer. With auto-answer enabled the
// dispatcher already did this.
func (c *Client) AnswerCall(ctx context.Context) error {
	c.mu.Lock()
	in := c.incoming
	c.mu.Unlock()
	if in == nil {
		return ErrNoIncomingCall
	}
	return c.answer(ctx, *in)
}

// RejectCall declines the pending inbound offer.
func (c *Client) RejectCall(ctx context.Context) error {
	c.mu.Lock()
	in := c.incoming
	c.incoming = nil
	c.mu.Unlock()
	if in == nil {
		return ErrNoIncomingCall
	}
	c.writeStatus(ctx, in.CallID, domain.StatusRejected)
	log.Info().Str("module", "call").Str("call", string(in.CallID)).Msg("call rejected")
	return nil
}

// EndCall hangs up the active session. Safe to call twice or to race a
// remote terminal notification; teardown runs exactly once and hanging up
// while idle is a no-op.
func (c *Client) EndCall(context.Context) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return nil
	}
	st := domain.StatusEnded
	active.teardown("local hangup", &st)
	return nil
}

// ToggleTalk is the push-to-talk switch.
func (c *Client) ToggleTalk(ctx context.Context, talking bool) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return ErrNoActiveCall
	}
	return active.setTalking(ctx, talking)
}

// Status reports the active session's state, or IDLE.
func (c *Client) Status() domain.CallStatus {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return domain.StatusIdle
	}
	return active.currentStatus()
}

// ActiveCall returns a snapshot of the live record of the active session.
func (c *Client) ActiveCall() (domain.CallSession, bool) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return domain.CallSession{}, false
	}
	active.mu.Lock()
	rec := active.rec
	active.mu.Unlock()
	return rec, true
}

// IncomingCall returns the pending inbound offer, if any.
func (c *Client) IncomingCall() (domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return domain.CallSession{}, false
	}
	return *c.incoming, true
}

func (c *Client) clearSession(s *session) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	if c.incoming != nil && c.incoming.CallID == s.id {
		c.incoming = nil
	}
	c.mu.Unlock()
}

func (c *Client) clearIncoming(id domain.CallID) {
	c.mu.Lock()
	if c.incoming != nil && c.incoming.CallID == id {
		c.incoming = nil
	}
	c.mu.Unlock()
}
