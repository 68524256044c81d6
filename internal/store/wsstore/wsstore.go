// Package wsstore implements core.SignalStore over a websocket to pulsed.
// Mutations are request/response; subscriptions stream server-push
// envelopes dispatched by subscription id. Pushes are delivered through
// per-subscription pumps, never on the read loop itself, so a callback may
// issue requests on the same connection.
package wsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
	"github.com/rajnish8869/Pulse/internal/store/pump"
	"github.com/rajnish8869/Pulse/internal/store/wire"
)

const (
	dialTimeout  = 10 * time.Second
	replyTimeout = 10 * time.Second
)

type subEntry struct {
	rec  *pump.Pump[domain.CallSession]
	cand *pump.Pump[domain.Candidate]
}

func (e *subEntry) close() {
	if e.rec != nil {
		e.rec.Close()
	}
	if e.cand != nil {
		e.cand.Close()
	}
}

// Store is one client's connection to the shared record store.
type Store struct {
	log      zerolog.Logger
	wakePump *pump.Pump[wire.Envelope]

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu      sync.Mutex
	pending map[uint64]chan wire.Envelope
	subs    map[uint64]*subEntry
	onWake  func(domain.CallID, string)
	nextReq uint64
	nextSub uint64
	closed  bool
}

// Dial connects and identifies as user; the server uses the identity for
// wake push and the presence fail-safe.
func Dial(ctx context.Context, url string, user domain.UserID) (*Store, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial store: %w", err)
	}

	s := &Store{
		log:     log.With().Str("module", "wsstore").Str("user", string(user)).Logger(),
		ws:      ws,
		pending: make(map[uint64]chan wire.Envelope),
		subs:    make(map[uint64]*subEntry),
	}
	s.wakePump = pump.New(func(env wire.Envelope) {
		s.mu.Lock()
		fn := s.onWake
		s.mu.Unlock()
		if fn != nil {
			fn(env.ID, env.CallerName)
		}
	})
	go s.readLoop()

	if _, err := s.request(ctx, wire.Envelope{Type: wire.TypeHello, User: user}); err != nil {
		s.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	return s, nil
}

// OnWake registers the handler invoked on a WAKE_UP push.
func (s *Store) OnWake(fn func(callID domain.CallID, callerName string)) {
	s.mu.Lock()
	s.onWake = fn
	s.mu.Unlock()
}

func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, e := range subs {
		e.close()
	}
	s.wakePump.Close()
	_ = s.ws.Close()
}

func (s *Store) write(env wire.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteMessage(websocket.TextMessage, b)
}

// request sends one envelope and waits for its correlated result.
func (s *Store) request(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wire.Envelope{}, core.ErrClosed
	}
	s.nextReq++
	env.Req = s.nextReq
	ch := make(chan wire.Envelope, 1)
	s.pending[env.Req] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, env.Req)
		s.mu.Unlock()
	}()

	if err := s.write(env); err != nil {
		return wire.Envelope{}, err
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return wire.Envelope{}, core.ErrClosed
		}
		return reply, nil
	case <-timer.C:
		return wire.Envelope{}, errors.New("store reply timeout")
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

func (s *Store) readLoop() {
	defer s.Close()
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.log.Info().Err(err).Msg("read loop closing")
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Error().Err(err).Msg("bad envelope")
			continue
		}
		s.dispatch(env)
	}
}

// dispatch routes one inbound envelope. Pushes go through the subscription
// pumps: a callback blocking or calling back into the store must never stall
// the read loop that feeds every pending reply.
func (s *Store) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TypeResult:
		s.mu.Lock()
		ch, ok := s.pending[env.Req]
		s.mu.Unlock()
		if ok {
			ch <- env
		}
	case wire.TypeRecord, wire.TypeIncoming:
		if env.Record == nil {
			return
		}
		s.mu.Lock()
		sub := s.subs[env.Sub]
		s.mu.Unlock()
		if sub != nil && sub.rec != nil {
			sub.rec.Push(*env.Record)
		}
	case wire.TypeCandidate:
		if env.Candidate == nil {
			return
		}
		s.mu.Lock()
		sub := s.subs[env.Sub]
		s.mu.Unlock()
		if sub != nil && sub.cand != nil {
			sub.cand.Push(*env.Candidate)
		}
	case wire.TypeWakeUp:
		s.wakePump.Push(env)
	default:
		s.log.Warn().Str("type", env.Type).Msg("unknown envelope")
	}
}

func resultErr(reply wire.Envelope) error {
	if reply.OK {
		return nil
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	return errors.New("store request failed")
}

func (s *Store) Create(ctx context.Context, rec *domain.CallSession) error {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeCreate, Record: rec})
	if err != nil {
		return err
	}
	return resultErr(reply)
}

func (s *Store) Get(ctx context.Context, id domain.CallID) (*domain.CallSession, error) {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeGet, ID: id})
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, core.ErrNotFound
	}
	return reply.Record, nil
}

func (s *Store) Update(ctx context.Context, id domain.CallID, p core.Patch) error {
	wp := wire.FromPatch(p)
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeUpdate, ID: id, Patch: &wp})
	if err != nil {
		return err
	}
	return resultErr(reply)
}

func (s *Store) Delete(ctx context.Context, id domain.CallID) error {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeDelete, ID: id})
	if err != nil {
		return err
	}
	return resultErr(reply)
}

func (s *Store) ClaimRinging(ctx context.Context, id domain.CallID) (bool, error) {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeClaim, ID: id})
	if err != nil {
		return false, err
	}
	if reply.Error != "" {
		return false, errors.New(reply.Error)
	}
	return reply.OK, nil
}

func (s *Store) Archive(ctx context.Context, rec domain.CallSession) error {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeArchive, Record: &rec})
	if err != nil {
		return err
	}
	return resultErr(reply)
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.CallID, dir domain.Direction, c domain.Candidate) error {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeAppendCandidate, ID: id, Dir: dir, Candidate: &c})
	if err != nil {
		return err
	}
	return resultErr(reply)
}

func (s *Store) subscribe(env wire.Envelope, entry *subEntry) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		entry.close()
		return func() {}
	}
	s.nextSub++
	sub := s.nextSub
	env.Sub = sub
	s.subs[sub] = entry
	s.mu.Unlock()

	if err := s.write(env); err != nil {
		s.log.Warn().Err(err).Str("type", env.Type).Msg("subscribe write failed")
	}
	return func() {
		s.mu.Lock()
		delete(s.subs, sub)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			_ = s.write(wire.Envelope{Type: wire.TypeUnsubscribe, Sub: sub})
		}
		entry.close()
	}
}

func (s *Store) Subscribe(id domain.CallID, fn func(domain.CallSession)) func() {
	return s.subscribe(wire.Envelope{Type: wire.TypeSubscribe, ID: id}, &subEntry{rec: pump.New(fn)})
}

func (s *Store) SubscribeCandidates(id domain.CallID, dir domain.Direction, fn func(domain.Candidate)) func() {
	return s.subscribe(wire.Envelope{Type: wire.TypeSubscribeCandidates, ID: id, Dir: dir}, &subEntry{cand: pump.New(fn)})
}

func (s *Store) WatchIncoming(callee domain.UserID, fn func(domain.CallSession)) func() {
	return s.subscribe(wire.Envelope{Type: wire.TypeWatchIncoming, Callee: callee}, &subEntry{rec: pump.New(fn)})
}

// Wake implements core.Waker through the server's push channel.
func (s *Store) Wake(ctx context.Context, callee domain.UserID, id domain.CallID, callerName string) error {
	reply, err := s.request(ctx, wire.Envelope{Type: wire.TypeWake, Callee: callee, ID: id, CallerName: callerName})
	if err != nil {
		return err
	}
	return resultErr(reply)
}
