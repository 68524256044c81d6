package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/domain"
	"github.com/rajnish8869/Pulse/internal/store/memstore"
	"github.com/rajnish8869/Pulse/internal/store/wire"
)

const writeDeadline = 5 * time.Second

// conn serves one client connection: it translates envelopes into memstore
// calls and streams notifications back. Per-connection subscriptions are
// detached on disconnect, and disconnect of an identified client triggers
// the presence fail-safe.
type conn struct {
	ws    *websocket.Conn
	store *memstore.Store
	send  chan []byte
	log   zerolog.Logger

	mu     sync.Mutex
	user   domain.UserID
	subs   map[uint64]func() // sub id -> cancel
	closed bool
}

func newConn(ws *websocket.Conn, store *memstore.Store, token string) *conn {
	return &conn{
		ws:    ws,
		store: store,
		send:  make(chan []byte, 64),
		log:   log.With().Str("module", "store.server").Str("token", token).Logger(),
		subs:  make(map[uint64]func()),
	}
}

func (c *conn) trySend(env wire.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal envelope")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warn().Str("type", env.Type).Msg("send buffer full, dropping")
	}
}

func (c *conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *conn) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.teardown()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Info().Err(err).Msg("readPump closing")
			return
		}
		c.handle(data)
	}
}

// teardown cancels subscriptions, fires the presence fail-safe for the
// identified user and closes the socket.
func (c *conn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	user := c.user
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, cancelSub := range subs {
		cancelSub()
	}
	if user != "" {
		c.store.MarkDisconnected(user)
	}
	_ = c.ws.Close()
}

func (c *conn) result(req uint64, err error) {
	env := wire.Envelope{Type: wire.TypeResult, Req: req, OK: err == nil}
	if err != nil {
		env.Error = err.Error()
	}
	c.trySend(env)
}

func (c *conn) handle(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Error().Err(err).Msg("bad json")
		return
	}
	ctx := context.Background()

	switch env.Type {
	case wire.TypeHello:
		c.hello(env)
	case wire.TypeCreate:
		if env.Record == nil {
			c.result(env.Req, errBadEnvelope)
			return
		}
		c.result(env.Req, c.store.Create(ctx, env.Record))
	case wire.TypeGet:
		rec, err := c.store.Get(ctx, env.ID)
		out := wire.Envelope{Type: wire.TypeResult, Req: env.Req, OK: err == nil, Record: rec}
		if err != nil {
			out.Error = err.Error()
		}
		c.trySend(out)
	case wire.TypeUpdate:
		if env.Patch == nil {
			c.result(env.Req, errBadEnvelope)
			return
		}
		c.result(env.Req, c.store.Update(ctx, env.ID, env.Patch.Core()))
	case wire.TypeDelete:
		c.result(env.Req, c.store.Delete(ctx, env.ID))
	case wire.TypeClaim:
		claimed, err := c.store.ClaimRinging(ctx, env.ID)
		out := wire.Envelope{Type: wire.TypeResult, Req: env.Req, OK: err == nil && claimed}
		if err != nil {
			out.Error = err.Error()
		}
		c.trySend(out)
	case wire.TypeArchive:
		if env.Record == nil {
			c.result(env.Req, errBadEnvelope)
			return
		}
		c.result(env.Req, c.store.Archive(ctx, *env.Record))
	case wire.TypeAppendCandidate:
		if env.Candidate == nil {
			c.result(env.Req, errBadEnvelope)
			return
		}
		c.result(env.Req, c.store.AppendCandidate(ctx, env.ID, env.Dir, *env.Candidate))
	case wire.TypeSubscribe:
		c.addSub(env.Sub, c.store.Subscribe(env.ID, func(rec domain.CallSession) {
			r := rec
			c.trySend(wire.Envelope{Type: wire.TypeRecord, Sub: env.Sub, Record: &r})
		}))
	case wire.TypeSubscribeCandidates:
		c.addSub(env.Sub, c.store.SubscribeCandidates(env.ID, env.Dir, func(cand domain.Candidate) {
			cd := cand
			c.trySend(wire.Envelope{Type: wire.TypeCandidate, Sub: env.Sub, Candidate: &cd})
		}))
	case wire.TypeWatchIncoming:
		c.addSub(env.Sub, c.store.WatchIncoming(env.Callee, func(rec domain.CallSession) {
			r := rec
			c.trySend(wire.Envelope{Type: wire.TypeIncoming, Sub: env.Sub, Record: &r})
		}))
	case wire.TypeUnsubscribe:
		c.dropSub(env.Sub)
	case wire.TypeWake:
		c.result(env.Req, c.store.Wake(ctx, env.Callee, env.ID, env.CallerName))
	default:
		c.log.Warn().Str("type", env.Type).Msg("unknown envelope")
	}
}

var errBadEnvelope = errors.New("malformed envelope")

// hello binds the connection to an identity: wake signals for that identity
// are pushed here, and disconnect ends its live calls.
func (c *conn) hello(env wire.Envelope) {
	c.mu.Lock()
	c.user = env.User
	c.mu.Unlock()

	cancel := c.store.WatchWake(env.User, func(w memstore.WakeSignal) {
		c.trySend(wire.Envelope{Type: wire.TypeWakeUp, ID: w.CallID, CallerName: w.CallerName})
	})
	c.addSub(0, cancel)
	c.log.Info().Str("user", string(env.User)).Msg("client identified")
	c.result(env.Req, nil)
}

func (c *conn) addSub(sub uint64, cancel func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.subs[sub] = cancel
	c.mu.Unlock()
}

func (c *conn) dropSub(sub uint64) {
	c.mu.Lock()
	cancel, ok := c.subs[sub]
	delete(c.subs, sub)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
