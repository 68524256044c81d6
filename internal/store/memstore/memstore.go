// Package memstore is the in-process SignalStore: the shared record table,
// candidate logs and change notifications the call engine negotiates
// through. The server embeds one; tests drive the engine against it
// directly.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
	"github.com/rajnish8869/Pulse/internal/store/pump"
)

type candKey struct {
	id  domain.CallID
	dir domain.Direction
}

// WakeSignal mirrors the FCM data payload the original client wakes on.
type WakeSignal struct {
	CallID     domain.CallID `json:"call_id"`
	CallerName string        `json:"caller_name"`
}

// Store implements core.SignalStore and core.Waker in memory.
type Store struct {
	mu       sync.Mutex
	records  map[domain.CallID]*domain.CallSession
	cands    map[candKey][]domain.Candidate
	archive  map[domain.CallID]domain.CallSession
	recSubs  map[domain.CallID]map[uint64]*pump.Pump[domain.CallSession]
	candSubs map[candKey]map[uint64]*pump.Pump[domain.Candidate]
	inSubs   map[domain.UserID]map[uint64]*pump.Pump[domain.CallSession]
	wakeSubs map[domain.UserID]map[uint64]*pump.Pump[WakeSignal]
	nextSub  uint64
}

func New() *Store {
	return &Store{
		records:  make(map[domain.CallID]*domain.CallSession),
		cands:    make(map[candKey][]domain.Candidate),
		archive:  make(map[domain.CallID]domain.CallSession),
		recSubs:  make(map[domain.CallID]map[uint64]*pump.Pump[domain.CallSession]),
		candSubs: make(map[candKey]map[uint64]*pump.Pump[domain.Candidate]),
		inSubs:   make(map[domain.UserID]map[uint64]*pump.Pump[domain.CallSession]),
		wakeSubs: make(map[domain.UserID]map[uint64]*pump.Pump[WakeSignal]),
	}
}

func (s *Store) Create(_ context.Context, rec *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.CallID] = &cp
	for _, p := range s.inSubs[rec.CalleeID] {
		p.Push(cp)
	}
	for _, p := range s.recSubs[rec.CallID] {
		p.Push(cp)
	}
	log.Debug().Str("module", "memstore").Str("call", string(rec.CallID)).Msg("record created")
	return nil
}

func (s *Store) Get(_ context.Context, id domain.CallID) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func applyPatch(rec *domain.CallSession, p core.Patch) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Offer != nil {
		rec.Offer = p.Offer
	}
	if p.Answer != nil {
		rec.Answer = p.Answer
	}
	if p.ClearAnswer {
		rec.Answer = nil
	}
	if p.Speaker != nil {
		rec.ActiveSpeakerID = *p.Speaker
	}
	if p.ClearSpeaker {
		rec.ActiveSpeakerID = ""
	}
	if p.EndedAt != nil {
		rec.EndedAt = time.Unix(*p.EndedAt, 0)
	}
	if p.Duration != nil {
		rec.Duration = *p.Duration
	}
}

func (s *Store) Update(_ context.Context, id domain.CallID, p core.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return core.ErrNotFound
	}
	applyPatch(rec, p)
	s.notifyLocked(id, *rec)
	return nil
}

func (s *Store) notifyLocked(id domain.CallID, snap domain.CallSession) {
	for _, p := range s.recSubs[id] {
		p.Push(snap)
	}
}

func (s *Store) Delete(_ context.Context, id domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	delete(s.cands, candKey{id, domain.DirCaller})
	delete(s.cands, candKey{id, domain.DirCallee})
	return nil
}

// ClaimRinging applies the one guarded conditional update: it succeeds only
// while the record is still OFFERING, making the callee acknowledgement
// exactly-once under concurrent answering devices.
func (s *Store) ClaimRinging(_ context.Context, id domain.CallID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if rec.Status != domain.StatusOffering {
		return false, nil
	}
	rec.Status = domain.StatusRinging
	s.notifyLocked(id, *rec)
	return true, nil
}

// Subscribe registers a record observer. The current snapshot, when one
// exists, is delivered first; the channel is at-least-once by contract.
func (s *Store) Subscribe(id domain.CallID, fn func(domain.CallSession)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := s.nextSub
	p := pump.New(fn)
	if s.recSubs[id] == nil {
		s.recSubs[id] = make(map[uint64]*pump.Pump[domain.CallSession])
	}
	s.recSubs[id][sub] = p
	if rec, ok := s.records[id]; ok {
		p.Push(*rec)
	}
	return func() {
		s.mu.Lock()
		delete(s.recSubs[id], sub)
		s.mu.Unlock()
		p.Close()
	}
}

func (s *Store) AppendCandidate(_ context.Context, id domain.CallID, dir domain.Direction, c domain.Candidate) error {
	k := candKey{id, dir}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cands[k] = append(s.cands[k], c)
	for _, p := range s.candSubs[k] {
		p.Push(c)
	}
	return nil
}

// SubscribeCandidates replays the existing log in append order, then streams
// new entries.
func (s *Store) SubscribeCandidates(id domain.CallID, dir domain.Direction, fn func(domain.Candidate)) func() {
	k := candKey{id, dir}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := s.nextSub
	p := pump.New(fn)
	if s.candSubs[k] == nil {
		s.candSubs[k] = make(map[uint64]*pump.Pump[domain.Candidate])
	}
	s.candSubs[k][sub] = p
	for _, c := range s.cands[k] {
		p.Push(c)
	}
	return func() {
		s.mu.Lock()
		delete(s.candSubs[k], sub)
		s.mu.Unlock()
		p.Close()
	}
}

// WatchIncoming observes offers addressed to callee. Existing OFFERING
// records are replayed so a restarting client still sees a live offer; the
// dispatcher's stale bound filters the rest.
func (s *Store) WatchIncoming(callee domain.UserID, fn func(domain.CallSession)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := s.nextSub
	p := pump.New(fn)
	if s.inSubs[callee] == nil {
		s.inSubs[callee] = make(map[uint64]*pump.Pump[domain.CallSession])
	}
	s.inSubs[callee][sub] = p
	for _, rec := range s.records {
		if rec.CalleeID == callee && rec.Status == domain.StatusOffering {
			p.Push(*rec)
		}
	}
	return func() {
		s.mu.Lock()
		delete(s.inSubs[callee], sub)
		s.mu.Unlock()
		p.Close()
	}
}

func (s *Store) Archive(_ context.Context, rec domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive[rec.CallID] = rec
	return nil
}

// Archived exposes history for the server API and tests.
func (s *Store) Archived(id domain.CallID) (domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.archive[id]
	return rec, ok
}

// Wake implements core.Waker by fanning the signal out to the callee's wake
// observers. Best-effort; delivery is not confirmed.
func (s *Store) Wake(_ context.Context, callee domain.UserID, id domain.CallID, callerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.wakeSubs[callee] {
		p.Push(WakeSignal{CallID: id, CallerName: callerName})
	}
	return nil
}

// WatchWake registers a wake observer for one identity.
func (s *Store) WatchWake(user domain.UserID, fn func(WakeSignal)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := s.nextSub
	p := pump.New(fn)
	if s.wakeSubs[user] == nil {
		s.wakeSubs[user] = make(map[uint64]*pump.Pump[WakeSignal])
	}
	s.wakeSubs[user][sub] = p
	return func() {
		s.mu.Lock()
		delete(s.wakeSubs[user], sub)
		s.mu.Unlock()
		p.Close()
	}
}

// MarkDisconnected is the presence fail-safe: when a party's connection to
// the store drops, every non-terminal record it participates in is forced to
// ENDED so the peer is not left ringing into the void.
func (s *Store) MarkDisconnected(user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.Status.Terminal() {
			continue
		}
		if rec.CallerID != user && rec.CalleeID != user {
			continue
		}
		rec.Status = domain.StatusEnded
		rec.EndedAt = time.Now()
		s.notifyLocked(id, *rec)
		log.Info().Str("module", "memstore").Str("call", string(id)).
			Str("user", string(user)).Msg("presence fail-safe ended call")
	}
}
