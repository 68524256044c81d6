// Package core declares the ports the call engine is wired against.
// Adapters own the resources behind them; core never closes what it
// did not open.
package core

import (
	"context"
	"errors"

	"github.com/rajnish8869/Pulse/internal/domain"
)

var (
	ErrNotFound = errors.New("call record not found")
	ErrClosed   = errors.New("store closed")
)

// Patch is a partial update of a call record. Nil pointers leave the field
// untouched; ClearAnswer and ClearSpeaker express explicit removal.
type Patch struct {
	Status       *domain.CallStatus
	Offer        *domain.SessionDescription
	Answer       *domain.SessionDescription
	ClearAnswer  bool
	Speaker      *domain.UserID
	ClearSpeaker bool
	EndedAt      *int64
	Duration     *int64
}

// SignalStore abstracts the shared record store. Change notifications are
// at-least-once and unordered relative to the candidate logs; every consumer
// must tolerate duplicates.
type SignalStore interface {
	Create(ctx context.Context, rec *domain.CallSession) error
	Get(ctx context.Context, id domain.CallID) (*domain.CallSession, error)
	Update(ctx context.Context, id domain.CallID, p Patch) error
	Delete(ctx context.Context, id domain.CallID) error

	// ClaimRinging is the guarded conditional update for the one true race:
	// it moves OFFERING to RINGING only if the record is still OFFERING, so a
	// second answering device fails cleanly.
	ClaimRinging(ctx context.Context, id domain.CallID) (bool, error)

	// Subscribe delivers record snapshots in order to one observer until the
	// returned cancel func runs.
	Subscribe(id domain.CallID, fn func(domain.CallSession)) (cancel func())

	AppendCandidate(ctx context.Context, id domain.CallID, dir domain.Direction, c domain.Candidate) error

	// SubscribeCandidates replays the existing log, then delivers new entries
	// in append order.
	SubscribeCandidates(id domain.CallID, dir domain.Direction, fn func(domain.Candidate)) (cancel func())

	// WatchIncoming observes records addressed to callee with status OFFERING.
	WatchIncoming(callee domain.UserID, fn func(domain.CallSession)) (cancel func())

	// Archive copies a terminal record into history; the live record is
	// removed separately via Delete.
	Archive(ctx context.Context, rec domain.CallSession) error
}
