package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

// NewCallID allocates a call identifier. The calling party owns allocation.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// CallSession is the shared call record. It is created by the caller and
// mutated by both parties; field conflicts are resolved by the session state
// machine, not by store-level locking.
type CallSession struct {
	CallID     CallID     `json:"call_id"`
	CallerID   UserID     `json:"caller_id"`
	CalleeID   UserID     `json:"callee_id"`
	CallerName string     `json:"caller_name,omitempty"`
	CalleeName string     `json:"callee_name,omitempty"`
	Status     CallStatus `json:"status"`

	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`

	// ActiveSpeakerID is the sole floor-control signal: the identity currently
	// permitted to transmit, or empty when nobody holds the floor.
	ActiveSpeakerID UserID `json:"active_speaker_id,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Duration  int64     `json:"duration_secs,omitempty"`
}

// NewCallSession builds the initial record the caller writes to the store.
// The id is allocated up front so candidate handlers can be scoped to it
// before the offer exists.
func NewCallSession(id CallID, caller, callee UserID, callerName, calleeName string, offer SessionDescription) *CallSession {
	return &CallSession{
		CallID:     id,
		CallerID:   caller,
		CalleeID:   callee,
		CallerName: callerName,
		CalleeName: calleeName,
		Status:     StatusOffering,
		Offer:      &offer,
		StartedAt:  time.Now(),
	}
}

// PeerOf returns the other party's identity, or "" when self is not a party.
func (s *CallSession) PeerOf(self UserID) UserID {
	switch self {
	case s.CallerID:
		return s.CalleeID
	case s.CalleeID:
		return s.CallerID
	}
	return ""
}

// Classify maps a terminal outcome to the status stored in history. A call
// that ended on the callee side without ever connecting and without an
// explicit decline counts as missed.
func Classify(status CallStatus, reachedConnected, isCallee bool) CallStatus {
	if status == StatusEnded && isCallee && !reachedConnected {
		return StatusMissed
	}
	return status
}
