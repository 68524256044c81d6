// Package wire is the JSON envelope spoken between the pulse client's store
// adapter and pulsed. One envelope type both ways, dispatched on Type.
package wire

import (
	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

const (
	// client -> server
	TypeHello               = "hello"
	TypeCreate              = "create"
	TypeGet                 = "get"
	TypeUpdate              = "update"
	TypeDelete              = "delete"
	TypeClaim               = "claim"
	TypeArchive             = "archive"
	TypeAppendCandidate     = "append_candidate"
	TypeSubscribe           = "subscribe"
	TypeSubscribeCandidates = "subscribe_candidates"
	TypeWatchIncoming       = "watch_incoming"
	TypeUnsubscribe         = "unsubscribe"
	TypeWake                = "wake"

	// server -> client
	TypeResult    = "result"
	TypeRecord    = "record"
	TypeCandidate = "candidate"
	TypeIncoming  = "incoming"
	TypeWakeUp    = "wake_up"
)

// Patch mirrors core.Patch with wire tags.
type Patch struct {
	Status       *domain.CallStatus         `json:"status,omitempty"`
	Offer        *domain.SessionDescription `json:"offer,omitempty"`
	Answer       *domain.SessionDescription `json:"answer,omitempty"`
	ClearAnswer  bool                       `json:"clear_answer,omitempty"`
	Speaker      *domain.UserID             `json:"speaker,omitempty"`
	ClearSpeaker bool                       `json:"clear_speaker,omitempty"`
	EndedAt      *int64                     `json:"ended_at,omitempty"`
	Duration     *int64                     `json:"duration_secs,omitempty"`
}

func FromPatch(p core.Patch) Patch {
	return Patch{
		Status:       p.Status,
		Offer:        p.Offer,
		Answer:       p.Answer,
		ClearAnswer:  p.ClearAnswer,
		Speaker:      p.Speaker,
		ClearSpeaker: p.ClearSpeaker,
		EndedAt:      p.EndedAt,
		Duration:     p.Duration,
	}
}

func (p Patch) Core() core.Patch {
	return core.Patch{
		Status:       p.Status,
		Offer:        p.Offer,
		Answer:       p.Answer,
		ClearAnswer:  p.ClearAnswer,
		Speaker:      p.Speaker,
		ClearSpeaker: p.ClearSpeaker,
		EndedAt:      p.EndedAt,
		Duration:     p.Duration,
	}
}

// Envelope is one message in either direction; unused fields stay empty.
type Envelope struct {
	Type string `json:"type"`

	Req uint64 `json:"req,omitempty"` // request/response correlation
	Sub uint64 `json:"sub,omitempty"` // subscription correlation

	User       domain.UserID       `json:"user,omitempty"`
	ID         domain.CallID       `json:"id,omitempty"`
	Dir        domain.Direction    `json:"dir,omitempty"`
	Record     *domain.CallSession `json:"record,omitempty"`
	Patch      *Patch              `json:"patch,omitempty"`
	Candidate  *domain.Candidate   `json:"candidate,omitempty"`
	Callee     domain.UserID       `json:"callee,omitempty"`
	CallerName string              `json:"caller_name,omitempty"`

	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}
