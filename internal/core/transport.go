package core

import "github.com/rajnish8869/Pulse/internal/domain"

// TransportState is the engine-facing view of the media transport.
type TransportState int

const (
	TransportConnected TransportState = iota
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is one peer connection. It is exclusively owned by one session
// and never reused across sessions.
type Transport interface {
	// CreateOffer produces a local description; iceRestart starts a new
	// negotiation epoch over the same session.
	CreateOffer(iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetRemoteDescription(domain.SessionDescription) error

	// AddCandidate applies one connectivity candidate. A failure here is
	// non-fatal; candidates are redundant.
	AddCandidate(domain.Candidate) error

	// OnCandidate registers the local-candidate emission handler. Must be set
	// before CreateOffer/CreateAnswer.
	OnCandidate(func(domain.Candidate))
	OnStateChange(func(TransportState))

	// Stable reports whether negotiation is quiescent, i.e. a renegotiation
	// may start now.
	Stable() bool

	// SetMicEnabled gates the outbound audio track without releasing the
	// capture device.
	SetMicEnabled(bool)

	// SetPlaybackMuted gates remote audio playback.
	SetPlaybackMuted(bool)

	Close() error
}
