// Package rtc adapts a pion PeerConnection to the engine-facing Transport
// port: opaque offer/answer payloads, trickle ICE, ICE restart and
// half-duplex gating of the outbound track and remote playback.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

// AudioSource is the acquired local capture feeding the outbound track.
type AudioSource interface {
	Track() *webrtc.TrackLocalStaticRTP
	SetEnabled(bool)
}

type Config struct {
	STUNServers []string
}

func DefaultConfig() Config {
	return Config{STUNServers: []string{"stun:stun.l.google.com:19302"}}
}

// PeerTransport implements core.Transport over one PeerConnection. One
// instance per session; never reused.
type PeerTransport struct {
	pc  *webrtc.PeerConnection
	src AudioSource

	mu          sync.Mutex
	onCandidate func(domain.Candidate)
	onState     func(core.TransportState)

	playMuted atomic.Bool

	// sink receives remote audio while playback is unmuted.
	sink func(*rtp.Packet)
}

func New(cfg Config, src AudioSource) (*PeerTransport, error) {
	var pcCfg webrtc.Configuration
	if len(cfg.STUNServers) > 0 {
		pcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	pc, err := webrtc.NewPeerConnection(pcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &PeerTransport{pc: pc, src: src}
	t.playMuted.Store(true)

	if src != nil {
		if _, err := pc.AddTrack(src.Track()); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	} else if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(domain.Candidate{Payload: string(data)})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		st, ok := mapState(s)
		if !ok {
			return
		}
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(st)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).Msg("remote track")
		go t.readRemote(track)
	})

	return t, nil
}

func mapState(s webrtc.PeerConnectionState) (core.TransportState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed, true
	}
	return 0, false
}

// readRemote drains inbound RTP. Packets are dropped while playback is muted;
// the floor-control rule decides when to open the gate.
func (t *PeerTransport) readRemote(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if t.playMuted.Load() {
			continue
		}
		t.mu.Lock()
		sink := t.sink
		t.mu.Unlock()
		if sink != nil {
			sink(pkt)
		}
	}
}

// SetAudioSink routes unmuted remote audio to the playback device.
func (t *PeerTransport) SetAudioSink(fn func(*rtp.Packet)) {
	t.mu.Lock()
	t.sink = fn
	t.mu.Unlock()
}

func (t *PeerTransport) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Kind: domain.KindOffer, Payload: offer.SDP}, nil
}

func (t *PeerTransport) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Kind: domain.KindAnswer, Payload: answer.SDP}, nil
}

func (t *PeerTransport) SetRemoteDescription(d domain.SessionDescription) error {
	typ := webrtc.SDPTypeOffer
	if d.Kind == domain.KindAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: d.Payload})
}

func (t *PeerTransport) AddCandidate(c domain.Candidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(c.Payload), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return t.pc.AddICECandidate(init)
}

func (t *PeerTransport) OnCandidate(fn func(domain.Candidate)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *PeerTransport) Stable() bool {
	return t.pc.SignalingState() == webrtc.SignalingStateStable
}

func (t *PeerTransport) SetMicEnabled(on bool) {
	if t.src != nil {
		t.src.SetEnabled(on)
	}
}

func (t *PeerTransport) SetPlaybackMuted(muted bool) {
	t.playMuted.Store(muted)
}

func (t *PeerTransport) Close() error {
	return t.pc.Close()
}
