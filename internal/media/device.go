// Package media owns the local audio capture handle. The device is acquired
// once per client lifetime and shared across sessions; push-to-talk gating
// toggles the enabled flag instead of reacquiring.
package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/core"
)

const (
	opusPayloadType = 111
	frameInterval   = 20 * time.Millisecond
	samplesPerFrame = 960 // 48kHz * 20ms
)

// opusSilence is a minimal comfort-noise frame written while a real encoder
// is not attached; it keeps the RTP timeline alive.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Capture is the acquired handle. It feeds one TrackLocalStaticRTP that
// sessions attach to their transport.
type Capture struct {
	track   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
	ssrc    uint32
}

func (c *Capture) Track() *webrtc.TrackLocalStaticRTP { return c.track }

// SetEnabled gates the outbound track; the pump writes frames only while
// enabled.
func (c *Capture) SetEnabled(on bool) { c.enabled.Store(on) }

// Device implements core.MediaDevice. Acquire is idempotent.
type Device struct {
	mu     sync.Mutex
	handle *Capture
	cancel context.CancelFunc
}

func NewDevice() *Device { return &Device{} }

func (d *Device) Acquire() (core.CaptureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		return d.handle, nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "pulse-mic")
	if err != nil {
		return nil, err
	}

	h := &Capture{track: track, ssrc: 0x50756c73} // "Puls"
	ctx, cancel := context.WithCancel(context.Background())
	d.handle = h
	d.cancel = cancel
	go h.pump(ctx)
	log.Info().Str("module", "media").Msg("capture acquired")
	return h, nil
}

func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return
	}
	d.cancel()
	d.handle = nil
	d.cancel = nil
	log.Info().Str("module", "media").Msg("capture released")
}

// pump writes one frame per tick while enabled. Sequence and timestamp keep
// advancing while muted so the receiver sees a clean jump instead of a stall.
func (c *Capture) pump(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		ts += samplesPerFrame
		if !c.enabled.Load() {
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           c.ssrc,
			},
			Payload: opusSilence,
		}
		if err := c.track.WriteRTP(pkt); err != nil {
			// No attached sender yet, or the session went away; keep pumping.
			continue
		}
	}
}
