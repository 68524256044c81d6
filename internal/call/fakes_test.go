package call

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
)

// fakeTransport stands in for the peer connection. State events and local
// candidates are driven by the test through emitState and emitCandidate.
type fakeTransport struct {
	mu          sync.Mutex
	offers      int
	answers     int
	remote      []domain.SessionDescription
	applied     []string
	onCandidate func(domain.Candidate)
	onState     func(core.TransportState)
	stable      bool
	mic         bool
	playMuted   bool
	closed      int
	remoteErr   error

	// addHook fires after a candidate is recorded, letting a test inject
	// events at a precise point in the apply sequence.
	addHook func(payload string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{stable: true, playMuted: true}
}

func (f *fakeTransport) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	kind := ""
	if iceRestart {
		kind = "restart-"
	}
	return domain.SessionDescription{
		Kind:    domain.KindOffer,
		Payload: fmt.Sprintf("%soffer-%d", kind, f.offers),
	}, nil
}

func (f *fakeTransport) CreateAnswer() (domain.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return domain.SessionDescription{
		Kind:    domain.KindAnswer,
		Payload: fmt.Sprintf("answer-%d", f.answers),
	}, nil
}

func (f *fakeTransport) SetRemoteDescription(d domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeTransport) AddCandidate(c domain.Candidate) error {
	f.mu.Lock()
	f.applied = append(f.applied, c.Payload)
	hook := f.addHook
	f.mu.Unlock()
	if hook != nil {
		hook(c.Payload)
	}
	return nil
}

func (f *fakeTransport) OnCandidate(fn func(domain.Candidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnStateChange(fn func(core.TransportState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) Stable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stable
}

func (f *fakeTransport) SetMicEnabled(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mic = on
}

func (f *fakeTransport) SetPlaybackMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playMuted = muted
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) emitState(st core.TransportState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakeTransport) emitCandidate(payload string) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(domain.Candidate{Payload: payload})
	}
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	copy(out, f.applied)
	return out
}

func (f *fakeTransport) micEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mic
}

func (f *fakeTransport) playbackMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playMuted
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeHandle struct{}

func (fakeHandle) SetEnabled(bool) {}

type fakeDevice struct {
	mu  sync.Mutex
	err error
}

func (d *fakeDevice) Acquire() (core.CaptureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return fakeHandle{}, nil
}

func (d *fakeDevice) Release() {}

// harness bundles a Client with the transports its dial factory handed out,
// in creation order.
type harness struct {
	t      *testing.T
	client *Client

	mu  sync.Mutex
	trs []*fakeTransport
}

func newHarness(t *testing.T, store core.SignalStore, self domain.UserID, name string, auto bool, to Timeouts) *harness {
	t.Helper()
	h := &harness{t: t}
	h.client = NewClient(Options{
		Self:        self,
		DisplayName: name,
		Store:       store,
		Device:      &fakeDevice{},
		Dial: func() (core.Transport, error) {
			tr := newFakeTransport()
			h.mu.Lock()
			h.trs = append(h.trs, tr)
			h.mu.Unlock()
			return tr, nil
		},
		Timeouts:   to,
		AutoAnswer: auto,
	})
	return h
}

// tr waits for the i-th transport the client dialed.
func (h *harness) tr(i int) *fakeTransport {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.trs) > i
	}, 2*time.Second, 10*time.Millisecond, "transport %d never dialed", i)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trs[i]
}

func waitStatus(t *testing.T, c *Client, want domain.CallStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Status() == want
	}, 3*time.Second, 10*time.Millisecond, "status never reached %s (at %s)", want, c.Status())
}
