package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
	"github.com/rajnish8869/Pulse/internal/store/memstore"
)

// connectCall drives a call from a to b all the way to CONNECTED and returns
// its id. Transport connectivity is simulated on both fakes.
func connectCall(t *testing.T, ctx context.Context, a, b *harness) domain.CallID {
	t.Helper()

	id, err := a.client.MakeCall(ctx, b.client.self, "Bob")
	require.NoError(t, err)

	waitStatus(t, a.client, domain.StatusConnecting)
	waitStatus(t, b.client, domain.StatusConnecting)

	a.tr(0).emitState(core.TransportConnected)
	b.tr(0).emitState(core.TransportConnected)

	waitStatus(t, a.client, domain.StatusConnected)
	waitStatus(t, b.client, domain.StatusConnected)
	return id
}

func TestCallLifecycleAndFloorControl(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	a := newHarness(t, store, "a1", "Alice", false, DefaultTimeouts())
	b := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())
	a.client.Start(ctx)
	b.client.Start(ctx)
	defer a.client.Stop()
	defer b.client.Stop()

	id := connectCall(t, ctx, a, b)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Answer)
	assert.Equal(t, domain.StatusConnected, rec.Status)

	// Caller takes the floor: own mic opens, peer playback opens, own
	// playback stays muted so local audio never loops back.
	require.NoError(t, a.client.ToggleTalk(ctx, true))
	assert.True(t, a.tr(0).micEnabled())
	require.Eventually(t, func() bool { return !b.tr(0).playbackMuted() },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, a.tr(0).playbackMuted())

	// Releasing the floor mutes playback again on the peer.
	require.NoError(t, a.client.ToggleTalk(ctx, false))
	assert.False(t, a.tr(0).micEnabled())
	require.Eventually(t, func() bool { return b.tr(0).playbackMuted() },
		2*time.Second, 10*time.Millisecond)

	// Hang up: both sides converge to idle, the live record is gone and the
	// archived record keeps the terminal status.
	require.NoError(t, a.client.EndCall(ctx))
	waitStatus(t, a.client, domain.StatusIdle)
	waitStatus(t, b.client, domain.StatusIdle)
	require.Eventually(t, func() bool {
		return a.tr(0).closeCount() == 1 && b.tr(0).closeCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	archived, ok := store.Archived(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusEnded, archived.Status)

	// A second hangup is a no-op.
	require.NoError(t, a.client.EndCall(ctx))
	assert.Equal(t, 1, a.tr(0).closeCount())
}

func TestFloorNeverUnmutesForSelf(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	a := newHarness(t, store, "a1", "Alice", false, DefaultTimeouts())
	b := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())
	a.client.Start(ctx)
	b.client.Start(ctx)
	defer a.client.Stop()
	defer b.client.Stop()

	id := connectCall(t, ctx, a, b)

	// Even a corrupt record naming the local identity as speaker must not
	// open local playback.
	self := domain.UserID("a1")
	require.NoError(t, store.Update(ctx, id, core.Patch{Speaker: &self}))
	require.Eventually(t, func() bool { return !b.tr(0).playbackMuted() },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, a.tr(0).playbackMuted())
}

func TestOfferingWatchdogEndsUnansweredCall(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	to := Timeouts{
		Offering:   60 * time.Millisecond,
		Ringing:    time.Second,
		Connecting: time.Second,
		StaleOffer: time.Second,
	}
	a := newHarness(t, store, "a1", "Alice", false, to)
	a.client.Start(ctx)
	defer a.client.Stop()

	id, err := a.client.MakeCall(ctx, "b2", "Bob")
	require.NoError(t, err)

	waitStatus(t, a.client, domain.StatusIdle)
	assert.Equal(t, 1, a.tr(0).closeCount())

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	archived, ok := store.Archived(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusEnded, archived.Status)
}

func TestUnconnectedAnsweredCallArchivesMissed(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	to := Timeouts{
		Offering:   time.Second,
		Ringing:    time.Second,
		Connecting: 60 * time.Millisecond,
		StaleOffer: time.Second,
	}
	b := newHarness(t, store, "b2", "Bob", true, to)
	b.client.Start(ctx)
	defer b.client.Stop()

	// Offer placed by a party that never completes negotiation.
	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("call-m", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, store.Create(ctx, rec))

	waitStatus(t, b.client, domain.StatusConnecting)
	waitStatus(t, b.client, domain.StatusIdle)
	archived, ok := store.Archived("call-m")
	require.True(t, ok)
	assert.Equal(t, domain.StatusMissed, archived.Status)
}

func TestStaleOfferIgnored(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	b := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := &domain.CallSession{
		CallID:    "stale",
		CallerID:  "a1",
		CalleeID:  "b2",
		Status:    domain.StatusOffering,
		Offer:     &offer,
		StartedAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Create(ctx, rec))

	b.client.Start(ctx)
	defer b.client.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.StatusIdle, b.client.Status())
	_, pending := b.client.IncomingCall()
	assert.False(t, pending)
	b.mu.Lock()
	assert.Empty(t, b.trs)
	b.mu.Unlock()

	got, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffering, got.Status)
}

func TestPendingOfferExpires(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	to := Timeouts{
		Offering:   time.Second,
		Ringing:    time.Second,
		Connecting: time.Second,
		StaleOffer: 80 * time.Millisecond,
	}
	b := newHarness(t, store, "b2", "Bob", false, to)
	b.client.Start(ctx)
	defer b.client.Stop()

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("call-x", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, store.Create(ctx, rec))

	require.Eventually(t, func() bool {
		_, ok := b.client.IncomingCall()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// Nobody answers; once the freshness window passes the offer must stop
	// being reported instead of lingering forever.
	require.Eventually(t, func() bool {
		_, ok := b.client.IncomingCall()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, b.client.AnswerCall(ctx), ErrNoIncomingCall)
}

func TestBusyRejectsUnrelatedInbound(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	a := newHarness(t, store, "a1", "Alice", true, DefaultTimeouts())
	b := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())
	a.client.Start(ctx)
	b.client.Start(ctx)
	defer a.client.Stop()
	defer b.client.Stop()

	// a is mid-offer to a third party when b calls in.
	_, err := a.client.MakeCall(ctx, "c3", "Carol")
	require.NoError(t, err)

	busyID, err := b.client.MakeCall(ctx, "a1", "Alice")
	require.NoError(t, err)

	waitStatus(t, b.client, domain.StatusIdle)
	archived, ok := store.Archived(busyID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusBusy, archived.Status)

	// a's own attempt is untouched.
	assert.Equal(t, domain.StatusOffering, a.client.Status())
}

func TestGlareConvergesOnSingleCall(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	a := newHarness(t, store, "a1", "Alice", true, DefaultTimeouts())
	b := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())

	// Both place an offer before either dispatcher sees the other's.
	_, err := a.client.MakeCall(ctx, "b2", "Bob")
	require.NoError(t, err)
	bCallID, err := b.client.MakeCall(ctx, "a1", "Alice")
	require.NoError(t, err)

	a.client.Start(ctx)
	b.client.Start(ctx)
	defer a.client.Stop()
	defer b.client.Stop()

	// The smaller identity yields its own offer and answers the other's, so
	// exactly one call survives.
	require.Eventually(t, func() bool {
		ra, okA := a.client.ActiveCall()
		rb, okB := b.client.ActiveCall()
		return okA && okB && ra.CallID == bCallID && rb.CallID == bCallID
	}, 3*time.Second, 10*time.Millisecond)

	a.tr(1).emitState(core.TransportConnected)
	b.tr(0).emitState(core.TransportConnected)
	waitStatus(t, a.client, domain.StatusConnected)
	waitStatus(t, b.client, domain.StatusConnected)

	// The abandoned offer's transport is closed.
	assert.Equal(t, 1, a.tr(0).closeCount())
}

func TestConcurrentDevicesClaimOnce(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	d1 := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())
	d2 := newHarness(t, store, "b2", "Bob", true, DefaultTimeouts())
	d1.client.Start(ctx)
	d2.client.Start(ctx)
	defer d1.client.Stop()
	defer d2.client.Stop()

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("call-r", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, store.Create(ctx, rec))

	// Both devices race to acknowledge; the guarded claim lets exactly one
	// through.
	require.Eventually(t, func() bool {
		active := 0
		if d1.client.Status() != domain.StatusIdle {
			active++
		}
		if d2.client.Status() != domain.StatusIdle {
			active++
		}
		return active == 1
	}, 3*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "call-r")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnecting, got.Status)
	require.NotNil(t, got.Answer)

	// The loser backed out without touching the record; give it a moment to
	// close its half-built transport.
	time.Sleep(100 * time.Millisecond)
	closed := d1.tr(0).closeCount() + d2.tr(0).closeCount()
	winners := 0
	if d1.client.Status() != domain.StatusIdle {
		winners++
	}
	if d2.client.Status() != domain.StatusIdle {
		winners++
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, closed)
}

func TestRejectCall(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	b := newHarness(t, store, "b2", "Bob", false, DefaultTimeouts())
	b.client.Start(ctx)
	defer b.client.Stop()

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("call-j", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, store.Create(ctx, rec))

	require.Eventually(t, func() bool {
		_, ok := b.client.IncomingCall()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.client.RejectCall(ctx))
	got, err := store.Get(ctx, "call-j")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)

	_, pending := b.client.IncomingCall()
	assert.False(t, pending)
	assert.ErrorIs(t, b.client.RejectCall(ctx), ErrNoIncomingCall)
}

func TestMakeCallFailsWhenDeviceUnavailable(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	devErr := errors.New("capture device unavailable")
	client := NewClient(Options{
		Self:   "a1",
		Store:  store,
		Device: &fakeDevice{err: devErr},
		Dial: func() (core.Transport, error) {
			return newFakeTransport(), nil
		},
	})

	_, err := client.MakeCall(ctx, "b2", "Bob")
	assert.ErrorIs(t, err, devErr)
	assert.Equal(t, domain.StatusIdle, client.Status())
}

func TestMakeCallWhileBusyReturnsErrBusy(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	a := newHarness(t, store, "a1", "Alice", false, DefaultTimeouts())
	a.client.Start(ctx)
	defer a.client.Stop()

	_, err := a.client.MakeCall(ctx, "b2", "Bob")
	require.NoError(t, err)
	_, err = a.client.MakeCall(ctx, "c3", "Carol")
	assert.ErrorIs(t, err, ErrBusy)
}
