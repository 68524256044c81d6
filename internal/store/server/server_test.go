package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajnish8869/Pulse/internal/config"
	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
	"github.com/rajnish8869/Pulse/internal/store/memstore"
	"github.com/rajnish8869/Pulse/internal/store/wsstore"
)

func startServer(t *testing.T) (*memstore.Store, string) {
	t.Helper()
	cfg := &config.Config{Mode: "release", Secret: "test-secret", ReadLimit: 65536}
	store := memstore.New()
	r := SetupRouter(context.Background(), cfg, store)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return store, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/store"
}

func dialStore(t *testing.T, url string, user domain.UserID) *wsstore.Store {
	t.Helper()
	s, err := wsstore.Dial(context.Background(), url, user)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreRoundTripOverWebsocket(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()
	a := dialStore(t, url, "a1")
	b := dialStore(t, url, "b2")

	incoming := make(chan domain.CallSession, 4)
	cancelWatch := b.WatchIncoming("b2", func(rec domain.CallSession) { incoming <- rec })
	defer cancelWatch()

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("ws-1", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, a.Create(ctx, rec))

	select {
	case got := <-incoming:
		assert.Equal(t, domain.CallID("ws-1"), got.CallID)
		assert.Equal(t, domain.StatusOffering, got.Status)
		require.NotNil(t, got.Offer)
		assert.Equal(t, "v=0 offer", got.Offer.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("offer never pushed to callee")
	}

	var mu sync.Mutex
	var statuses []domain.CallStatus
	cancelSub := a.Subscribe("ws-1", func(rec domain.CallSession) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
	})
	defer cancelSub()

	// The guarded claim succeeds once over the wire, then refuses.
	claimed, err := b.ClaimRinging(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = b.ClaimRinging(ctx, "ws-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, st := range statuses {
			if st == domain.StatusRinging {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	got, err := a.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRinging, got.Status)

	speaker := domain.UserID("a1")
	require.NoError(t, a.Update(ctx, "ws-1", core.Patch{Speaker: &speaker}))
	got, err = b.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("a1"), got.ActiveSpeakerID)

	require.NoError(t, a.Delete(ctx, "ws-1"))
	_, err = a.Get(ctx, "ws-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCandidateStreamOverWebsocket(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()
	a := dialStore(t, url, "a1")
	b := dialStore(t, url, "b2")

	require.NoError(t, a.AppendCandidate(ctx, "ws-2", domain.DirCaller, domain.Candidate{Payload: "one"}))

	var mu sync.Mutex
	var seen []string
	cancel := b.SubscribeCandidates("ws-2", domain.DirCaller, func(c domain.Candidate) {
		mu.Lock()
		seen = append(seen, c.Payload)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, a.AppendCandidate(ctx, "ws-2", domain.DirCaller, domain.Candidate{Payload: "two"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, seen)
}

func TestWakePushReachesIdentifiedClient(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()
	a := dialStore(t, url, "a1")
	b := dialStore(t, url, "b2")

	got := make(chan string, 1)
	b.OnWake(func(id domain.CallID, callerName string) {
		got <- string(id) + "/" + callerName
	})

	require.NoError(t, a.Wake(ctx, "b2", "ws-3", "Alice"))

	select {
	case v := <-got:
		assert.Equal(t, "ws-3/Alice", v)
	case <-time.After(3 * time.Second):
		t.Fatal("wake never pushed")
	}
}

func TestSubscriberMayCallBackIntoStore(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()
	a := dialStore(t, url, "a1")

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("ws-5", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, a.Create(ctx, rec))

	// A nested request issued from inside a subscription callback needs the
	// connection's read loop to deliver its reply. It must complete even
	// though the callback itself was triggered by that same read loop.
	done := make(chan error, 1)
	cancel := a.Subscribe("ws-5", func(rec domain.CallSession) {
		if rec.Status != domain.StatusOffering {
			return
		}
		st := domain.StatusRinging
		done <- a.Update(ctx, "ws-5", core.Patch{Status: &st})
	})
	defer cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("nested update never completed")
	}

	got, err := a.Get(ctx, "ws-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRinging, got.Status)
}

func TestDisconnectEndsOpenCalls(t *testing.T) {
	store, url := startServer(t)
	ctx := context.Background()
	a := dialStore(t, url, "a1")
	b := dialStore(t, url, "b2")

	offer := domain.SessionDescription{Kind: domain.KindOffer, Payload: "v=0 offer"}
	rec := domain.NewCallSession("ws-4", "a1", "b2", "Alice", "Bob", offer)
	require.NoError(t, a.Create(ctx, rec))

	ended := make(chan struct{}, 1)
	cancel := a.Subscribe("ws-4", func(rec domain.CallSession) {
		if rec.Status == domain.StatusEnded {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	// Callee vanishes; the presence fail-safe ends the call so the caller is
	// not left ringing.
	b.Close()

	select {
	case <-ended:
	case <-time.After(3 * time.Second):
		t.Fatal("presence fail-safe never fired")
	}

	got, err := store.Get(ctx, "ws-4")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, got.Status)
}
