package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type statusEvent struct {
	audience []uuid.UUID
	payload  UserStatusPayload
}

type statusRecorder struct {
	mu     sync.Mutex
	events []statusEvent
}

func (r *statusRecorder) send(userIDs []uuid.UUID, frame []byte) {
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		panic(err)
	}
	var p UserStatusPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, statusEvent{audience: userIDs, payload: p})
}

func (r *statusRecorder) all() []statusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusEvent(nil), r.events...)
}

func (r *statusRecorder) waitFor(t *testing.T, n int) []statusEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := r.all(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d status events, got %d", n, len(r.all()))
	return nil
}

func presenceFixture(grace time.Duration) (*PresenceTracker, *Registry, *fakeMemberships, *statusRecorder) {
	registry := NewRegistry()
	members := newFakeMemberships()
	rec := &statusRecorder{}
	tracker := NewPresenceTracker(registry, members, NopStatus{}, grace, rec.send, zap.NewNop())
	return tracker, registry, members, rec
}

func TestPresenceOnlineOnFirstConnectionOnly(t *testing.T) {
	tracker, registry, members, rec := presenceFixture(time.Minute)

	ctx := context.Background()
	userID, peerID := uuid.New(), uuid.New()
	members.add(uuid.New(), userID, peerID)

	c1 := testConn(userID)
	c2 := testConn(userID)

	tracker.HandleConnect(ctx, userID, registry.Register(c1))
	tracker.HandleConnect(ctx, userID, registry.Register(c2))

	events := rec.all()
	require.Len(t, events, 1, "second device does not re-announce")
	assert.Equal(t, models.StatusOnline, events[0].payload.Status)
	assert.Equal(t, []uuid.UUID{peerID}, events[0].audience, "broadcast goes to peers only")
}

func TestPresenceOfflineAfterGrace(t *testing.T) {
	tracker, registry, members, rec := presenceFixture(20 * time.Millisecond)

	ctx := context.Background()
	userID, peerID := uuid.New(), uuid.New()
	members.add(uuid.New(), userID, peerID)

	c := testConn(userID)
	tracker.HandleConnect(ctx, userID, registry.Register(c))
	tracker.HandleDisconnect(ctx, userID, registry.Unregister(c))

	events := rec.waitFor(t, 2)
	assert.Equal(t, models.StatusOffline, events[1].payload.Status)
	assert.Equal(t, models.StatusOffline, tracker.StatusOf(userID))
}

func TestPresenceReconnectWithinGraceSuppressesFlap(t *testing.T) {
	tracker, registry, members, rec := presenceFixture(100 * time.Millisecond)

	ctx := context.Background()
	userID := uuid.New()
	members.add(uuid.New(), userID, uuid.New())

	c1 := testConn(userID)
	tracker.HandleConnect(ctx, userID, registry.Register(c1))
	tracker.HandleDisconnect(ctx, userID, registry.Unregister(c1))

	// Reconnect well inside the grace window.
	c2 := testConn(userID)
	tracker.HandleConnect(ctx, userID, registry.Register(c2))

	time.Sleep(200 * time.Millisecond)

	events := rec.all()
	require.Len(t, events, 1, "no offline broadcast, and no redundant re-online either")
	assert.Equal(t, models.StatusOnline, events[0].payload.Status)
	assert.Equal(t, models.StatusOnline, tracker.StatusOf(userID))
}

func TestPresenceAwayOverride(t *testing.T) {
	tracker, registry, members, rec := presenceFixture(time.Minute)

	ctx := context.Background()
	userID := uuid.New()
	members.add(uuid.New(), userID, uuid.New())

	c := testConn(userID)
	tracker.HandleConnect(ctx, userID, registry.Register(c))

	tracker.SetAway(ctx, userID)
	assert.Equal(t, models.StatusAway, tracker.StatusOf(userID))

	tracker.SetBack(ctx, userID)
	assert.Equal(t, models.StatusOnline, tracker.StatusOf(userID))

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, models.StatusAway, events[1].payload.Status)
	assert.Equal(t, models.StatusOnline, events[2].payload.Status)
}

func TestPresenceStatusOfOfflineUser(t *testing.T) {
	tracker, _, _, _ := presenceFixture(time.Minute)
	assert.Equal(t, models.StatusOffline, tracker.StatusOf(uuid.New()))
}
