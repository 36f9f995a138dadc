package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type typingKey struct {
	conversationID uuid.UUID
	userID         uuid.UUID
}

// TypingCoordinator tracks short-lived "user is typing" state with
// automatic expiry. The debounce rule: only a NEW entry broadcasts
// typing_start — repeat signals from a held-down keyboard just refresh
// the expiry, so peers see one start, not a storm.
type TypingCoordinator struct {
	ttl    time.Duration
	logger *zap.Logger

	// broadcast ships a typing event to the other live members of the
	// conversation. Injected by the hub.
	broadcast func(ctx context.Context, conversationID, userID uuid.UUID, typing bool)

	mu      sync.Mutex
	expires map[typingKey]time.Time
}

func NewTypingCoordinator(
	ttl time.Duration,
	broadcast func(ctx context.Context, conversationID, userID uuid.UUID, typing bool),
	logger *zap.Logger,
) *TypingCoordinator {
	return &TypingCoordinator{
		ttl:       ttl,
		broadcast: broadcast,
		logger:    logger,
		expires:   make(map[typingKey]time.Time),
	}
}

// Start upserts the typing entry and broadcasts only on a fresh one.
func (t *TypingCoordinator) Start(ctx context.Context, conversationID, userID uuid.UUID) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	_, refreshing := t.expires[key]
	t.expires[key] = time.Now().Add(t.ttl)
	t.mu.Unlock()

	if !refreshing {
		t.broadcast(ctx, conversationID, userID, true)
	}
}

// Stop removes the entry immediately on an explicit signal. Stopping a
// non-existent entry is a no-op — no stray typing_stop broadcast.
func (t *TypingCoordinator) Stop(ctx context.Context, conversationID, userID uuid.UUID) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	_, existed := t.expires[key]
	delete(t.expires, key)
	t.mu.Unlock()

	if existed {
		t.broadcast(ctx, conversationID, userID, false)
	}
}

// StopAllFor clears every entry a user holds — the disconnect path, so
// a vanished client doesn't look like it's typing until TTL expiry.
func (t *TypingCoordinator) StopAllFor(ctx context.Context, userID uuid.UUID) {
	t.mu.Lock()
	var stopped []typingKey
	for key := range t.expires {
		if key.userID == userID {
			delete(t.expires, key)
			stopped = append(stopped, key)
		}
	}
	t.mu.Unlock()

	for _, key := range stopped {
		t.broadcast(ctx, key.conversationID, key.userID, false)
	}
}

// Sweep expires stale entries and broadcasts their implicit stops.
// Exposed for tests; Run drives it on the configured cadence.
func (t *TypingCoordinator) Sweep(ctx context.Context, now time.Time) int {
	t.mu.Lock()
	var expired []typingKey
	for key, deadline := range t.expires {
		if now.After(deadline) {
			delete(t.expires, key)
			expired = append(expired, key)
		}
	}
	t.mu.Unlock()

	for _, key := range expired {
		t.broadcast(ctx, key.conversationID, key.userID, false)
	}
	return len(expired)
}

// Run performs the background expiry sweep until ctx is cancelled.
func (t *TypingCoordinator) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Sweep(ctx, now)
		}
	}
}
