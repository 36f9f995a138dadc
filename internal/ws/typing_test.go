package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type typingEvent struct {
	conversationID uuid.UUID
	userID         uuid.UUID
	typing         bool
}

type typingRecorder struct {
	mu     sync.Mutex
	events []typingEvent
}

func (r *typingRecorder) record(_ context.Context, conversationID, userID uuid.UUID, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typingEvent{conversationID, userID, typing})
}

func (r *typingRecorder) all() []typingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]typingEvent(nil), r.events...)
}

func TestTypingStartDebounces(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(time.Second, rec.record, zap.NewNop())

	ctx := context.Background()
	conversationID, userID := uuid.New(), uuid.New()

	tc.Start(ctx, conversationID, userID)
	tc.Start(ctx, conversationID, userID)
	tc.Start(ctx, conversationID, userID)

	events := rec.all()
	assert.Len(t, events, 1, "repeat keystrokes refresh the entry, they don't rebroadcast")
	assert.True(t, events[0].typing)
}

func TestTypingStopOnlyWhenActive(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(time.Second, rec.record, zap.NewNop())

	ctx := context.Background()
	conversationID, userID := uuid.New(), uuid.New()

	tc.Stop(ctx, conversationID, userID)
	assert.Empty(t, rec.all(), "stopping a non-existent entry broadcasts nothing")

	tc.Start(ctx, conversationID, userID)
	tc.Stop(ctx, conversationID, userID)

	events := rec.all()
	assert.Len(t, events, 2)
	assert.False(t, events[1].typing)
}

func TestTypingSweepExpiresStaleEntries(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(50*time.Millisecond, rec.record, zap.NewNop())

	ctx := context.Background()
	conversationID, userID := uuid.New(), uuid.New()

	tc.Start(ctx, conversationID, userID)

	assert.Equal(t, 0, tc.Sweep(ctx, time.Now()), "fresh entry survives a sweep")
	assert.Equal(t, 1, tc.Sweep(ctx, time.Now().Add(time.Second)), "stale entry expires")
	assert.Equal(t, 0, tc.Sweep(ctx, time.Now().Add(time.Second)), "expiry is one-shot")

	events := rec.all()
	assert.Len(t, events, 2)
	assert.False(t, events[1].typing, "expiry broadcasts an implicit stop")
}

func TestTypingStopAllForClearsEveryConversation(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(time.Minute, rec.record, zap.NewNop())

	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()
	convA, convB := uuid.New(), uuid.New()

	tc.Start(ctx, convA, userID)
	tc.Start(ctx, convB, userID)
	tc.Start(ctx, convA, other)

	tc.StopAllFor(ctx, userID)

	var stops int
	for _, ev := range rec.all() {
		if !ev.typing {
			assert.Equal(t, userID, ev.userID, "only the disconnected user's entries stop")
			stops++
		}
	}
	assert.Equal(t, 2, stops)

	// The other user's entry is untouched.
	assert.Equal(t, 1, tc.Sweep(ctx, time.Now().Add(2*time.Minute)))
}
