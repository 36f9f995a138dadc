package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/repository"
)

// MembershipCache fronts the storage collaborator's conversation
// membership with a read-mostly map. Fan-out consults it on every
// message; the database is only hit on first join and after an
// invalidation. The collaborator remains the source of truth — the
// cache is just the fan-out target computation.
type MembershipCache struct {
	mu   sync.RWMutex
	sets map[uuid.UUID]map[uuid.UUID]bool // conversation id → member set

	repo repository.MembershipRepository
}

func NewMembershipCache(repo repository.MembershipRepository) *MembershipCache {
	return &MembershipCache{
		sets: make(map[uuid.UUID]map[uuid.UUID]bool),
		repo: repo,
	}
}

// Members returns the member set for a conversation, loading it from
// the repository on a miss. The returned slice is a copy; callers may
// iterate it without holding any cache lock.
func (mc *MembershipCache) Members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	mc.mu.RLock()
	set, ok := mc.sets[conversationID]
	if ok {
		out := make([]uuid.UUID, 0, len(set))
		for id := range set {
			out = append(out, id)
		}
		mc.mu.RUnlock()
		return out, nil
	}
	mc.mu.RUnlock()

	ids, err := mc.repo.ListMemberIDs(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	set = make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	// Two goroutines may race the same miss; last write wins and both
	// wrote the same data, so no harm done.
	mc.mu.Lock()
	mc.sets[conversationID] = set
	mc.mu.Unlock()

	return ids, nil
}

// IsMember answers the hot-path authorization check against the cache.
func (mc *MembershipCache) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	mc.mu.RLock()
	set, ok := mc.sets[conversationID]
	if ok {
		member := set[userID]
		mc.mu.RUnlock()
		return member, nil
	}
	mc.mu.RUnlock()

	if _, err := mc.Members(ctx, conversationID); err != nil {
		return false, err
	}

	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.sets[conversationID][userID], nil
}

// Invalidate drops a conversation's cached set. Called on every
// participant-change event (join/leave, REST or ws); the next fan-out
// reloads from the source of truth.
func (mc *MembershipCache) Invalidate(conversationID uuid.UUID) {
	mc.mu.Lock()
	delete(mc.sets, conversationID)
	mc.mu.Unlock()
}
