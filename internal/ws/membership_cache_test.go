package ws

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipCacheLoadsOnceAndInvalidates(t *testing.T) {
	repo := newFakeMemberships()
	cache := NewMembershipCache(repo)
	ctx := context.Background()

	conversationID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	repo.add(conversationID, alice, bob)

	got, err := cache.Members(ctx, conversationID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{alice, bob}, got)

	_, err = cache.Members(ctx, conversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "second read served from cache")

	// Membership changes behind the cache's back until invalidated.
	carol := uuid.New()
	repo.add(conversationID, carol)

	member, err := cache.IsMember(ctx, conversationID, carol)
	require.NoError(t, err)
	assert.False(t, member, "stale until invalidation")

	cache.Invalidate(conversationID)

	member, err = cache.IsMember(ctx, conversationID, carol)
	require.NoError(t, err)
	assert.True(t, member, "invalidation forces a reload")
	assert.Equal(t, 2, repo.listCalls)
}

func TestMembershipCacheIsMemberMiss(t *testing.T) {
	repo := newFakeMemberships()
	cache := NewMembershipCache(repo)

	member, err := cache.IsMember(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, member, "unknown conversation has no members")
}
