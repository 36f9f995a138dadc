package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type routerFixture struct {
	router   *Router
	registry *Registry
	members  *fakeMemberships
	messages *fakeMessages
	pending  *fakePending
}

func newRouterFixture() *routerFixture {
	registry := NewRegistry()
	members := newFakeMemberships()
	messages := newFakeMessages()
	pending := newFakePending()
	router := NewRouter(registry, NewMembershipCache(members), messages, pending,
		NopResolver{}, NopStatus{}, 0, zap.NewNop())
	return &routerFixture{router: router, registry: registry, members: members, messages: messages, pending: pending}
}

func decodeMessage(t *testing.T, f Frame) models.Message {
	t.Helper()
	var msg models.Message
	require.NoError(t, json.Unmarshal(f.Payload, &msg))
	return msg
}

func TestRouterSendFansOutToAllLiveConnections(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	fx.members.add(conversationID, alice, bob)

	aliceConn := testConn(alice)
	bobConn1 := testConn(bob)
	bobConn2 := testConn(bob)
	fx.registry.Register(aliceConn)
	fx.registry.Register(bobConn1)
	fx.registry.Register(bobConn2)

	msg, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(1), msg.ID)

	// The sender's own devices get the canonical record too — that's
	// how optimistic copies reconcile.
	for _, c := range []*Conn{aliceConn, bobConn1, bobConn2} {
		frames := framesOfType(drainFrames(t, c), EventNewMessage)
		require.Len(t, frames, 1)
		got := decodeMessage(t, frames[0])
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "hi", got.Body)
	}

	assert.Equal(t, 0, fx.pending.count(), "everyone was live, nothing owed")

	stored, err := fx.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, stored.DeliveryState)
}

func TestRouterSendEnqueuesForOfflineMembers(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	fx.members.add(conversationID, alice, bob)
	fx.registry.Register(testConn(alice))

	msg, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	require.NoError(t, err)

	owed, err := fx.pending.ListForUser(ctx, bob)
	require.NoError(t, err)
	require.Len(t, owed, 1)
	assert.Equal(t, msg.ID, owed[0].MessageID)
}

func TestRouterSendRejectsEmptyMessage(t *testing.T) {
	fx := newRouterFixture()

	_, err := fx.router.Send(context.Background(), uuid.New(), SendMessagePayload{ConversationID: uuid.New()})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRouterSendRejectsNonMember(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	fx.members.add(conversationID, uuid.New())

	outsider := uuid.New()
	_, err := fx.router.Send(ctx, outsider, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, fx.pending.count(), "rejected send leaves no trace")
}

func TestRouterSendPersistFailureAbortsFanOut(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	fx.members.add(conversationID, alice, bob)
	bobConn := testConn(bob)
	fx.registry.Register(bobConn)

	fx.messages.failCreate = true

	_, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	assert.ErrorIs(t, err, ErrTransientDelivery)
	assert.Empty(t, drainFrames(t, bobConn), "no partial fan-out on persist failure")
	assert.Equal(t, 0, fx.pending.count())
}

func TestRouterSendUsesMembershipCache(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice := uuid.New()
	fx.members.add(conversationID, alice)

	for i := 0; i < 3; i++ {
		_, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fx.members.listCalls, "membership loads once, then serves from cache")
}

func TestRouterEdit(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	fx.members.add(conversationID, alice, bob)
	bobConn := testConn(bob)
	fx.registry.Register(bobConn)

	msg, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	require.NoError(t, err)
	drainFrames(t, bobConn)

	edited, err := fx.router.Edit(ctx, alice, EditMessagePayload{MessageID: msg.ID, Content: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", edited.Body)
	assert.NotNil(t, edited.EditedAt, "edit stamps a revision timestamp")

	frames := framesOfType(drainFrames(t, bobConn), EventMessageEdited)
	require.Len(t, frames, 1)
	assert.Equal(t, "hi there", decodeMessage(t, frames[0]).Body)
}

func TestRouterEditByNonSenderForbidden(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice, mallory := uuid.New(), uuid.New()
	fx.members.add(conversationID, alice, mallory)

	msg, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	require.NoError(t, err)

	_, err = fx.router.Edit(ctx, mallory, EditMessagePayload{MessageID: msg.ID, Content: "pwned"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRouterMarkReadBroadcastsReceipt(t *testing.T) {
	fx := newRouterFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	fx.members.add(conversationID, alice, bob)
	aliceConn := testConn(alice)
	bobConn := testConn(bob)
	fx.registry.Register(aliceConn)
	fx.registry.Register(bobConn)

	msg, err := fx.router.Send(ctx, alice, SendMessagePayload{ConversationID: conversationID, Content: "hi"})
	require.NoError(t, err)
	drainFrames(t, aliceConn)
	drainFrames(t, bobConn)

	require.NoError(t, fx.router.MarkRead(ctx, bob, MarkReadPayload{MessageID: msg.ID}))

	frames := framesOfType(drainFrames(t, aliceConn), EventMessageRead)
	require.Len(t, frames, 1)
	var receipt MessageReadPayload
	require.NoError(t, json.Unmarshal(frames[0].Payload, &receipt))
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, bob, receipt.UserID)

	assert.Empty(t, framesOfType(drainFrames(t, bobConn), EventMessageRead),
		"the reader does not receive their own receipt")

	stored, err := fx.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryRead, stored.DeliveryState)
}

func TestRouterMarkReadUnknownMessage(t *testing.T) {
	fx := newRouterFixture()
	err := fx.router.MarkRead(context.Background(), uuid.New(), MarkReadPayload{MessageID: 999})
	assert.ErrorIs(t, err, ErrValidation)
}
