package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// In-memory repository fakes. They implement the same contracts as the
// postgres stores, including the quirks the realtime code depends on:
// idempotent enqueue, atomic claim, nil-on-missing lookups.

type fakeMemberships struct {
	mu   sync.Mutex
	sets map[uuid.UUID][]uuid.UUID

	listCalls int
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{sets: make(map[uuid.UUID][]uuid.UUID)}
}

func (f *fakeMemberships) add(conversationID uuid.UUID, userIDs ...uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[conversationID] = append(f.sets[conversationID], userIDs...)
}

func (f *fakeMemberships) AddMember(_ context.Context, conversationID, userID uuid.UUID, _ string) error {
	f.add(conversationID, userID)
	return nil
}

func (f *fakeMemberships) RemoveMember(_ context.Context, conversationID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.sets[conversationID][:0]
	for _, id := range f.sets[conversationID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	f.sets[conversationID] = kept
	return nil
}

func (f *fakeMemberships) ListMembers(_ context.Context, conversationID uuid.UUID) ([]models.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ConversationMember, 0, len(f.sets[conversationID]))
	for _, id := range f.sets[conversationID] {
		out = append(out, models.ConversationMember{ConversationID: conversationID, UserID: id, Role: "member"})
	}
	return out, nil
}

func (f *fakeMemberships) ListMemberIDs(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]uuid.UUID(nil), f.sets[conversationID]...), nil
}

func (f *fakeMemberships) IsMember(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.sets[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMemberships) ListPeerIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	for _, members := range f.sets {
		mine := false
		for _, id := range members {
			if id == userID {
				mine = true
				break
			}
		}
		if !mine {
			continue
		}
		for _, id := range members {
			if id != userID {
				seen[id] = true
			}
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Message
	reads  map[int64][]uuid.UUID

	failCreate bool
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{nextID: 1, byID: make(map[int64]*models.Message), reads: make(map[int64][]uuid.UUID)}
}

func (f *fakeMessages) Create(_ context.Context, conversationID, senderID uuid.UUID, body string, attachments []string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, context.DeadlineExceeded
	}
	msg := &models.Message{
		ID:             f.nextID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Attachments:    attachments,
		DeliveryState:  models.DeliveryPending,
		CreatedAt:      time.Now(),
	}
	f.nextID++
	f.byID[msg.ID] = msg
	return msg, nil
}

func (f *fakeMessages) GetByID(_ context.Context, messageID int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[messageID]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMessages) ListByConversation(_ context.Context, conversationID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, msg := range f.byID {
		if msg.ConversationID != conversationID {
			continue
		}
		if before > 0 && msg.ID >= before {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessages) Edit(_ context.Context, messageID int64, senderID uuid.UUID, body string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[messageID]
	if !ok || msg.SenderID != senderID {
		return nil, nil
	}
	now := time.Now()
	msg.Body = body
	msg.EditedAt = &now
	cp := *msg
	return &cp, nil
}

func (f *fakeMessages) MarkDelivered(_ context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.byID[messageID]; ok && msg.DeliveryState == models.DeliveryPending {
		msg.DeliveryState = models.DeliveryDelivered
	}
	return nil
}

func (f *fakeMessages) MarkRead(_ context.Context, messageID int64, userID uuid.UUID) (*models.MessageRead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.byID[messageID]; ok {
		msg.DeliveryState = models.DeliveryRead
	}
	f.reads[messageID] = append(f.reads[messageID], userID)
	return &models.MessageRead{MessageID: messageID, UserID: userID, ReadAt: time.Now()}, nil
}

type pendingKey struct {
	messageID int64
	userID    uuid.UUID
}

type fakePending struct {
	mu   sync.Mutex
	rows map[pendingKey]models.PendingDelivery
}

func newFakePending() *fakePending {
	return &fakePending{rows: make(map[pendingKey]models.PendingDelivery)}
}

func (f *fakePending) Enqueue(_ context.Context, messageID int64, userID uuid.UUID, nextAttempt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pendingKey{messageID, userID}
	if _, exists := f.rows[key]; exists {
		return nil
	}
	f.rows[key] = models.PendingDelivery{
		MessageID:   messageID,
		UserID:      userID,
		EnqueuedAt:  time.Now(),
		NextAttempt: nextAttempt,
	}
	return nil
}

func (f *fakePending) Due(_ context.Context, now time.Time, limit int) ([]models.PendingDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingDelivery
	for _, row := range f.rows {
		if !row.NextAttempt.After(now) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePending) Claim(_ context.Context, messageID int64, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pendingKey{messageID, userID}
	if _, exists := f.rows[key]; !exists {
		return false, nil
	}
	delete(f.rows, key)
	return true, nil
}

func (f *fakePending) Bump(_ context.Context, messageID int64, userID uuid.UUID, nextAttempt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pendingKey{messageID, userID}
	row, exists := f.rows[key]
	if !exists {
		return 0, nil
	}
	row.Attempts++
	row.NextAttempt = nextAttempt
	f.rows[key] = row
	return row.Attempts, nil
}

func (f *fakePending) ListForUser(_ context.Context, userID uuid.UUID) ([]models.PendingDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingDelivery
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (f *fakePending) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// testConn builds a registry-ready connection with no real socket.
// Send only touches the buffered channel, so as long as writePump never
// runs, frames can be inspected straight off c.send.
func testConn(userID uuid.UUID) *Conn {
	return newConn(nil, userID, uuid.New(), 16, zap.NewNop())
}

// drainFrames empties a test connection's outbound queue.
func drainFrames(t *testing.T, c *Conn) []Frame {
	t.Helper()
	var out []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

// framesOfType filters a drained queue down to one event type.
func framesOfType(frames []Frame, t EventType) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}
