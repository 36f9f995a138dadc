package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/ripple/internal/auth"
	"github.com/lalith-99/ripple/internal/repository"
	"go.uber.org/zap"
)

const maxMessageSize = 32 * 1024

// Options collects the realtime core's tuning knobs. main maps the env
// config onto this; tests shrink the durations to milliseconds.
type Options struct {
	HeartbeatInterval   time.Duration
	HeartbeatMaxMissed  int
	TypingTTL           time.Duration
	TypingSweepEvery    time.Duration
	DeliveryInterval    time.Duration
	DeliveryMaxAttempts int
	OfflineGrace        time.Duration
	SendBuffer          int
}

// Hub owns the server side of the duplex protocol: it authenticates
// upgrades, runs one read loop per connection, and wires the registry,
// router, presence tracker, typing coordinator, and delivery processor
// together.
type Hub struct {
	opts     Options
	verifier auth.Verifier

	registry *Registry
	members  *MembershipCache
	router   *Router
	presence *PresenceTracker
	typing   *TypingCoordinator
	delivery *DeliveryProcessor

	membershipRepo repository.MembershipRepository

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(
	opts Options,
	verifier auth.Verifier,
	messages repository.MessageRepository,
	memberships repository.MembershipRepository,
	pending repository.PendingDeliveryRepository,
	attachments AttachmentResolver,
	status StatusSink,
	logger *zap.Logger,
) *Hub {
	registry := NewRegistry()
	members := NewMembershipCache(memberships)
	router := NewRouter(registry, members, messages, pending, attachments, status, opts.DeliveryInterval, logger)

	h := &Hub{
		opts:           opts,
		verifier:       verifier,
		registry:       registry,
		members:        members,
		router:         router,
		membershipRepo: memberships,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser Origin check belongs to the deployment's
			// reverse proxy; the core accepts any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	h.presence = NewPresenceTracker(registry, memberships, status, opts.OfflineGrace, router.sendToUsers, logger)
	h.typing = NewTypingCoordinator(opts.TypingTTL, h.broadcastTyping, logger)
	h.delivery = NewDeliveryProcessor(pending, messages, registry, opts.DeliveryInterval, opts.DeliveryMaxAttempts, logger)

	return h
}

// Accessors for the REST surface (history fetch invalidation, the
// presence/unread dashboard endpoint).
func (h *Hub) Presence() *PresenceTracker    { return h.presence }
func (h *Hub) Memberships() *MembershipCache { return h.members }
func (h *Hub) Registry() *Registry           { return h.registry }

// Run starts the background processors and closes every connection
// when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	go h.typing.Run(ctx, h.opts.TypingSweepEvery)
	go h.delivery.Run(ctx)
	go func() {
		<-ctx.Done()
		h.registry.CloseAll()
	}()
}

// HandleWS is the GET /v1/ws upgrade endpoint.
//
// The bearer credential rides a query parameter: browser WebSocket
// handshakes can't carry arbitrary headers, so the out-of-band channel
// is the URL. Verification happens after the upgrade — a failure sends
// a single auth_error event on the socket and closes it, no retry at
// this layer.
func (h *Hub) HandleWS(c *gin.Context) {
	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Non-WebSocket request or handshake failure; Upgrade already
		// wrote the HTTP error.
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	identity, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		h.logger.Info("ws auth rejected", zap.Error(err))
		frame := mustFrame(EventAuthError, AuthErrorPayload{Reason: "invalid or expired credential"})
		_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
		_ = sock.WriteMessage(websocket.TextMessage, frame)
		_ = sock.Close()
		return
	}

	conn := newConn(sock, identity.UserID, identity.TenantID, h.opts.SendBuffer, h.logger)
	go conn.writePump(h.opts.HeartbeatInterval)

	first := h.registry.Register(conn)
	ctx := c.Request.Context()
	h.presence.HandleConnect(ctx, conn.UserID, first)

	// connection_established is the client's cue to start rejoining
	// conversations and flushing its offline queue.
	conn.Send(mustFrame(EventConnectionEstablished, ConnectionEstablishedPayload{
		User: UserInfo{ID: identity.UserID, TenantID: identity.TenantID, Email: identity.Email},
	}))

	h.logger.Info("connection established",
		zap.String("conn_id", conn.ID.String()),
		zap.String("user_id", conn.UserID.String()),
	)

	h.readLoop(ctx, conn)

	// Cleanup runs for every exit path: clean close, read error, or
	// heartbeat eviction via read timeout.
	conn.Close()
	last := h.registry.Unregister(conn)
	h.typing.StopAllFor(ctx, conn.UserID)
	h.presence.HandleDisconnect(ctx, conn.UserID, last)

	h.logger.Info("connection closed",
		zap.String("conn_id", conn.ID.String()),
		zap.String("user_id", conn.UserID.String()),
	)
}

// readLoop is the connection's single reader. The read deadline doubles
// as the heartbeat monitor: every pong (or any inbound frame) extends
// it, and a client that misses the allowed pings in a row times the
// read out and is evicted.
func (h *Hub) readLoop(ctx context.Context, conn *Conn) {
	pongWait := h.opts.HeartbeatInterval * time.Duration(h.opts.HeartbeatMaxMissed+1)

	conn.sock.SetReadLimit(maxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				h.logger.Debug("peer closed", zap.String("conn_id", conn.ID.String()))
			} else {
				h.logger.Debug("read ended", zap.String("conn_id", conn.ID.String()), zap.Error(err))
			}
			return
		}
		_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := ParseClientFrame(raw)
		if err != nil {
			h.sendError(conn, CodeValidation, "unrecognized event")
			continue
		}

		h.dispatch(ctx, conn, frame)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *Conn, frame *Frame) {
	switch frame.Type {
	case EventJoinConversation:
		p, err := decodePayload[JoinConversationPayload](frame)
		if err != nil {
			h.sendError(conn, CodeValidation, "bad join_conversation payload")
			return
		}
		h.handleJoin(ctx, conn, p.ConversationID)

	case EventLeaveConversation:
		p, err := decodePayload[JoinConversationPayload](frame)
		if err != nil {
			h.sendError(conn, CodeValidation, "bad leave_conversation payload")
			return
		}
		h.handleLeave(ctx, conn, p.ConversationID)

	case EventSendMessage:
		p, err := decodePayload[SendMessagePayload](frame)
		if err != nil {
			h.sendError(conn, CodeValidation, "bad send_message payload")
			return
		}
		if _, err := h.router.Send(ctx, conn.UserID, p); err != nil {
			h.sendOpError(conn, "send_message", err)
		}

	case EventTypingStart, EventTypingStop:
		p, err := decodePayload[TypingPayload](frame)
		if err != nil {
			h.sendError(conn, CodeValidation, "bad typing payload")
			return
		}
		member, err := h.members.IsMember(ctx, p.ConversationID, conn.UserID)
		if err != nil || !member {
			return // typing from a non-member is silently ignored
		}
		if frame.Type == EventTypingStart {
			h.typing.Start(ctx, p.ConversationID, conn.UserID)
		} else {
			h.typing.Stop(ctx, p.ConversationID, conn.UserID)
		}

	case EventMarkRead:
		p, err := decodePayload[MarkReadPayload](frame)
		if err != nil {
			h.sendError(conn, CodeValidation, "bad mark_read payload")
			return
		}
		if err := h.router.MarkRead(ctx, conn.UserID, p); err != nil {
			h.sendOpError(conn, "mark_read", err)
		}

	case EventEditMessage:
		p, err := decodePayload[EditMessagePayload](frame)
		if err != nil {
			h.sendError(conn, CodeValidation, "bad edit_message payload")
			return
		}
		if _, err := h.router.Edit(ctx, conn.UserID, p); err != nil {
			h.sendOpError(conn, "edit_message", err)
		}

	case EventPing:
		// The client-side keepalive, distinct from the server's control
		// pings. Answer on the app channel so intermediaries see traffic.
		conn.Send(mustFrame(EventPong, nil))

	case EventAway:
		h.presence.SetAway(ctx, conn.UserID)

	case EventBack:
		h.presence.SetBack(ctx, conn.UserID)
	}
}

// handleJoin subscribes the connection's user to a conversation's
// fan-out by priming the membership cache. Joining a conversation you
// are not a member of is forbidden — membership changes go through the
// REST surface, the realtime join is only a subscription.
func (h *Hub) handleJoin(ctx context.Context, conn *Conn, conversationID uuid.UUID) {
	member, err := h.members.IsMember(ctx, conversationID, conn.UserID)
	if err != nil {
		h.sendOpError(conn, "join_conversation", fmt.Errorf("%w: %v", ErrTransientDelivery, err))
		return
	}
	if !member {
		h.sendOpError(conn, "join_conversation", fmt.Errorf("%w: user %s in conversation %s", ErrForbidden, conn.UserID, conversationID))
	}
}

// handleLeave is the explicit unsubscribe: it removes the membership
// row (closing a view merely stops rendering; the room stays joined).
func (h *Hub) handleLeave(ctx context.Context, conn *Conn, conversationID uuid.UUID) {
	if err := h.membershipRepo.RemoveMember(ctx, conversationID, conn.UserID); err != nil {
		h.sendOpError(conn, "leave_conversation", fmt.Errorf("%w: %v", ErrTransientDelivery, err))
		return
	}
	h.members.Invalidate(conversationID)
}

// broadcastTyping ships a typing transition to the other live members
// of the conversation.
func (h *Hub) broadcastTyping(ctx context.Context, conversationID, userID uuid.UUID, typing bool) {
	memberIDs, err := h.members.Members(ctx, conversationID)
	if err != nil {
		h.logger.Error("typing member lookup failed", zap.Error(err))
		return
	}

	event := EventTypingStop
	if typing {
		event = EventTypingStart
	}
	frame := mustFrame(event, TypingEventPayload{ConversationID: conversationID, UserID: userID})

	for _, memberID := range memberIDs {
		if memberID == userID {
			continue
		}
		for _, peer := range h.registry.ConnectionsFor(memberID) {
			peer.Send(frame)
		}
	}
}

// sendOpError reports an operation failure to the originating
// connection only. The wire message stays generic; the detail goes to
// the log.
func (h *Hub) sendOpError(conn *Conn, op string, err error) {
	code := codeFor(err)
	h.logger.Info("operation failed",
		zap.String("op", op),
		zap.String("code", code),
		zap.String("user_id", conn.UserID.String()),
		zap.Error(err),
	)
	h.sendError(conn, code, messageFor(code))
}

func (h *Hub) sendError(conn *Conn, code, message string) {
	conn.Send(mustFrame(EventError, ErrorPayload{Code: code, Message: message}))
}

func messageFor(code string) string {
	switch code {
	case CodeValidation:
		return "request was invalid"
	case CodeForbidden:
		return "not a member of this conversation"
	case CodeTransient:
		return "temporary failure, please retry"
	default:
		return "operation failed"
	}
}

func decodePayload[T any](f *Frame) (T, error) {
	var v T
	if len(f.Payload) == 0 {
		return v, fmt.Errorf("%s: missing payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		return v, fmt.Errorf("%s payload: %w", f.Type, err)
	}
	return v, nil
}
