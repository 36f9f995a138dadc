package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/lalith-99/ripple/internal/ws"
	"go.uber.org/zap"
)

const (
	clientWriteWait = 10 * time.Second
	handshakeWait   = 10 * time.Second
)

// session drives one live connection from handshake to teardown. It
// returns established=true once connection_established was seen, which
// is what resets the caller's retry budget. The run loop is the only
// writer on the socket; the reader goroutine only reads.
func (c *Client) session(ctx context.Context, sock *websocket.Conn) (established bool, err error) {
	defer sock.Close()

	frames := make(chan *ws.Frame, 16)
	readErr := make(chan error, 1)
	go readFrames(sock, frames, readErr)

	// The server speaks first: connection_established on success,
	// auth_error (then close) on a bad credential.
	me, err := c.awaitHandshake(ctx, frames, readErr)
	if err != nil {
		return false, err
	}

	c.setState(StateConnected)
	if c.opts.Handlers.OnConnected != nil {
		c.opts.Handlers.OnConnected(me)
	}

	if err := c.resync(sock); err != nil {
		return true, err
	}

	keepalive := time.NewTicker(c.opts.PingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(clientWriteWait)
			_ = sock.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return true, nil

		case err := <-readErr:
			return true, fmt.Errorf("read: %w", err)

		case f := <-frames:
			c.dispatch(me, f)

		case cmd := <-c.cmds:
			if err := c.handleOnline(sock, cmd); err != nil {
				return true, err
			}

		case <-keepalive.C:
			frame, _ := ws.NewFrame(ws.EventPing, ws.PingPayload{Timestamp: time.Now().UnixMilli()})
			if err := c.write(sock, frame); err != nil {
				return true, err
			}
		}
	}
}

func readFrames(sock *websocket.Conn, frames chan<- *ws.Frame, readErr chan<- error) {
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		var f ws.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			readErr <- fmt.Errorf("unmarshal frame: %w", err)
			return
		}
		frames <- &f
	}
}

func (c *Client) awaitHandshake(ctx context.Context, frames <-chan *ws.Frame, readErr <-chan error) (ws.UserInfo, error) {
	timer := time.NewTimer(handshakeWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ws.UserInfo{}, ctx.Err()
	case <-timer.C:
		return ws.UserInfo{}, errors.New("handshake timeout")
	case err := <-readErr:
		return ws.UserInfo{}, fmt.Errorf("handshake read: %w", err)
	case f := <-frames:
		switch f.Type {
		case ws.EventConnectionEstablished:
			var p ws.ConnectionEstablishedPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return ws.UserInfo{}, fmt.Errorf("decode handshake: %w", err)
			}
			return p.User, nil
		case ws.EventAuthError:
			return ws.UserInfo{}, errAuthRejected
		default:
			return ws.UserInfo{}, fmt.Errorf("unexpected handshake frame %q", f.Type)
		}
	}
}

// resync restores the session's server-side state after a (re)connect:
// rejoin every conversation the application had joined, then flush the
// offline outbox in compose order. Flushed sends move to the
// unconfirmed list until the server echo reconciles them.
func (c *Client) resync(sock *websocket.Conn) error {
	for conversationID := range c.joined {
		frame, _ := ws.NewFrame(ws.EventJoinConversation, ws.JoinConversationPayload{ConversationID: conversationID})
		if err := c.write(sock, frame); err != nil {
			return err
		}
	}

	for _, pending := range c.outbox {
		frame, _ := ws.NewFrame(ws.EventSendMessage, ws.SendMessagePayload{
			ConversationID: pending.ConversationID,
			Content:        pending.Content,
			Attachments:    pending.Attachments,
		})
		if err := c.write(sock, frame); err != nil {
			return err
		}
		c.unconfirmed = append(c.unconfirmed, pending)
	}
	if n := len(c.outbox); n > 0 {
		c.logger.Info("flushed offline queue", zap.Int("messages", n))
	}
	c.outbox = nil
	return nil
}

func (c *Client) handleOnline(sock *websocket.Conn, cmd command) error {
	switch cmd.kind {
	case cmdJoin:
		c.joined[cmd.conversationID] = struct{}{}
		return c.writeFrame(sock, ws.EventJoinConversation, ws.JoinConversationPayload{ConversationID: cmd.conversationID})
	case cmdLeave:
		delete(c.joined, cmd.conversationID)
		return c.writeFrame(sock, ws.EventLeaveConversation, ws.JoinConversationPayload{ConversationID: cmd.conversationID})
	case cmdSend:
		c.unconfirmed = append(c.unconfirmed, PendingSend{
			ConversationID: cmd.conversationID,
			Content:        cmd.content,
			Attachments:    cmd.attachments,
			ComposedAt:     time.Now(),
		})
		return c.writeFrame(sock, ws.EventSendMessage, ws.SendMessagePayload{
			ConversationID: cmd.conversationID,
			Content:        cmd.content,
			Attachments:    cmd.attachments,
		})
	case cmdTypingStart:
		return c.writeFrame(sock, ws.EventTypingStart, ws.TypingPayload{ConversationID: cmd.conversationID})
	case cmdTypingStop:
		return c.writeFrame(sock, ws.EventTypingStop, ws.TypingPayload{ConversationID: cmd.conversationID})
	case cmdMarkRead:
		return c.writeFrame(sock, ws.EventMarkRead, ws.MarkReadPayload{MessageID: cmd.messageID})
	case cmdAway:
		return c.writeFrame(sock, ws.EventAway, nil)
	case cmdBack:
		return c.writeFrame(sock, ws.EventBack, nil)
	default:
		return nil
	}
}

func (c *Client) writeFrame(sock *websocket.Conn, t ws.EventType, payload any) error {
	frame, err := ws.NewFrame(t, payload)
	if err != nil {
		return err
	}
	return c.write(sock, frame)
}

func (c *Client) write(sock *websocket.Conn, frame []byte) error {
	if err := sock.SetWriteDeadline(time.Now().Add(clientWriteWait)); err != nil {
		return err
	}
	return sock.WriteMessage(websocket.TextMessage, frame)
}

// dispatch fans a server frame out to the embedder's handlers.
func (c *Client) dispatch(me ws.UserInfo, f *ws.Frame) {
	switch f.Type {
	case ws.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			c.logger.Warn("bad new_message payload", zap.Error(err))
			return
		}
		// Redelivery after a reconnect can repeat a message the first
		// session already surfaced.
		if _, dup := c.seen[msg.ID]; dup {
			return
		}
		c.seen[msg.ID] = struct{}{}
		if msg.SenderID == me.ID {
			c.reconcile(msg)
		}
		if c.opts.Handlers.OnMessage != nil {
			c.opts.Handlers.OnMessage(msg)
		}

	case ws.EventMessageEdited:
		var msg models.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			c.logger.Warn("bad message_edited payload", zap.Error(err))
			return
		}
		if c.opts.Handlers.OnMessageEdited != nil {
			c.opts.Handlers.OnMessageEdited(msg)
		}

	case ws.EventTypingStart, ws.EventTypingStop:
		var ev ws.TypingEventPayload
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return
		}
		if c.opts.Handlers.OnTyping != nil {
			c.opts.Handlers.OnTyping(ev, f.Type == ws.EventTypingStart)
		}

	case ws.EventUserStatusChanged:
		var ev ws.UserStatusPayload
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return
		}
		if c.opts.Handlers.OnPresence != nil {
			c.opts.Handlers.OnPresence(ev)
		}

	case ws.EventMessageRead:
		var ev ws.MessageReadPayload
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return
		}
		if c.opts.Handlers.OnRead != nil {
			c.opts.Handlers.OnRead(ev)
		}

	case ws.EventError:
		var ev ws.ErrorPayload
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return
		}
		c.logger.Warn("server error", zap.String("code", ev.Code), zap.String("message", ev.Message))
		if c.opts.Handlers.OnError != nil {
			c.opts.Handlers.OnError(ev)
		}

	case ws.EventPong:
		// Keepalive round trip completed; nothing to update.

	default:
		c.logger.Debug("ignoring frame", zap.String("type", string(f.Type)))
	}
}

// reconcile matches our own echoed message against the oldest
// unconfirmed optimistic send with the same conversation and content,
// which is the point where the local placeholder gains its durable ID.
func (c *Client) reconcile(msg models.Message) {
	for i, pending := range c.unconfirmed {
		if pending.ConversationID != msg.ConversationID || pending.Content != msg.Body {
			continue
		}
		c.unconfirmed = append(c.unconfirmed[:i], c.unconfirmed[i+1:]...)
		if c.opts.Handlers.OnReconciled != nil {
			c.opts.Handlers.OnReconciled(pending, msg)
		}
		return
	}
}
