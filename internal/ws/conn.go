package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Conn is one live duplex connection belonging to an authenticated user.
// A user may own several at once (multi-device, multi-tab); each gets
// its own Conn with its own send queue.
//
// Concurrency discipline:
//   - Exactly one goroutine reads the socket (the hub's read loop).
//   - Exactly one goroutine writes it (writePump), draining the send
//     channel. Everyone else talks to the connection through Send,
//     which only touches the channel — so fan-out never blocks on a
//     peer's socket I/O.
type Conn struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TenantID uuid.UUID

	CreatedAt time.Time

	sock *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.Logger
}

func newConn(sock *websocket.Conn, userID, tenantID uuid.UUID, sendBuffer int, logger *zap.Logger) *Conn {
	id := uuid.New()
	return &Conn{
		ID:        id,
		UserID:    userID,
		TenantID:  tenantID,
		CreatedAt: time.Now(),
		sock:      sock,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("conn_id", id.String()), zap.String("user_id", userID.String())),
	}
}

// Send enqueues a frame for delivery. It never blocks: a full buffer
// means a slow consumer, and one slow consumer must not stall fan-out
// to everyone else. Returns false when the frame was dropped — the
// caller decides whether that deserves a pending-delivery record.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send buffer full, dropping frame")
		return false
	}
}

// Close is idempotent — evicting an already-closed connection is a
// no-op, not an error. It wakes the writePump, which performs the
// actual socket close so writes never race the close.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump is the connection's single writer. It drains the send
// queue, emits heartbeat pings on a fixed cadence, and closes the
// socket on the way out.
func (c *Conn) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			// Control-frame ping. The read loop's pong handler extends
			// the read deadline; a client that misses enough of these
			// times the read out and gets evicted.
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
