// Package client is the in-process side of the duplex protocol: it
// owns the connection lifecycle, reconnects with backoff, queues
// messages composed while offline, and rejoins conversations after a
// drop. Embedding applications drive it through commands and observe
// it through callbacks.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/lalith-99/ripple/internal/ws"
	"go.uber.org/zap"
)

// ErrConnectionLost is returned by Run after the bounded reconnect
// attempts are exhausted.
var ErrConnectionLost = errors.New("connection lost after maximum reconnect attempts")

// errAuthRejected ends Run immediately: a bad credential never heals
// by retrying.
var errAuthRejected = errors.New("credential rejected")

// State is the reconnection manager's explicit lifecycle.
//
//	disconnected → connecting → connected → backoff → connecting → …
//
// StateClosed is terminal: clean shutdown, auth rejection, or attempts
// exhausted.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PendingSend is a message composed while disconnected, held in the
// outbound queue. It has no durable identifier yet — reconciliation
// against the server's echo is by conversation and content.
type PendingSend struct {
	ConversationID uuid.UUID
	Content        string
	Attachments    []string
	ComposedAt     time.Time
}

// Handlers are the embedder's view of the connection. All callbacks
// fire on the manager's single run-loop goroutine — handlers must not
// block, and they never race each other.
type Handlers struct {
	OnConnected      func(user ws.UserInfo)
	OnMessage        func(msg models.Message)
	OnMessageEdited  func(msg models.Message)
	OnTyping         func(ev ws.TypingEventPayload, typing bool)
	OnPresence       func(ev ws.UserStatusPayload)
	OnRead           func(ev ws.MessageReadPayload)
	OnError          func(ev ws.ErrorPayload)
	OnReconciled     func(local PendingSend, server models.Message)
	OnStateChange    func(s State)
	OnConnectionLost func()
}

type Options struct {
	// URL is the ws endpoint, e.g. ws://localhost:8081/v1/ws.
	URL   string
	Token string

	// Reconnect policy: delay grows linearly (BaseDelay × attempt),
	// capped at MaxDelay; after MaxAttempts consecutive failures the
	// manager gives up and surfaces OnConnectionLost.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// PingInterval is the client-side keepalive, independent of the
	// server's heartbeat — it detects dead connections faster on this
	// end and keeps idle NAT entries warm.
	PingInterval time.Duration

	Dialer   *websocket.Dialer
	Handlers Handlers
	Logger   *zap.Logger
}

func (o *Options) norm() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdSend
	cmdTypingStart
	cmdTypingStop
	cmdMarkRead
	cmdAway
	cmdBack
)

type command struct {
	kind           cmdKind
	conversationID uuid.UUID
	content        string
	attachments    []string
	messageID      int64
}

// Client is the reconnection manager. It is cooperatively single-
// threaded: socket frames, API commands, the keepalive timer, and the
// backoff timer all serialize onto the run loop, so the internal state
// (joined set, outbox, dedup set) needs no locks.
type Client struct {
	opts   Options
	logger *zap.Logger

	cmds chan command

	// Owned by the run loop.
	joined      map[uuid.UUID]struct{}
	outbox      []PendingSend
	unconfirmed []PendingSend
	seen        map[int64]struct{}

	// state is written by the run loop but readable from anywhere.
	state atomic.Int32
}

func New(opts Options) *Client {
	opts.norm()
	return &Client{
		opts:   opts,
		logger: opts.Logger,
		cmds:   make(chan command, 64),
		joined: make(map[uuid.UUID]struct{}),
		seen:   make(map[int64]struct{}),
	}
}

// ---------------------------------------------------------------
// Public API. Every method just posts a command; the run loop does
// the work. Posting while disconnected is fine — joins are recorded,
// sends are queued. A full command buffer drops the command rather
// than blocking the caller.
// ---------------------------------------------------------------

func (c *Client) JoinConversation(conversationID uuid.UUID) {
	c.post(command{kind: cmdJoin, conversationID: conversationID})
}

func (c *Client) LeaveConversation(conversationID uuid.UUID) {
	c.post(command{kind: cmdLeave, conversationID: conversationID})
}

func (c *Client) Send(conversationID uuid.UUID, content string, attachments []string) {
	c.post(command{kind: cmdSend, conversationID: conversationID, content: content, attachments: attachments})
}

func (c *Client) TypingStart(conversationID uuid.UUID) {
	c.post(command{kind: cmdTypingStart, conversationID: conversationID})
}

func (c *Client) TypingStop(conversationID uuid.UUID) {
	c.post(command{kind: cmdTypingStop, conversationID: conversationID})
}

func (c *Client) MarkRead(messageID int64) {
	c.post(command{kind: cmdMarkRead, messageID: messageID})
}

func (c *Client) Away() { c.post(command{kind: cmdAway}) }
func (c *Client) Back() { c.post(command{kind: cmdBack}) }

func (c *Client) post(cmd command) {
	select {
	case c.cmds <- cmd:
	default:
		c.logger.Warn("command buffer full, dropping command")
	}
}

// ---------------------------------------------------------------
// Run loop.
// ---------------------------------------------------------------

// Run owns the connection until ctx is cancelled. It returns nil on
// clean shutdown, errAuth-wrapped failure on a rejected credential,
// and ErrConnectionLost when the bounded retries are exhausted.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0

	for {
		c.setState(StateConnecting)
		sock, err := c.dial(ctx)
		if err == nil {
			established, sessionErr := c.session(ctx, sock)
			c.requeueUnconfirmed()
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return nil
			}
			if errors.Is(sessionErr, errAuthRejected) {
				c.setState(StateClosed)
				return sessionErr
			}
			if established {
				// A session that got as far as connection_established
				// resets the retry budget.
				attempt = 0
			}
		} else if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		attempt++
		if attempt > c.opts.MaxAttempts {
			c.setState(StateClosed)
			if c.opts.Handlers.OnConnectionLost != nil {
				c.opts.Handlers.OnConnectionLost()
			}
			return ErrConnectionLost
		}

		c.setState(StateBackoff)
		if err := c.backoff(ctx, attempt); err != nil {
			c.setState(StateClosed)
			return nil
		}
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	if State(c.state.Load()) == s {
		return
	}
	c.state.Store(int32(s))
	c.logger.Debug("state change", zap.String("state", s.String()))
	if c.opts.Handlers.OnStateChange != nil {
		c.opts.Handlers.OnStateChange(s)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()

	sock, _, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return sock, nil
}

// backoff waits BaseDelay × attempt (capped), still consuming commands
// so joins and sends issued while offline are recorded, not lost.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt) * c.opts.BaseDelay
	if delay > c.opts.MaxDelay {
		delay = c.opts.MaxDelay
	}
	c.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", attempt))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case cmd := <-c.cmds:
			c.handleOffline(cmd)
		}
	}
}

// requeueUnconfirmed moves sends the dead session never got an echo
// for back to the front of the outbox, so the next session retransmits
// them. The server may have persisted some of them before the drop;
// that makes delivery at-least-once, and receivers de-duplicate by
// message id.
func (c *Client) requeueUnconfirmed() {
	if len(c.unconfirmed) == 0 {
		return
	}
	c.outbox = append(c.unconfirmed, c.outbox...)
	c.unconfirmed = nil
}

// handleOffline processes a command with no live connection: record
// the intent, queue the send, drop the rest (typing state is too
// short-lived to be worth replaying).
func (c *Client) handleOffline(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		c.joined[cmd.conversationID] = struct{}{}
	case cmdLeave:
		delete(c.joined, cmd.conversationID)
	case cmdSend:
		c.outbox = append(c.outbox, PendingSend{
			ConversationID: cmd.conversationID,
			Content:        cmd.content,
			Attachments:    cmd.attachments,
			ComposedAt:     time.Now(),
		})
	}
}
