package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/lalith-99/ripple/internal/repository"
	"go.uber.org/zap"
)

// PresenceTracker derives online/away/offline from registry membership.
// Presence is never persisted on its own — it is recomputed from live
// connections plus an explicit away override, and only the transitions
// are broadcast.
//
// The offline side is deliberately lazy: a 1→0 transition starts a
// grace timer instead of broadcasting immediately, so a page reload or
// a quick reconnect doesn't flap offline/online at every peer.
type PresenceTracker struct {
	registry *Registry
	peers    repository.MembershipRepository
	status   StatusSink
	grace    time.Duration
	logger   *zap.Logger

	// sendToUsers delivers a frame to every live connection of each
	// user. Injected by the hub so the tracker never touches sockets.
	sendToUsers func(userIDs []uuid.UUID, frame []byte)

	mu     sync.Mutex
	away   map[uuid.UUID]bool
	timers map[uuid.UUID]*time.Timer
}

func NewPresenceTracker(
	registry *Registry,
	peers repository.MembershipRepository,
	status StatusSink,
	grace time.Duration,
	sendToUsers func(userIDs []uuid.UUID, frame []byte),
	logger *zap.Logger,
) *PresenceTracker {
	return &PresenceTracker{
		registry:    registry,
		peers:       peers,
		status:      status,
		grace:       grace,
		sendToUsers: sendToUsers,
		logger:      logger,
		away:        make(map[uuid.UUID]bool),
		timers:      make(map[uuid.UUID]*time.Timer),
	}
}

// HandleConnect reacts to a registry registration. `first` is the
// registry's 0→1 transition flag.
func (p *PresenceTracker) HandleConnect(ctx context.Context, userID uuid.UUID, first bool) {
	p.mu.Lock()
	// A registration event clears any away override.
	delete(p.away, userID)

	// Reconnect inside the grace window: cancel the pending offline
	// broadcast. The peers never saw offline, so there is nothing to
	// re-announce either.
	graceful := false
	if t, ok := p.timers[userID]; ok {
		t.Stop()
		delete(p.timers, userID)
		graceful = true
	}
	p.mu.Unlock()

	if first && !graceful {
		p.broadcast(ctx, userID, models.StatusOnline)
	}
}

// HandleDisconnect reacts to a registry unregistration. `last` is the
// 1→0 transition flag; anything else is a no-op (other devices remain).
func (p *PresenceTracker) HandleDisconnect(ctx context.Context, userID uuid.UUID, last bool) {
	if !last {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.timers[userID]; ok {
		return
	}
	p.timers[userID] = time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		delete(p.timers, userID)
		p.mu.Unlock()

		// Re-check at fire time: the user may have reconnected after
		// the grace period was scheduled but before it expired.
		if p.registry.IsOnline(userID) {
			return
		}
		p.broadcast(context.Background(), userID, models.StatusOffline)
	})
}

// SetAway applies the client's explicit away signal. It overrides the
// derived state until the next registration event.
func (p *PresenceTracker) SetAway(ctx context.Context, userID uuid.UUID) {
	p.mu.Lock()
	p.away[userID] = true
	p.mu.Unlock()
	p.broadcast(ctx, userID, models.StatusAway)
}

// SetBack lifts the away override.
func (p *PresenceTracker) SetBack(ctx context.Context, userID uuid.UUID) {
	p.mu.Lock()
	wasAway := p.away[userID]
	delete(p.away, userID)
	p.mu.Unlock()
	if wasAway && p.registry.IsOnline(userID) {
		p.broadcast(ctx, userID, models.StatusOnline)
	}
}

// StatusOf answers the derived state for one user — the outward query
// used by the dashboard endpoint.
func (p *PresenceTracker) StatusOf(userID uuid.UUID) models.PresenceStatus {
	if !p.registry.IsOnline(userID) {
		return models.StatusOffline
	}
	p.mu.Lock()
	away := p.away[userID]
	p.mu.Unlock()
	if away {
		return models.StatusAway
	}
	return models.StatusOnline
}

// broadcast announces a transition to everyone who shares at least one
// conversation with the subject — never globally.
func (p *PresenceTracker) broadcast(ctx context.Context, userID uuid.UUID, status models.PresenceStatus) {
	p.status.SetPresence(ctx, userID, status)

	audience, err := p.peers.ListPeerIDs(ctx, userID)
	if err != nil {
		p.logger.Error("presence peer lookup failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if len(audience) == 0 {
		return
	}

	frame := mustFrame(EventUserStatusChanged, UserStatusPayload{UserID: userID, Status: status})
	p.sendToUsers(audience, frame)

	p.logger.Debug("presence transition",
		zap.String("user_id", userID.String()),
		zap.String("status", string(status)),
		zap.Int("peers", len(audience)),
	)
}
