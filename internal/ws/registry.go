package ws

import (
	"sync"

	"github.com/google/uuid"
)

// bucketCount must be a power of two so selection is a mask, not a mod.
const bucketCount = 16

// Registry maps authenticated users to their live connections. It is
// one of only two cross-request mutable structures on the server, so
// the locking discipline matters:
//
//   - State is striped across buckets keyed by user id; concurrent
//     (un)registrations of different users rarely contend.
//   - A connection lives in exactly one bucket — the one its user id
//     hashes to — so there is no cross-bucket move and no lost update.
//   - Readers get snapshots. Nothing iterates a live map while a lock
//     is held by a writer, and fan-out never writes a socket under a
//     registry lock.
type Registry struct {
	buckets [bucketCount]registryBucket
}

type registryBucket struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]map[uuid.UUID]*Conn // user id → conn id → conn
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.buckets {
		r.buckets[i].byUser = make(map[uuid.UUID]map[uuid.UUID]*Conn)
	}
	return r
}

func (r *Registry) bucket(userID uuid.UUID) *registryBucket {
	// uuid v4 bytes are uniformly random; the first byte is as good a
	// hash as any.
	return &r.buckets[userID[0]&(bucketCount-1)]
}

// Register records a connection under its owning user. The returned
// flag reports a 0→1 transition — the signal the presence tracker
// turns into an "online" broadcast.
func (r *Registry) Register(conn *Conn) (first bool) {
	b := r.bucket(conn.UserID)
	b.mu.Lock()
	defer b.mu.Unlock()

	conns := b.byUser[conn.UserID]
	if conns == nil {
		conns = make(map[uuid.UUID]*Conn)
		b.byUser[conn.UserID] = conns
	}
	first = len(conns) == 0
	conns[conn.ID] = conn
	return first
}

// Unregister removes a connection. Idempotent: unregistering a
// connection that was never (or is no longer) present is a no-op.
// The returned flag reports a 1→0 transition for the presence tracker.
func (r *Registry) Unregister(conn *Conn) (last bool) {
	b := r.bucket(conn.UserID)
	b.mu.Lock()
	defer b.mu.Unlock()

	conns := b.byUser[conn.UserID]
	if conns == nil {
		return false
	}
	if _, ok := conns[conn.ID]; !ok {
		return false
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(b.byUser, conn.UserID)
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of a user's live connections.
// Callers iterate the snapshot outside any lock — a write failure to
// one connection can't affect delivery to the others, and a concurrent
// (un)register can't invalidate the iteration.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []*Conn {
	b := r.bucket(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns := b.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	b := r.bucket(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byUser[userID]) > 0
}

// Len counts live connections across all buckets.
func (r *Registry) Len() int {
	n := 0
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		for _, conns := range b.byUser {
			n += len(conns)
		}
		b.mu.RUnlock()
	}
	return n
}

// CloseAll force-closes every live connection (shutdown path).
func (r *Registry) CloseAll() {
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		var snapshot []*Conn
		for _, conns := range b.byUser {
			for _, c := range conns {
				snapshot = append(snapshot, c)
			}
		}
		b.mu.RUnlock()

		for _, c := range snapshot {
			c.Close()
		}
	}
}
