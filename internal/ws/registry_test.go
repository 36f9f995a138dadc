package ws

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTransitions(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()

	c1 := testConn(userID)
	c2 := testConn(userID)

	assert.True(t, r.Register(c1), "first connection is a 0→1 transition")
	assert.False(t, r.Register(c2), "second device is not")
	assert.True(t, r.IsOnline(userID))
	assert.Equal(t, 2, r.Len())

	assert.False(t, r.Unregister(c1), "one device left, not a 1→0 transition")
	assert.True(t, r.Unregister(c2), "last connection gone")
	assert.False(t, r.IsOnline(userID))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c := testConn(uuid.New())

	require.True(t, r.Register(c))
	assert.True(t, r.Unregister(c))
	assert.False(t, r.Unregister(c), "second unregister is a no-op")
	assert.False(t, r.Unregister(testConn(uuid.New())), "unknown connection is a no-op")
}

func TestRegistryConnectionsForSnapshot(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()

	c1 := testConn(userID)
	c2 := testConn(userID)
	r.Register(c1)
	r.Register(c2)

	conns := r.ConnectionsFor(userID)
	require.Len(t, conns, 2)

	// Mutating the registry must not affect the snapshot.
	r.Unregister(c1)
	assert.Len(t, conns, 2)
	assert.Len(t, r.ConnectionsFor(userID), 1)

	assert.Nil(t, r.ConnectionsFor(uuid.New()), "unknown user has no connections")
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	const users = 32
	const connsPerUser = 8

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.New()
			for j := 0; j < connsPerUser; j++ {
				c := testConn(userID)
				r.Register(c)
				r.ConnectionsFor(userID)
				r.Unregister(c)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len(), "every registered connection was unregistered")
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	conns := []*Conn{testConn(uuid.New()), testConn(uuid.New()), testConn(uuid.New())}
	for _, c := range conns {
		r.Register(c)
	}

	r.CloseAll()

	for _, c := range conns {
		assert.False(t, c.Send([]byte("x")), "closed connection rejects sends")
	}
}
