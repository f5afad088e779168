package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection is one registered client channel
type Connection struct {
	ID          string
	Identity    string
	ConnectedAt time.Time

	transport    Transport
	lastActivity atomic.Int64 // unix nanoseconds
	messageCount atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// ConnectionInfo is the read-only view of a Connection
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int64     `json:"message_count"`
}

func newConnection(identity string, transport Transport, now time.Time) *Connection {
	c := &Connection{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: now,
		transport:   transport,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// MessageCount is the number of frames delivered, including the welcome frame
func (c *Connection) MessageCount() int64 {
	return c.messageCount.Load()
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load()).UTC()
}

func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ConnectionID: c.ID,
		UserID:       c.Identity,
		ConnectedAt:  c.ConnectedAt.UTC(),
		LastActivity: c.LastActivity(),
		MessageCount: c.MessageCount(),
	}
}

func (c *Connection) touch(now time.Time) {
	c.messageCount.Add(1)
	c.lastActivity.Store(now.UnixNano())
}

// close closes the transport once; later calls return the first result
func (c *Connection) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is held and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
