package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/neurondb/NeuronGateway/internal/frames"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Disconnect reasons
const (
	ReasonReconnection    = "reconnection"
	ReasonConnectionError = "connection_error"
	ReasonSessionEnded    = "session_ended"
	ReasonServerShutdown  = "server_shutdown"
)

// ErrNotConnected is returned when a connection is no longer the live entry for its identity
var ErrNotConnected = errors.New("connection is not registered")

const defaultBroadcastConcurrency = 32

// Transport is the duplex channel a Connection owns exclusively
type Transport interface {
	Send(ctx context.Context, f frames.Frame) error
	Close() error
}

// Options configures a Registry
type Options struct {
	Clock                clock.Clock
	Logger               *logging.Logger
	BroadcastConcurrency int
}

/* Registry tracks at most one live connection per identity */
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	// serializes connect, send and disconnect for one identity
	locks keyedMutex

	clock       clock.Clock
	logger      *logging.Logger
	concurrency int
}

// New creates an empty registry
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.BroadcastConcurrency <= 0 {
		opts.BroadcastConcurrency = defaultBroadcastConcurrency
	}
	return &Registry{
		conns:       make(map[string]*Connection),
		locks:       keyedMutex{locks: make(map[string]*keyLock)},
		clock:       opts.Clock,
		logger:      opts.Logger,
		concurrency: opts.BroadcastConcurrency,
	}
}

// Connect registers transport as the live connection for identity, displacing any
// existing one, and sends the welcome frame. If the welcome cannot be delivered the
// new connection is torn down and an error is returned.
func (r *Registry) Connect(ctx context.Context, identity string, transport Transport) (*Connection, error) {
	unlock := r.locks.Lock(identity)
	defer unlock()

	if old := r.get(identity); old != nil {
		r.logger.Info("Replacing existing connection", map[string]interface{}{
			"user_id":       identity,
			"connection_id": old.ID,
		})
		_ = r.disconnectLocked(ctx, old, ReasonReconnection)
	}

	conn := newConnection(identity, transport, r.clock.Now())
	r.mu.Lock()
	r.conns[identity] = conn
	count := len(r.conns)
	r.mu.Unlock()
	metrics.SetActiveConnections(count)

	welcome := frames.NewConnectionEstablished(r.clock.Now(), identity, conn.ID)
	if err := r.sendLocked(ctx, conn, welcome); err != nil {
		_ = r.disconnectLocked(ctx, conn, ReasonConnectionError)
		return nil, fmt.Errorf("failed to send welcome frame: %w", err)
	}

	r.logger.Info("Connection registered", map[string]interface{}{
		"user_id":       identity,
		"connection_id": conn.ID,
		"active":        count,
	})
	return conn, nil
}

// Disconnect tears down the live connection for identity. It is a no-op when none exists.
func (r *Registry) Disconnect(ctx context.Context, identity, reason string) {
	unlock := r.locks.Lock(identity)
	defer unlock()

	if conn := r.get(identity); conn != nil {
		_ = r.disconnectLocked(ctx, conn, reason)
	}
}

// Release is the cleanup path for a session that owns conn. The registry entry is only
// removed if conn is still the live connection for its identity.
func (r *Registry) Release(ctx context.Context, conn *Connection, reason string) {
	unlock := r.locks.Lock(conn.Identity)
	defer unlock()

	if r.get(conn.Identity) == conn {
		_ = r.disconnectLocked(ctx, conn, reason)
		return
	}
	if err := conn.close(); err != nil {
		r.logger.Debug("Close of displaced connection failed", map[string]interface{}{
			"user_id":       conn.Identity,
			"connection_id": conn.ID,
			"error":         err.Error(),
		})
	}
}

// Send delivers f to identity. It reports false when identity is not connected or the
// transport failed, in which case the connection is dropped.
func (r *Registry) Send(ctx context.Context, identity string, f frames.Frame) bool {
	unlock := r.locks.Lock(identity)
	defer unlock()

	conn := r.get(identity)
	if conn == nil {
		return false
	}
	return r.sendOrDrop(ctx, conn, f) == nil
}

// SendConnection delivers f on conn only while conn is the live entry for its identity
func (r *Registry) SendConnection(ctx context.Context, conn *Connection, f frames.Frame) error {
	unlock := r.locks.Lock(conn.Identity)
	defer unlock()

	if r.get(conn.Identity) != conn {
		return ErrNotConnected
	}
	return r.sendOrDrop(ctx, conn, f)
}

func (r *Registry) sendOrDrop(ctx context.Context, conn *Connection, f frames.Frame) error {
	err := r.sendLocked(ctx, conn, f)
	if err == nil {
		return nil
	}
	r.logger.Warn("Send failed, dropping connection", map[string]interface{}{
		"user_id":       conn.Identity,
		"connection_id": conn.ID,
		"frame_type":    string(f.Kind()),
		"error":         err.Error(),
	})
	_ = r.disconnectLocked(ctx, conn, ReasonConnectionError)
	return fmt.Errorf("send %s: %w", f.Kind(), err)
}

// BroadcastResult reports a fan-out
type BroadcastResult struct {
	SentTo         int `json:"sent_to"`
	TotalRequested int `json:"total_requested"`
}

// Broadcast sends f to every connected identity in identities, or to everyone connected
// when identities is empty (nil or zero length). Identities that are not connected are skipped.
func (r *Registry) Broadcast(ctx context.Context, identities []string, f frames.Frame) BroadcastResult {
	var targets []string
	if len(identities) == 0 {
		targets = r.ActiveIdentities()
	} else {
		targets = dedupe(identities)
	}

	var (
		mu      sync.Mutex
		reached int
		g       errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for _, identity := range targets {
		identity := identity
		g.Go(func() error {
			if r.Send(ctx, identity, f) {
				mu.Lock()
				reached++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("Broadcast delivered", map[string]interface{}{
		"sent_to":         reached,
		"total_requested": len(targets),
	})
	return BroadcastResult{SentTo: reached, TotalRequested: len(targets)}
}

// ActiveIdentities returns connected identities in sorted order
func (r *Registry) ActiveIdentities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Info returns metadata for identity's live connection
func (r *Registry) Info(identity string) (ConnectionInfo, bool) {
	conn := r.get(identity)
	if conn == nil {
		return ConnectionInfo{}, false
	}
	return conn.Info(), true
}

func (r *Registry) IsConnected(identity string) bool {
	return r.get(identity) != nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Status is a point-in-time snapshot of the registry
type Status struct {
	Count       int                       `json:"count"`
	UserIDs     []string                  `json:"user_ids"`
	Connections map[string]ConnectionInfo `json:"connections"`
}

func (r *Registry) Status() Status {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	status := Status{
		Count:       len(conns),
		UserIDs:     make([]string, 0, len(conns)),
		Connections: make(map[string]ConnectionInfo, len(conns)),
	}
	for _, conn := range conns {
		status.UserIDs = append(status.UserIDs, conn.Identity)
		status.Connections[conn.Identity] = conn.Info()
	}
	sort.Strings(status.UserIDs)
	return status
}

// Shutdown disconnects every connection and returns the combined transport close errors
func (r *Registry) Shutdown(ctx context.Context) error {
	var err error
	for _, identity := range r.ActiveIdentities() {
		unlock := r.locks.Lock(identity)
		if conn := r.get(identity); conn != nil {
			err = multierr.Append(err, r.disconnectLocked(ctx, conn, ReasonServerShutdown))
		}
		unlock()
	}
	return err
}

func (r *Registry) get(identity string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[identity]
}

// sendLocked requires the identity lock
func (r *Registry) sendLocked(ctx context.Context, conn *Connection, f frames.Frame) error {
	if err := conn.transport.Send(ctx, f); err != nil {
		return err
	}
	conn.touch(r.clock.Now())
	metrics.RecordFrameSent(string(f.Kind()))
	return nil
}

// disconnectLocked requires the identity lock. The returned close error has already been logged.
func (r *Registry) disconnectLocked(ctx context.Context, conn *Connection, reason string) error {
	if reason != ReasonConnectionError {
		if err := conn.transport.Send(ctx, frames.NewDisconnection(r.clock.Now(), reason)); err != nil {
			r.logger.Debug("Disconnection notice not delivered", map[string]interface{}{
				"user_id": conn.Identity,
				"error":   err.Error(),
			})
		}
	}

	closeErr := conn.close()
	if closeErr != nil {
		r.logger.Debug("Transport close failed", map[string]interface{}{
			"user_id":       conn.Identity,
			"connection_id": conn.ID,
			"error":         closeErr.Error(),
		})
	}

	r.mu.Lock()
	if r.conns[conn.Identity] == conn {
		delete(r.conns, conn.Identity)
	}
	count := len(r.conns)
	r.mu.Unlock()

	metrics.SetActiveConnections(count)
	metrics.RecordDisconnect(reason)
	r.logger.Info("Connection closed", map[string]interface{}{
		"user_id":       conn.Identity,
		"connection_id": conn.ID,
		"reason":        reason,
		"messages_sent": conn.MessageCount(),
	})

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", conn.Identity, closeErr)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
