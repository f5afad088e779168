package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neurondb/NeuronGateway/internal/assistant"
	"github.com/neurondb/NeuronGateway/internal/frames"
)

// ErrBrokenTransport is returned by a FakeTransport after Break
var ErrBrokenTransport = errors.New("transport broken")

// FakeTransport records outbound frames in memory and serves scripted inbound messages
type FakeTransport struct {
	mu       sync.Mutex
	frames   []frames.Frame
	broken   bool
	closed   bool
	closeErr error
	notify   chan struct{}

	inbound chan inboundMessage
	done    chan struct{}
	once    sync.Once
}

// NewFakeTransport creates an open transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		notify:  make(chan struct{}, 1),
		inbound: make(chan inboundMessage, 16),
		done:    make(chan struct{}),
	}
}

func (f *FakeTransport) Send(ctx context.Context, frame frames.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken || f.closed {
		return ErrBrokenTransport
	}
	f.frames = append(f.frames, frame)
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the transport closed; Receive then reports a peer close
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	err := f.closeErr
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return err
}

// Receive returns the next scripted inbound message
func (f *FakeTransport) Receive() ([]byte, error) {
	select {
	case msg := <-f.inbound:
		return msg.data, msg.err
	case <-f.done:
		return nil, ErrPeerClosed
	}
}

// ErrPeerClosed is what Receive returns once the peer hangs up
var ErrPeerClosed = errors.New("peer closed")

type inboundMessage struct {
	data []byte
	err  error
}

// Push queues an inbound message
func (f *FakeTransport) Push(data string) {
	f.inbound <- inboundMessage{data: []byte(data)}
}

// PushUnsupported queues a message the transport cannot decode, such as a binary frame
func (f *FakeTransport) PushUnsupported() {
	f.inbound <- inboundMessage{err: fmt.Errorf("%w: binary messages are not supported", frames.ErrInvalidFormat)}
}

// Hangup simulates the peer closing the connection
func (f *FakeTransport) Hangup() {
	f.once.Do(func() { close(f.done) })
}

// Break makes every later Send fail
func (f *FakeTransport) Break() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = true
}

// FailClose makes Close return err
func (f *FakeTransport) FailClose(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr = err
}

func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Frames returns a copy of everything sent so far
func (f *FakeTransport) Frames() []frames.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frames.Frame(nil), f.frames...)
}

// Kinds lists the kinds of the sent frames in order
func (f *FakeTransport) Kinds() []frames.Kind {
	var kinds []frames.Kind
	for _, fr := range f.Frames() {
		kinds = append(kinds, fr.Kind())
	}
	return kinds
}

// WaitFrames blocks until at least n frames were sent or timeout elapses
func (f *FakeTransport) WaitFrames(n int, timeout time.Duration) []frames.Frame {
	deadline := time.After(timeout)
	for {
		if got := f.Frames(); len(got) >= n {
			return got
		}
		select {
		case <-f.notify:
		case <-deadline:
			return f.Frames()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Decode renders a frame as its wire JSON object
func Decode(frame frames.Frame) map[string]interface{} {
	data, _ := json.Marshal(frame)
	var out map[string]interface{}
	_ = json.Unmarshal(data, &out)
	return out
}

// FakeHandler is a scripted message handler that records its calls
type FakeHandler struct {
	mu    sync.Mutex
	calls []HandlerCall

	// Reply is returned when Err is nil
	Reply *assistant.Reply
	Err   error
	// Block, when set, holds every call until it is closed or ctx ends
	Block chan struct{}
}

// HandlerCall is one recorded invocation
type HandlerCall struct {
	Identity string
	Message  string
	Metadata map[string]interface{}
}

func NewFakeHandler() *FakeHandler {
	return &FakeHandler{
		Reply: &assistant.Reply{
			Message:         "ok",
			ResponseType:    "answer",
			ConfidenceScore: 0.75,
		},
	}
}

func (h *FakeHandler) Handle(ctx context.Context, identity, message string, metadata map[string]interface{}) (*assistant.Reply, error) {
	h.mu.Lock()
	h.calls = append(h.calls, HandlerCall{Identity: identity, Message: message, Metadata: metadata})
	block, reply, err := h.Block, h.Reply, h.Err
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (h *FakeHandler) Calls() []HandlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HandlerCall(nil), h.calls...)
}
