package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/neurondb/NeuronGateway/internal/assistant"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/frames"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
	"github.com/neurondb/NeuronGateway/internal/ratelimit"
	"github.com/neurondb/NeuronGateway/internal/registry"
)

const (
	DefaultHandlerTimeout = 30 * time.Second
	cleanupTimeout        = 5 * time.Second
)

// State is the lifecycle position of one session
type State int

const (
	StateUnauthenticated State = iota
	StateEstablishing
	StateActive
	StateDispatching
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateEstablishing:
		return "establishing"
	case StateActive:
		return "active"
	case StateDispatching:
		return "dispatching"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is a client channel the gateway can read from and write to
type Conn interface {
	registry.Transport
	// Receive returns the next inbound message. Errors wrapping frames.ErrInvalidFormat
	// reject one message; any other error ends the session.
	Receive() ([]byte, error)
}

// CredentialResolver maps presented credentials to a caller identity
type CredentialResolver interface {
	Resolve(ctx context.Context, bearer, headerAPIKey string) (*auth.ResolvedIdentity, error)
}

// Credentials are the raw secrets a client presented when opening a session
type Credentials struct {
	Bearer string
	APIKey string
}

func (c Credentials) empty() bool {
	return c.Bearer == "" && c.APIKey == ""
}

// ErrIdentityMismatch means a valid credential belongs to another identity
var ErrIdentityMismatch = errors.New("credential does not match identity")

// SetupError rejects a session before it becomes active. The connection should be closed
// with a policy violation status.
type SetupError struct {
	Code frames.ErrorCode
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Options configures a Gateway. Registry and Handler are required.
type Options struct {
	Registry *registry.Registry
	Handler  assistant.Handler
	Resolver CredentialResolver
	Policy   IdentityPolicy
	// Admitter, when set, limits inbound messages per identity
	Admitter ratelimit.Admitter

	AllowAnonymous bool
	HandlerTimeout time.Duration
	// PeerClosed classifies receive errors that mean the client went away
	PeerClosed func(error) bool

	Clock  clock.Clock
	Logger *logging.Logger
}

/* Gateway runs client sessions: it authenticates the caller, registers the
 * connection and then dispatches inbound messages to the handler one at a time. */
type Gateway struct {
	registry       *registry.Registry
	handler        assistant.Handler
	resolver       CredentialResolver
	policy         IdentityPolicy
	admitter       ratelimit.Admitter
	allowAnonymous bool
	handlerTimeout time.Duration
	peerClosed     func(error) bool
	clock          clock.Clock
	logger         *logging.Logger
}

func New(opts Options) *Gateway {
	if opts.Policy == nil {
		opts.Policy = AllowAll
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.PeerClosed == nil {
		opts.PeerClosed = func(error) bool { return true }
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Gateway{
		registry:       opts.Registry,
		handler:        opts.Handler,
		resolver:       opts.Resolver,
		policy:         opts.Policy,
		admitter:       opts.Admitter,
		allowAnonymous: opts.AllowAnonymous,
		handlerTimeout: opts.HandlerTimeout,
		peerClosed:     opts.PeerClosed,
		clock:          opts.Clock,
		logger:         opts.Logger,
	}
}

// Serve runs one session for identity over conn until the client leaves, the transport
// fails or ctx ends. Setup failures are reported to the client with an error frame and
// returned; the caller owns closing conn in that case. Once the session is active the
// registry owns conn and releases it before Serve returns.
func (g *Gateway) Serve(ctx context.Context, identity string, creds Credentials, conn Conn) error {
	s := &session{gateway: g, identity: identity, transport: conn, state: StateUnauthenticated}

	if err := s.authenticate(ctx, creds); err != nil {
		return s.reject(ctx, err)
	}

	s.transition(StateEstablishing)
	if err := g.policy.ResolveOrCreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			err = &SetupError{Code: frames.CodeIdentityRejected, Err: err}
		}
		return s.reject(ctx, err)
	}

	registered, err := g.registry.Connect(ctx, identity, conn)
	if err != nil {
		s.transition(StateClosed)
		return err
	}
	s.conn = registered
	s.transition(StateActive)

	return s.run(ctx)
}

type session struct {
	gateway   *Gateway
	identity  string
	transport Conn
	conn      *registry.Connection
	state     State
}

func (s *session) transition(to State) {
	s.gateway.logger.Debug("Session state changed", map[string]interface{}{
		"user_id": s.identity,
		"from":    s.state.String(),
		"to":      to.String(),
	})
	s.state = to
}

func (s *session) authenticate(ctx context.Context, creds Credentials) error {
	if !ValidIdentity(s.identity) {
		return &SetupError{Code: frames.CodeIdentityRejected, Err: fmt.Errorf("invalid identity %q", s.identity)}
	}
	if creds.empty() {
		if s.gateway.allowAnonymous {
			return nil
		}
		return &SetupError{Code: frames.CodeAuthenticationFailed, Err: auth.ErrInvalidCredentials}
	}
	if s.gateway.resolver == nil {
		return &SetupError{Code: frames.CodeAuthenticationFailed, Err: errors.New("credential resolution is not configured")}
	}

	resolved, err := s.gateway.resolver.Resolve(ctx, creds.Bearer, creds.APIKey)
	if err != nil {
		return &SetupError{Code: frames.CodeAuthenticationFailed, Err: err}
	}
	if resolved.Identity != s.identity {
		// reported to the client as a plain authentication failure
		return &SetupError{
			Code: frames.CodeAuthenticationFailed,
			Err:  fmt.Errorf("%w: credential belongs to %q", ErrIdentityMismatch, resolved.Identity),
		}
	}
	return nil
}

// reject reports a setup failure on the unregistered transport
func (s *session) reject(ctx context.Context, err error) error {
	s.transition(StateRejected)

	var setupErr *SetupError
	var frame frames.Frame
	if errors.As(err, &setupErr) {
		frame = frames.NewError(s.gateway.clock.Now(), setupErr.Code, rejectMessage(setupErr.Code))
		s.gateway.logger.Warn("Session rejected", map[string]interface{}{
			"user_id": s.identity,
			"code":    string(setupErr.Code),
			"error":   setupErr.Err.Error(),
		})
	} else {
		frame = frames.NewError(s.gateway.clock.Now(), frames.CodeInternalError, "Failed to establish session")
		s.gateway.logger.Error("Session setup failed", err, map[string]interface{}{
			"user_id": s.identity,
		})
	}

	if sendErr := s.transport.Send(ctx, frame); sendErr != nil {
		s.gateway.logger.Debug("Rejection frame not delivered", map[string]interface{}{
			"user_id": s.identity,
			"error":   sendErr.Error(),
		})
	}
	return err
}

func rejectMessage(code frames.ErrorCode) string {
	switch code {
	case frames.CodeAuthenticationFailed:
		return "Authentication failed"
	case frames.CodeIdentityRejected:
		return "User is not allowed to connect"
	}
	return "Connection rejected"
}

// run is the ACTIVE loop. Cleanup always releases the registry entry.
func (s *session) run(parent context.Context) (err error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	defer func() {
		releaseCtx, done := context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
		s.gateway.registry.Release(releaseCtx, s.conn, registry.ReasonSessionEnded)
		done()
		s.transition(StateClosed)
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("session panic: %v", p)
			s.gateway.logger.Error("Session loop panicked", err, map[string]interface{}{
				"user_id": s.identity,
			})
		}
	}()

	inbound := make(chan received)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := s.transport.Receive()
			if err != nil && !errors.Is(err, frames.ErrInvalidFormat) {
				readErr <- err
				cancel()
				return
			}
			select {
			case inbound <- received{data: data, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-inbound:
			if err := s.handleMessage(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return s.receiveError(readErr)
				}
				return s.sendFailure(err)
			}
		case err := <-readErr:
			return s.peerGone(err)
		case <-ctx.Done():
			if rerr := s.receiveError(readErr); rerr != nil {
				return rerr
			}
			return ctx.Err()
		}
	}
}

// receiveError drains a pending read error, classifying it
func (s *session) receiveError(readErr <-chan error) error {
	select {
	case err := <-readErr:
		return s.peerGone(err)
	default:
		return nil
	}
}

func (s *session) peerGone(err error) error {
	if s.gateway.peerClosed(err) {
		s.gateway.logger.Info("Client disconnected", map[string]interface{}{
			"user_id": s.identity,
		})
		return nil
	}
	s.gateway.logger.Warn("Receive failed, ending session", map[string]interface{}{
		"user_id": s.identity,
		"error":   err.Error(),
	})
	return fmt.Errorf("receive: %w", err)
}

func (s *session) sendFailure(err error) error {
	if errors.Is(err, registry.ErrNotConnected) {
		s.gateway.logger.Info("Session displaced by a newer connection", map[string]interface{}{
			"user_id":       s.identity,
			"connection_id": s.conn.ID,
		})
		return nil
	}
	return err
}

// received is one inbound message, or the transport's reason for rejecting it
type received struct {
	data []byte
	err  error
}

func (r received) parse() (frames.Inbound, error) {
	if r.err != nil {
		return frames.Inbound{}, r.err
	}
	return frames.ParseInbound(r.data)
}

// handleMessage processes one inbound message. A non-nil error ends the session.
func (s *session) handleMessage(ctx context.Context, msg received) error {
	in, err := msg.parse()
	switch {
	case errors.Is(err, frames.ErrBlankMessage):
		return nil
	case err != nil:
		return s.send(ctx, frames.NewError(s.gateway.clock.Now(), frames.CodeInvalidFormat, "Invalid message format"))
	}

	if s.gateway.admitter != nil {
		decision := s.gateway.admitter.Allow(ctx, "user:"+s.identity)
		if !decision.Allowed {
			metrics.RecordRateLimitDecision("denied")
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			return s.send(ctx, frames.NewError(s.gateway.clock.Now(), frames.CodeRateLimited,
				fmt.Sprintf("Too many messages, retry in %d seconds", retry)))
		}
		metrics.RecordRateLimitDecision("allowed")
	}

	if err := s.send(ctx, frames.NewTyping(s.gateway.clock.Now(), true)); err != nil {
		return err
	}

	s.transition(StateDispatching)
	out := s.dispatch(ctx, in)
	s.transition(StateActive)

	if out.kind == outcomeCancelled {
		return context.Canceled
	}
	if err := s.send(ctx, out.frame(s.gateway.clock.Now())); err != nil {
		return err
	}
	return s.send(ctx, frames.NewTyping(s.gateway.clock.Now(), false))
}

func (s *session) send(ctx context.Context, f frames.Frame) error {
	return s.gateway.registry.SendConnection(ctx, s.conn, f)
}

type outcomeKind int

const (
	outcomeReply outcomeKind = iota
	outcomeConversationError
	outcomeInternalError
	outcomeCancelled
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeReply:
		return "reply"
	case outcomeConversationError:
		return "conversation_error"
	case outcomeInternalError:
		return "internal_error"
	}
	return "cancelled"
}

// outcome is the result of one handler call
type outcome struct {
	kind  outcomeKind
	reply *assistant.Reply
	err   error
}

func (o outcome) frame(now time.Time) frames.Frame {
	switch o.kind {
	case outcomeReply:
		return frames.NewAIResponse(now, frames.AIResponse{
			Message:                o.reply.Message,
			ResponseType:           o.reply.ResponseType,
			ConfidenceScore:        o.reply.ConfidenceScore,
			SuggestedActions:       o.reply.SuggestedActions,
			ContentRecommendations: o.reply.ContentRecommendations,
			FollowUpQuestions:      o.reply.FollowUpQuestions,
			Metadata:               o.reply.Metadata,
		})
	case outcomeConversationError:
		msg := "Failed to process message"
		if convErr, ok := assistant.AsConversationError(o.err); ok && convErr.Message != "" {
			msg = convErr.Message
		}
		return frames.NewError(now, frames.CodeConversationError, msg)
	}
	return frames.NewError(now, frames.CodeInternalError, "Internal error while processing message")
}

// dispatch calls the handler on its own goroutine so a handler that ignores its
// context cannot hold the session past the timeout or a peer close.
func (s *session) dispatch(ctx context.Context, in frames.Inbound) (out outcome) {
	start := s.gateway.clock.Now()
	defer func() {
		metrics.ObserveHandler(out.kind.String(), s.gateway.clock.Since(start).Seconds())
		if out.kind == outcomeInternalError {
			s.gateway.logger.Error("Message handler failed", out.err, map[string]interface{}{
				"user_id": s.identity,
			})
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, s.gateway.handlerTimeout)
	defer cancel()

	// buffered so an abandoned call can still finish and exit
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- outcome{kind: outcomeInternalError, err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		reply, err := s.gateway.handler.Handle(handlerCtx, s.identity, in.Message, in.Metadata)
		results <- classify(ctx, reply, err)
	}()

	select {
	case out = <-results:
		return out
	case <-handlerCtx.Done():
	}

	// the handler may have answered at the deadline
	select {
	case out = <-results:
		return out
	default:
	}
	if ctx.Err() != nil {
		return outcome{kind: outcomeCancelled, err: ctx.Err()}
	}
	return outcome{
		kind: outcomeInternalError,
		err:  fmt.Errorf("handler timed out after %s: %w", s.gateway.handlerTimeout, handlerCtx.Err()),
	}
}

func classify(ctx context.Context, reply *assistant.Reply, err error) outcome {
	switch {
	case ctx.Err() != nil:
		return outcome{kind: outcomeCancelled, err: ctx.Err()}
	case err == nil && reply == nil:
		return outcome{kind: outcomeInternalError, err: errors.New("handler returned no reply")}
	case err == nil:
		return outcome{kind: outcomeReply, reply: reply}
	}
	if _, ok := assistant.AsConversationError(err); ok {
		return outcome{kind: outcomeConversationError, err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome{kind: outcomeInternalError, err: fmt.Errorf("handler timed out: %w", err)}
	}
	return outcome{kind: outcomeInternalError, err: err}
}
