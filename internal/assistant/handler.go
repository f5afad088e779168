package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reply is a structured answer from the message handler
type Reply struct {
	Message                string                   `json:"message"`
	ResponseType           string                   `json:"response_type"`
	ConfidenceScore        float64                  `json:"confidence_score"`
	SuggestedActions       []string                 `json:"suggested_actions,omitempty"`
	ContentRecommendations []map[string]interface{} `json:"content_recommendations,omitempty"`
	FollowUpQuestions      []string                 `json:"follow_up_questions,omitempty"`
	Metadata               map[string]interface{}   `json:"metadata,omitempty"`
}

// Handler produces a reply for one user message. Implementations may block.
type Handler interface {
	Handle(ctx context.Context, identity, message string, metadata map[string]interface{}) (*Reply, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, identity, message string, metadata map[string]interface{}) (*Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, identity, message string, metadata map[string]interface{}) (*Reply, error) {
	return f(ctx, identity, message, metadata)
}

// ConversationError is a failure the handler understood. Message is safe to show the user;
// Err carries the detail for logs.
type ConversationError struct {
	Message string
	Err     error
}

func (e *ConversationError) Error() string {
	if e.Err == nil {
		return "conversation error: " + e.Message
	}
	return fmt.Sprintf("conversation error: %s: %v", e.Message, e.Err)
}

func (e *ConversationError) Unwrap() error {
	return e.Err
}

// AsConversationError reports whether err is, or wraps, a ConversationError
func AsConversationError(err error) (*ConversationError, bool) {
	var ce *ConversationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Echo answers every message with itself. Used when no handler endpoint is configured.
type Echo struct{}

func (Echo) Handle(ctx context.Context, identity, message string, _ map[string]interface{}) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Reply{
		Message:         message,
		ResponseType:    "echo",
		ConfidenceScore: 1,
		Metadata:        map[string]interface{}{"user_id": identity, "length": len(strings.Fields(message))},
	}, nil
}
