package frames

import (
	"time"
)

// Kind tags an outbound frame
type Kind string

const (
	KindConnectionEstablished Kind = "connection_established"
	KindAIResponse            Kind = "ai_response"
	KindTypingIndicator       Kind = "typing_indicator"
	KindError                 Kind = "error"
	KindBroadcast             Kind = "broadcast"
	KindDisconnection         Kind = "disconnection"
)

// ErrorCode is a stable, client-facing error code carried by error frames
type ErrorCode string

const (
	CodeInvalidFormat        ErrorCode = "invalid_format"
	CodeConversationError    ErrorCode = "conversation_error"
	CodeInternalError        ErrorCode = "internal_error"
	CodeRateLimited          ErrorCode = "rate_limited"
	CodeAuthenticationFailed ErrorCode = "authentication_failed"
	CodeIdentityRejected     ErrorCode = "identity_rejected"
)

// Frame is one outbound message. Every variant serializes with "type" and "timestamp".
type Frame interface {
	Kind() Kind
}

type header struct {
	Type      Kind   `json:"type"`
	Timestamp string `json:"timestamp"`
}

func newHeader(kind Kind, now time.Time) header {
	return header{Type: kind, Timestamp: now.UTC().Format(time.RFC3339Nano)}
}

func (h header) Kind() Kind { return h.Type }

// ConnectionEstablished is the welcome frame sent right after registration
type ConnectionEstablished struct {
	header
	Message      string `json:"message"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// AIResponse carries a message handler reply. Empty collections are omitted.
type AIResponse struct {
	header
	Message                string                   `json:"message"`
	ResponseType           string                   `json:"response_type"`
	ConfidenceScore        float64                  `json:"confidence_score"`
	SuggestedActions       []string                 `json:"suggested_actions,omitempty"`
	ContentRecommendations []map[string]interface{} `json:"content_recommendations,omitempty"`
	FollowUpQuestions      []string                 `json:"follow_up_questions,omitempty"`
	Metadata               map[string]interface{}   `json:"metadata,omitempty"`
}

type TypingIndicator struct {
	header
	IsTyping bool `json:"is_typing"`
}

type Error struct {
	header
	Message   string    `json:"message"`
	ErrorCode ErrorCode `json:"error_code"`
}

type Broadcast struct {
	header
	Message string `json:"message"`
}

type Disconnection struct {
	header
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func NewConnectionEstablished(now time.Time, userID, connectionID string) *ConnectionEstablished {
	return &ConnectionEstablished{
		header:       newHeader(KindConnectionEstablished, now),
		Message:      "Connected to gateway",
		UserID:       userID,
		ConnectionID: connectionID,
	}
}

func NewTyping(now time.Time, typing bool) *TypingIndicator {
	return &TypingIndicator{header: newHeader(KindTypingIndicator, now), IsTyping: typing}
}

func NewError(now time.Time, code ErrorCode, message string) *Error {
	return &Error{header: newHeader(KindError, now), Message: message, ErrorCode: code}
}

func NewBroadcast(now time.Time, message string) *Broadcast {
	return &Broadcast{header: newHeader(KindBroadcast, now), Message: message}
}

func NewDisconnection(now time.Time, reason string) *Disconnection {
	return &Disconnection{
		header:  newHeader(KindDisconnection, now),
		Message: "Connection closed: " + reason,
		Reason:  reason,
	}
}

// NewAIResponse stamps r as an ai_response frame
func NewAIResponse(now time.Time, r AIResponse) *AIResponse {
	r.header = newHeader(KindAIResponse, now)
	return &r
}
