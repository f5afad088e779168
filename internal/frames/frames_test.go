package frames

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("EST", -5*3600))

func decode(t *testing.T, f Frame) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFrames_CarryTypeAndTimestamp(t *testing.T) {
	cases := []struct {
		frame Frame
		kind  Kind
	}{
		{NewConnectionEstablished(testNow, "u1", "c1"), KindConnectionEstablished},
		{NewTyping(testNow, true), KindTypingIndicator},
		{NewError(testNow, CodeInvalidFormat, "bad"), KindError},
		{NewBroadcast(testNow, "m"), KindBroadcast},
		{NewDisconnection(testNow, "reconnection"), KindDisconnection},
		{NewAIResponse(testNow, AIResponse{Message: "hi"}), KindAIResponse},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.frame.Kind())
			out := decode(t, tc.frame)
			assert.Equal(t, string(tc.kind), out["type"])
			assert.Equal(t, "2026-03-04T10:06:07Z", out["timestamp"], "timestamps are ISO-8601 in UTC")
		})
	}
}

func TestAIResponse_OmitsEmptyCollections(t *testing.T) {
	out := decode(t, NewAIResponse(testNow, AIResponse{
		Message:          "hello",
		ResponseType:     "answer",
		ConfidenceScore:  0.8,
		SuggestedActions: []string{},
	}))

	assert.Equal(t, "hello", out["message"])
	assert.Equal(t, "answer", out["response_type"])
	assert.InDelta(t, 0.8, out["confidence_score"], 1e-9)
	for _, key := range []string{"suggested_actions", "content_recommendations", "follow_up_questions", "metadata"} {
		assert.NotContains(t, out, key)
	}

	out = decode(t, NewAIResponse(testNow, AIResponse{FollowUpQuestions: []string{"why?"}}))
	assert.Equal(t, []interface{}{"why?"}, out["follow_up_questions"])
}

func TestErrorAndDisconnectionFields(t *testing.T) {
	out := decode(t, NewError(testNow, CodeConversationError, "try again"))
	assert.Equal(t, "conversation_error", out["error_code"])
	assert.Equal(t, "try again", out["message"])

	out = decode(t, NewDisconnection(testNow, "server_shutdown"))
	assert.Equal(t, "server_shutdown", out["reason"])
	assert.NotEmpty(t, out["message"])

	out = decode(t, NewTyping(testNow, false))
	assert.Equal(t, false, out["is_typing"])
}

func TestParseInbound(t *testing.T) {
	in, err := ParseInbound([]byte(`{"message": "  hello  ", "metadata": {"page": "home"}}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", in.Message)
	assert.Equal(t, "home", in.Metadata["page"])

	in, err = ParseInbound([]byte(`{"message": "hi", "metadata": null}`))
	require.NoError(t, err)
	assert.Nil(t, in.Metadata)
}

func TestParseInbound_InvalidFormat(t *testing.T) {
	cases := map[string]string{
		"missing message": `{"notmessage": "x"}`,
		"not an object":   `["message"]`,
		"not json":        `message`,
		"null":            `null`,
		"numeric message": `{"message": 42}`,
		"null message":    `{"message": null}`,
		"array metadata":  `{"message": "hi", "metadata": [1]}`,
		"too long":        `{"message": "` + strings.Repeat("a", MaxMessageLength+1) + `"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInbound([]byte(raw))
			assert.True(t, errors.Is(err, ErrInvalidFormat), "got %v", err)
		})
	}
}

func TestParseInbound_LengthCountsCharacters(t *testing.T) {
	_, err := ParseInbound([]byte(`{"message": "` + strings.Repeat("é", MaxMessageLength) + `"}`))
	assert.NoError(t, err)
}

func TestParseInbound_Blank(t *testing.T) {
	_, err := ParseInbound([]byte(`{"message": "   \n\t "}`))
	assert.ErrorIs(t, err, ErrBlankMessage)
	assert.False(t, errors.Is(err, ErrInvalidFormat))
}
