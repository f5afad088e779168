package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds an inbound message, counted in characters after trimming
const MaxMessageLength = 2000

var (
	// ErrInvalidFormat is returned for frames that are not {"message": string, "metadata"?: object}
	ErrInvalidFormat = errors.New("invalid message format")
	// ErrBlankMessage marks a well-formed frame whose message is empty after trimming
	ErrBlankMessage = errors.New("blank message")
)

// Inbound is one client frame
type Inbound struct {
	Message  string
	Metadata map[string]interface{}
}

// ParseInbound validates and decodes a raw client frame. Failures wrap ErrInvalidFormat
// with a client-safe description.
func ParseInbound(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Inbound{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidFormat)
	}

	raw, ok := fields["message"]
	if !ok {
		return Inbound{}, fmt.Errorf("%w: message field is required", ErrInvalidFormat)
	}
	var message string
	if err := json.Unmarshal(raw, &message); err != nil || string(raw) == "null" {
		return Inbound{}, fmt.Errorf("%w: message must be a string", ErrInvalidFormat)
	}

	var in Inbound
	if raw, ok := fields["metadata"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &in.Metadata); err != nil {
			return Inbound{}, fmt.Errorf("%w: metadata must be an object", ErrInvalidFormat)
		}
	}

	in.Message = strings.TrimSpace(message)
	if in.Message == "" {
		return Inbound{}, ErrBlankMessage
	}
	if utf8.RuneCountInString(in.Message) > MaxMessageLength {
		return Inbound{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidFormat, MaxMessageLength)
	}
	return in, nil
}
