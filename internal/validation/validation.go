package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxBroadcastLength bounds an operator broadcast message, in characters
const MaxBroadcastLength = 4000

// MaxBroadcastTargets bounds an explicit broadcast target list
const MaxBroadcastTargets = 10000

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateBroadcast validates an operator broadcast request
func ValidateBroadcast(message string, userIDs []string) []error {
	var errors []error

	if strings.TrimSpace(message) == "" {
		errors = append(errors, &ValidationError{
			Field:   "message",
			Message: "message is required",
		})
	} else if utf8.RuneCountInString(message) > MaxBroadcastLength {
		errors = append(errors, &ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("message must be at most %d characters", MaxBroadcastLength),
		})
	}

	if len(userIDs) > MaxBroadcastTargets {
		errors = append(errors, &ValidationError{
			Field:   "user_ids",
			Message: fmt.Sprintf("at most %d user ids may be targeted", MaxBroadcastTargets),
		})
	}
	for i, id := range userIDs {
		if strings.TrimSpace(id) == "" {
			errors = append(errors, &ValidationError{
				Field:   fmt.Sprintf("user_ids[%d]", i),
				Message: "user id must not be blank",
			})
		}
	}

	return errors
}

// SanitizeString removes control characters, trims and truncates to maxLength characters
func SanitizeString(s string, maxLength int) string {
	var builder strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || !isControl(r) {
			builder.WriteRune(r)
		}
	}
	result := strings.TrimSpace(builder.String())

	if maxLength > 0 && utf8.RuneCountInString(result) > maxLength {
		result = string([]rune(result)[:maxLength])
	}
	return result
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
