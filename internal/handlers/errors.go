package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neurondb/NeuronGateway/internal/middleware"
	"github.com/neurondb/NeuronGateway/internal/validation"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, err error, details map[string]interface{}) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Details:   details,
		RequestID: middleware.GetRequestID(r.Context()),
	}

	var validationErr *validation.ValidationError
	if errors.As(err, &validationErr) {
		response.Code = "VALIDATION_ERROR"
		response.Details = map[string]interface{}{
			"field":   validationErr.Field,
			"message": validationErr.Message,
		}
	}

	writeJSON(w, statusCode, response)
}

// WriteValidationErrors writes multiple validation errors
func WriteValidationErrors(w http.ResponseWriter, r *http.Request, errs []error) {
	validationErrors := make([]map[string]interface{}, 0, len(errs))
	for _, err := range errs {
		var validationErr *validation.ValidationError
		if errors.As(err, &validationErr) {
			validationErrors = append(validationErrors, map[string]interface{}{
				"field":   validationErr.Field,
				"message": validationErr.Message,
			})
		}
	}

	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     "Validation Failed",
		Code:      "VALIDATION_ERROR",
		Details:   map[string]interface{}{"errors": validationErrors},
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// WriteSuccess writes a success response
func WriteSuccess(w http.ResponseWriter, data interface{}, statusCode int) {
	writeJSON(w, statusCode, data)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
