package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/db"
	"github.com/neurondb/NeuronGateway/internal/validation"
)

// APIKeyHandlers lets an authenticated identity manage its own API keys
type APIKeyHandlers struct {
	keyManager *auth.APIKeyManager
}

func NewAPIKeyHandlers(keyManager *auth.APIKeyManager) *APIKeyHandlers {
	return &APIKeyHandlers{keyManager: keyManager}
}

type createAPIKeyRequest struct {
	Name      string `json:"name,omitempty"`
	ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
}

// GenerateAPIKey creates a key for the caller. The plaintext key is only returned here.
func (h *APIKeyHandlers) GenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, r, http.StatusUnauthorized, auth.ErrInvalidCredentials, nil)
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, r, http.StatusBadRequest, errors.New("invalid request body"), nil)
		return
	}

	var expiresAt *time.Time
	if strings.TrimSpace(req.ExpiresIn) != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			WriteError(w, r, http.StatusBadRequest, &validation.ValidationError{
				Field:   "expires_in",
				Message: "must be a positive duration such as 720h",
			}, nil)
			return
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	key, apiKey, err := h.keyManager.GenerateAPIKey(r.Context(), userID, validation.SanitizeString(req.Name, 100), expiresAt)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, errors.New("failed to create API key"), nil)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"id":         apiKey.ID,
		"key":        key,
		"key_prefix": apiKey.KeyPrefix,
		"user_id":    apiKey.UserID,
		"name":       apiKey.Name,
		"expires_at": apiKey.ExpiresAt,
	}, http.StatusCreated)
}

// ListAPIKeys lists the caller's keys. Hashes are never returned.
func (h *APIKeyHandlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, r, http.StatusUnauthorized, auth.ErrInvalidCredentials, nil)
		return
	}

	keys, err := h.keyManager.ListAPIKeys(r.Context(), userID)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, errors.New("failed to list API keys"), nil)
		return
	}
	if keys == nil {
		keys = []db.APIKey{}
	}
	WriteSuccess(w, keys, http.StatusOK)
}

// RevokeAPIKey deactivates one of the caller's keys
func (h *APIKeyHandlers) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, r, http.StatusUnauthorized, auth.ErrInvalidCredentials, nil)
		return
	}

	err := h.keyManager.RevokeOwnedAPIKey(r.Context(), mux.Vars(r)["id"], userID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, errors.New("API key not found"), nil)
	case err != nil:
		WriteError(w, r, http.StatusInternalServerError, errors.New("failed to revoke API key"), nil)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
