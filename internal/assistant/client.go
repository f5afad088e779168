package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/neurondb/NeuronGateway/internal/validation"
)

const messagesPath = "/api/v1/conversations/messages"

// maxUserMessageLength bounds upstream text relayed to a client
const maxUserMessageLength = 200

const defaultUserMessage = "Your message could not be processed. Please try rephrasing it."

// Client provides HTTP access to a remote message handler
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new message handler client. Call deadlines come from the context.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// MessageRequest is the body posted to the handler
type MessageRequest struct {
	UserID   string                 `json:"user_id"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Handle posts the message and decodes the reply. 400 and 422 answers become ConversationError;
// any other failure, including 401/403/404, is a plain error.
func (c *Client) Handle(ctx context.Context, identity, message string, metadata map[string]interface{}) (*Reply, error) {
	req, err := c.newRequest(ctx, http.MethodPost, messagesPath, MessageRequest{
		UserID:   identity,
		Message:  message,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	var reply Reply
	if err := c.doRequest(req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Helper methods

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	detail := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &ConversationError{
			Message: userMessage(body),
			Err:     fmt.Errorf("handler rejected message: %s (status: %d)", detail, resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("handler error: %s (status: %d)", detail, resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// userMessage picks the client-facing text of a rejection: the upstream message,
// stripped of control characters and bounded, or a fixed fallback.
func userMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if msg := validation.SanitizeString(eb.Message, maxUserMessageLength); msg != "" {
			return msg
		}
	}
	return defaultUserMessage
}
