package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestClient talks to a gateway test server over HTTP and websocket
type TestClient struct {
	Server *httptest.Server
	// Token, when set, is sent as a bearer credential
	Token string
}

// NewTestClient starts handler on a test server that is closed with the test
func NewTestClient(t *testing.T, handler http.Handler) *TestClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &TestClient{Server: server}
}

// Do performs an HTTP request
func (tc *TestClient) Do(method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
	default:
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, tc.Server.URL+path, reqBody)
	if err != nil {
		return nil, err
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.Token)
	}

	return http.DefaultClient.Do(req)
}

// Get performs a GET request
func (tc *TestClient) Get(path string) (*http.Response, error) {
	return tc.Do(http.MethodGet, path, nil)
}

// Post performs a POST request. A string body is sent verbatim.
func (tc *TestClient) Post(path string, body interface{}) (*http.Response, error) {
	return tc.Do(http.MethodPost, path, body)
}

// Dial opens a websocket to path, sending Token as a bearer header when set
func (tc *TestClient) Dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if tc.Token != "" {
		header.Set("Authorization", "Bearer "+tc.Token)
	}

	url := "ws" + strings.TrimPrefix(tc.Server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ReadFrame reads one JSON frame, failing the test after two seconds
func ReadFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// ParseResponse parses JSON response
func ParseResponse(t *testing.T, resp *http.Response, v interface{}) error {
	t.Helper()

	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// AssertStatus asserts response status code and closes the body
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}
