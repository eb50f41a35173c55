package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	id "parcelproof/pkg/domain"
)

// participant is a named API caller with its bearer token and, once created, its DID.
type participant struct {
	UserID id.UserID
	Bearer string
	DID    string
}

// TestContext holds state between test steps
type TestContext struct {
	engine           *engine
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	participants map[string]*participant
	packages     map[string]map[string]any
	// tokens holds the base64url token minted at pickup, by package name.
	tokens map[string]string
}

// NewTestContext starts a fresh in-process engine.
func NewTestContext() (*TestContext, error) {
	e, err := startEngine()
	if err != nil {
		return nil, err
	}
	return &TestContext{
		engine:       e,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		participants: make(map[string]*participant),
		packages:     make(map[string]map[string]any),
		tokens:       make(map[string]string),
	}, nil
}

// Close stops the engine.
func (tc *TestContext) Close() {
	if tc.engine != nil {
		tc.engine.Close()
	}
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.do(http.MethodPost, path, bytes.NewReader(data), headers)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body io.Reader, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.engine.server.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// Field walks a dotted path through the JSON response, e.g. "outcome.record.verified".
func (tc *TestContext) Field(path string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s not found in response", path)
		}
		if data, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %s not found in response", path)
		}
	}
	return data, nil
}

func (tc *TestContext) auth(name string) (map[string]string, error) {
	p, ok := tc.participants[name]
	if !ok {
		return nil, fmt.Errorf("unknown participant %q", name)
	}
	return map[string]string{"Authorization": "Bearer " + p.Bearer}, nil
}

func (tc *TestContext) lastStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

type tcKey struct{}

func current(ctx context.Context) *TestContext {
	return ctx.Value(tcKey{}).(*TestContext)
}
