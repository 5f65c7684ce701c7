package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// The backend answers an expired access token with exactly this triple. It is
// the only failure the client retries, and only once.
const (
	tokenExpiredStatusCode = http.StatusUnprocessableEntity
	tokenExpiredCase       = "JWTDecodeError"
	tokenExpiredDetail     = "Signature has expired"
)

// APIError is a decoded non-2xx backend reply. Case identifies the failure
// for classification, Detail is the human readable message.
type APIError struct {
	Status  int
	Case    string
	Detail  string
	Context map[string]interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend replied %d %s: %s", e.Status, e.Case, e.Detail)
}

// Is reports whether the error matches the given (status, case) pair.
func (e *APIError) Is(status int, errCase string) bool {
	return e.Status == status && e.Case == errCase
}

type request struct {
	method string
	path   string
	// jsonBody and form are mutually exclusive.
	jsonBody interface{}
	form     url.Values
	out      interface{}
	// skipErrorHandler disables the silent refresh, used by the token
	// endpoints themselves.
	skipErrorHandler bool
}

// restClient wraps http.Client with json plumbing, a shared auth header and
// the refresh-then-retry-once behaviour on expired access tokens.
type restClient struct {
	baseUrl    string
	httpClient *http.Client

	mutex      sync.RWMutex
	authHeader string

	// onUnauthorized refreshes credentials, onInvalidTokens clears them.
	// Both are set by Backend before any request is made.
	onUnauthorized  func(ctx context.Context) error
	onInvalidTokens func(ctx context.Context) error
}

func newRestClient(baseUrl string) *restClient {
	return &restClient{
		baseUrl:    strings.TrimSuffix(baseUrl, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *restClient) setAuthHeader(header string) {
	c.mutex.Lock()
	c.authHeader = header
	c.mutex.Unlock()
}

func (c *restClient) currentAuthHeader() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.authHeader
}

func (c *restClient) do(ctx context.Context, req request) error {
	err := c.doOnce(ctx, req)
	if err == nil || req.skipErrorHandler {
		return err
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		return err
	}
	if c.currentAuthHeader() == "" ||
		apiErr.Status != tokenExpiredStatusCode ||
		apiErr.Case != tokenExpiredCase ||
		apiErr.Detail != tokenExpiredDetail {
		return err
	}

	if refreshErr := c.onUnauthorized(ctx); refreshErr != nil {
		if c.currentAuthHeader() != "" {
			_ = c.onInvalidTokens(ctx)
		}
	}
	if c.currentAuthHeader() == "" {
		return err
	}
	return c.doOnce(ctx, req)
}

func (c *restClient) doOnce(ctx context.Context, req request) error {
	var body []byte
	contentType := ""
	switch {
	case req.form != nil:
		body = []byte(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.jsonBody != nil:
		serialized, err := json.Marshal(req.jsonBody)
		if err != nil {
			return fmt.Errorf("serialize body: %w", err)
		}
		body = serialized
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseUrl+req.path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if header := c.currentAuthHeader(); header != "" {
		httpReq.Header.Set("Authorization", header)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBody)
	}
	if req.out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, req.out); err != nil {
			return fmt.Errorf("deserialize response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	payload := struct {
		Case         string                 `json:"case"`
		ErrorMessage string                 `json:"error_message"`
		Context      map[string]interface{} `json:"context"`
	}{}
	// an unparseable body still classifies by status code alone
	_ = json.Unmarshal(body, &payload)
	return &APIError{
		Status:  status,
		Case:    payload.Case,
		Detail:  payload.ErrorMessage,
		Context: payload.Context,
	}
}
