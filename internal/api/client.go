// Package api is the HTTP client for the message store. Every method is a
// stateless request wrapper: it reports success or failure and keeps no
// conversation state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/chaterr"
	"github.com/leonletto/chatsync/internal/types"
)

// BasePath is the API prefix served by the store.
const BasePath = "/api/v1"

// Header names understood by the store.
const (
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

const maxErrorBody = 4 << 10

// HTTPStatusError captures non-2xx responses from the store.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d from %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

// Client talks to the store on behalf of one viewer.
type Client struct {
	baseURL    string
	viewerID   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a store client for viewerID against serverURL
// (scheme://host[:port]; the API prefix is added here).
func NewClient(serverURL, viewerID string, opts ...Option) (*Client, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("api: server URL must not be empty")
	}
	if viewerID == "" {
		return nil, errors.New("api: viewer ID must not be empty")
	}

	c := &Client{
		baseURL:    serverURL + BasePath,
		viewerID:   viewerID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ViewerID returns the identity the client acts as.
func (c *Client) ViewerID() string {
	return c.viewerID
}

// --- Profile ---

type profileEnvelope struct {
	Data types.Profile `json:"data"`
}

// GetProfile looks up a user. A 404 is reported as chaterr.NotFound.
func (c *Client) GetProfile(ctx context.Context, userID string) (types.Profile, error) {
	var env profileEnvelope
	err := c.do(ctx, http.MethodGet, "/profile/"+url.PathEscape(userID), nil, &env)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return types.Profile{}, chaterr.New(chaterr.NotFound, "profile "+userID, err)
		}
		return types.Profile{}, chaterr.Network("get profile", err)
	}
	return env.Data, nil
}

// --- Messages ---

// ListMessages fetches the full conversation between the viewer and
// counterpartID, in store order.
func (c *Client) ListMessages(ctx context.Context, counterpartID string) ([]types.Message, error) {
	var messages []types.Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(counterpartID), nil, &messages); err != nil {
		return nil, chaterr.Network("list messages", err)
	}
	if messages == nil {
		messages = []types.Message{}
	}
	return messages, nil
}

// SendRequest is the body of POST /message.
type SendRequest struct {
	To     string `json:"to_id"`
	ToName string `json:"toName"`
	Body   string `json:"chatMessage"`
}

// SendMessage creates a message from the viewer.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (types.Message, error) {
	var created types.Message
	if err := c.do(ctx, http.MethodPost, "/message", req, &created); err != nil {
		return types.Message{}, chaterr.Network("send message", err)
	}
	return created, nil
}

type editRequest struct {
	Body string `json:"message"`
}

// EditMessage replaces the body of a message. Only HTTP 200 counts as
// success; any other status, 2xx included, is a failure.
func (c *Client) EditMessage(ctx context.Context, messageID, body string) (types.Message, error) {
	var edited types.Message
	status, err := c.doStatus(ctx, http.MethodPut, "/message/"+url.PathEscape(messageID), editRequest{Body: body}, &edited)
	if err != nil {
		return types.Message{}, chaterr.Network("edit message", err)
	}
	if status != http.StatusOK {
		return types.Message{}, chaterr.Network("edit message", fmt.Errorf("expected status 200, got %d", status))
	}
	return edited, nil
}

// RecallMessage withdraws a message for both participants.
func (c *Client) RecallMessage(ctx context.Context, messageID string) (types.Message, error) {
	var recalled types.Message
	if err := c.do(ctx, http.MethodPut, "/message/everyone/"+url.PathEscape(messageID), nil, &recalled); err != nil {
		return types.Message{}, chaterr.Network("recall message", err)
	}
	return recalled, nil
}

// ClearConversation removes every message between fromID and toID.
func (c *Client) ClearConversation(ctx context.Context, fromID, toID string) error {
	path := "/messages/" + url.PathEscape(fromID) + "/" + url.PathEscape(toID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return chaterr.Network("clear conversation", err)
	}
	return nil
}

// --- Notifications ---

// PostNotification raises an activity notification for n.ToID.
func (c *Client) PostNotification(ctx context.Context, n types.Notification) error {
	if err := c.do(ctx, http.MethodPost, "/notification", n, nil); err != nil {
		return chaterr.Network("post notification", err)
	}
	return nil
}

// --- transport ---

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.doStatus(ctx, method, path, body, out)
	return err
}

// doStatus sends one JSON request and decodes a 2xx response into out.
// Non-2xx responses yield *HTTPStatusError.
func (c *Client) doStatus(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(HeaderUserID, c.viewerID)
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("store request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        fullURL,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
