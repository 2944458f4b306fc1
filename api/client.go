// Package api is the reauthenticating request pipeline for the
// parcel-delivery service. Every outbound call gets the current access token
// attached; a 401 triggers one coordinated refresh-and-retry; an exhausted
// refresh forces logout. Callers never see an error for a handled 401, only
// the response that resulted.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/metrics"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
)

const defaultTimeout = 30 * time.Second

// Client sends authorized requests to the parcel-delivery API.
type Client struct {
	baseURL string
	http    *http.Client
	store   *token.Store
	log     zerolog.Logger
	metrics *metrics.Metrics

	// Concurrent 401s share one in-flight renewal rather than each hitting
	// the refresh endpoint independently.
	refreshGroup singleflight.Group

	mu               sync.Mutex
	inflight         int
	loadingListeners []func(bool)
	onForcedLogout   func()
	onTokenRefreshed func(accessToken string)
}

// Option modifies a Client during construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout of the default transport.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithMetrics enables pipeline instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a Client for the API rooted at baseURL
// (e.g. "https://api.parcel.example.com/api/v1").
func New(baseURL string, store *token.Store, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[api.New] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[api.New] token store is required")
	}
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		store:   store,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(client)
	}
	return client, nil
}

// OnForcedLogout registers the hook invoked after an unrecoverable
// authorization failure has cleared the token store. The embedding UI uses it
// to navigate back to its login view.
func (c *Client) OnForcedLogout(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onForcedLogout = fn
}

// OnTokenRefreshed registers the hook invoked with each access token obtained
// through the renewal endpoint.
func (c *Client) OnTokenRefreshed(fn func(accessToken string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTokenRefreshed = fn
}

// OnLoadingChange registers a listener for the global loading flag. The flag
// is deliberately global rather than per-call: the UI wants a single
// "something is happening" indicator.
func (c *Client) OnLoadingChange(fn func(loading bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadingListeners = append(c.loadingListeners, fn)
}

// Loading reports whether any request is currently in flight.
func (c *Client) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Do sends an authorized request and handles expired-token recovery:
//
//  1. Attach "Authorization: Bearer <token>" when a token is stored; an
//     absent token never blocks the call, the header is simply omitted.
//  2. On any status other than 401, return the response as-is.
//  3. On 401, renew the credential pair and retry exactly once. A missing
//     refresh token or a failed renewal forces logout and returns the
//     original 401 unchanged.
//
// The returned error is non-nil only for transport failures (no HTTP
// response reached) and for invalid input.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	c.beginLoading()
	defer c.endLoading()

	accessToken, _ := c.store.AccessToken(ctx)
	resp, err := c.send(ctx, method, path, payload, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	c.metrics.Unauthorized()
	newToken, refreshErr := c.refreshAccessToken(ctx)
	if refreshErr != nil {
		c.forceLogout(ctx, refreshErr)
		return resp, nil
	}

	c.metrics.RetriedRequest()
	retried, err := c.send(ctx, method, path, payload, newToken)
	if err != nil {
		return nil, err
	}
	return retried, nil
}

// Refresh renews the credential pair on demand, outside the 401 recovery
// path, and returns the new access token. Concurrent calls share one renewal
// with any in-flight 401 recovery.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refreshAccessToken(ctx)
}

// refreshAccessToken exchanges the stored refresh token for a new credential
// pair and persists it. Concurrent callers coalesce onto a single renewal
// request and share its outcome.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	result, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		refreshToken, err := c.store.RefreshToken(ctx)
		if err != nil {
			// Nothing to retry with: the renewal endpoint is never called.
			return nil, err
		}
		c.metrics.RefreshAttempt()

		payload, err := encodeBody(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return nil, err
		}
		resp, err := c.send(ctx, http.MethodPost, "/auth/refresh-token", payload, "")
		if err != nil {
			return nil, errors.Wrapf(errors.ErrRefreshFailed, "renewal request: %v", err)
		}
		if !resp.OK() {
			return nil, errors.Wrapf(errors.ErrRefreshFailed, "renewal endpoint returned %d", resp.StatusCode)
		}

		var renewed refreshPayload
		if err := resp.Decode(&renewed); err != nil {
			return nil, errors.Wrapf(errors.ErrRefreshFailed, "malformed renewal response: %v", err)
		}
		accessToken := renewed.accessToken()
		if accessToken == "" {
			return nil, errors.Wrapf(errors.ErrRefreshFailed, "renewal response carries no access token")
		}
		if err := c.store.SetTokens(ctx, accessToken, renewed.refreshToken()); err != nil {
			return nil, errors.Wrapf(errors.ErrRefreshFailed, "persist renewed tokens: %v", err)
		}

		c.mu.Lock()
		notify := c.onTokenRefreshed
		c.mu.Unlock()
		if notify != nil {
			notify(accessToken)
		}
		c.log.Debug().Msg("access token renewed")
		return accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// forceLogout clears all credentials after an unrecoverable authorization
// failure and signals the embedding UI. Requests already in transit are not
// cancelled; they fail their own authorization check and log a duplicate
// forced logout, which is harmless.
func (c *Client) forceLogout(ctx context.Context, cause error) {
	c.log.Warn().Err(cause).Msg("forced logout: refresh path exhausted")
	c.metrics.RefreshFailure()
	c.metrics.ForcedLogout()
	c.store.Clear(ctx)
	c.mu.Lock()
	notify := c.onForcedLogout
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// send performs one HTTP round-trip. A non-nil error means no response was
// reached (transport failure).
func (c *Client) send(ctx context.Context, method, path string, body []byte, bearerToken string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTransport, "build request %s %s: %v", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTransport, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTransport, "read response %s %s: %v", method, path, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) beginLoading() {
	c.mu.Lock()
	c.inflight++
	notify := c.inflight == 1
	listeners := append(([]func(bool))(nil), c.loadingListeners...)
	c.mu.Unlock()
	if notify {
		for _, fn := range listeners {
			fn(true)
		}
	}
}

func (c *Client) endLoading() {
	c.mu.Lock()
	c.inflight--
	notify := c.inflight == 0
	listeners := append(([]func(bool))(nil), c.loadingListeners...)
	c.mu.Unlock()
	if notify {
		for _, fn := range listeners {
			fn(false)
		}
	}
}

func encodeBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encode request body")
	}
	return data, nil
}
