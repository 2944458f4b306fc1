package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/utils"
	"github.com/reduanahmadswe/parcel-delivery-client/profile"
)

// Login authenticates against POST /auth/login. Login is unauthenticated and
// deliberately bypasses the 401 refresh path: a 401 here means wrong
// credentials, not an expired session. The caller persists the returned
// credential pair.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload, err := encodeBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	c.beginLoading()
	defer c.endLoading()

	resp, err := c.send(ctx, http.MethodPost, "/auth/login", payload, "")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(resp)
	}

	var body loginPayload
	if err := resp.Decode(&body); err != nil {
		return nil, errors.Wrapf(errors.ErrLoginFailed, "malformed login response: %v", err)
	}
	result := &LoginResult{
		AccessToken:  utils.FirstNonEmpty(nestedLoginToken(&body), body.AccessToken),
		RefreshToken: utils.FirstNonEmpty(nestedLoginRefresh(&body), body.RefreshToken),
		User:         loginUser(&body),
	}
	if result.AccessToken == "" || result.User == nil {
		return nil, errors.Wrapf(errors.ErrLoginFailed, "login response carries no credentials")
	}
	return result, nil
}

// Register creates an account via POST /auth/register. Like Login it is
// unauthenticated and never touches the refresh path.
func (c *Client) Register(ctx context.Context, data RegisterData) (*RegisterResult, error) {
	if err := profile.ValidateEmail(data.Email); err != nil {
		return &RegisterResult{Success: false, Message: err.Error()}, nil
	}
	if err := profile.ValidatePasswordStrength(data.Password); err != nil {
		return &RegisterResult{Success: false, Message: err.Error()}, nil
	}
	payload, err := encodeBody(data)
	if err != nil {
		return nil, err
	}
	c.beginLoading()
	defer c.endLoading()

	resp, err := c.send(ctx, http.MethodPost, "/auth/register", payload, "")
	if err != nil {
		return nil, err
	}
	message := extractMessage(resp.Body)

	// Some deployments signal failure inside a 200 envelope rather than with
	// the status code.
	var env envelope
	_ = json.Unmarshal(resp.Body, &env)
	succeeded := resp.OK()
	if env.Success != nil {
		succeeded = succeeded && utils.Value(env.Success)
	}
	if !succeeded && message == "" {
		message = "registration failed"
	}
	return &RegisterResult{Success: succeeded, Message: message}, nil
}

// Me fetches the current principal via GET /auth/me. It rides the full
// pipeline, so an expired access token is transparently renewed before the
// caller sees a failure.
func (c *Client) Me(ctx context.Context) (*profile.Profile, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(resp)
	}
	var body mePayload
	if err := resp.Decode(&body); err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, "malformed profile response: %v", err)
	}
	user := body.user()
	if user == nil {
		return nil, errors.Wrapf(errors.ErrInternal, "profile response carries no user")
	}
	return user, nil
}

// Logout notifies POST /auth/logout. Best-effort: the server holds no state
// the client depends on, so any failure is the caller's to log and ignore.
func (c *Client) Logout(ctx context.Context) error {
	c.beginLoading()
	defer c.endLoading()

	accessToken, _ := c.store.AccessToken(ctx)
	resp, err := c.send(ctx, http.MethodPost, "/auth/logout", nil, accessToken)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiError(resp)
	}
	return nil
}

// apiError converts a non-2xx response into an APIError carrying the
// server's human-readable message when one is present.
func apiError(resp *Response) error {
	return &errors.APIError{Status: resp.StatusCode, Message: extractMessage(resp.Body)}
}

// extractMessage pulls a human-readable message out of an error payload,
// checking the envelope's message and error fields. Returns "" when the body
// holds neither.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return utils.FirstNonEmpty(env.Message, env.Error)
}

func nestedLoginToken(p *loginPayload) string {
	if p.Data == nil {
		return ""
	}
	return p.Data.AccessToken
}

func nestedLoginRefresh(p *loginPayload) string {
	if p.Data == nil {
		return ""
	}
	return p.Data.RefreshToken
}

func loginUser(p *loginPayload) *profile.Profile {
	if p.Data != nil && p.Data.User != nil {
		return p.Data.User
	}
	return p.User
}
