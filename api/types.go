package api

import (
	"encoding/json"
	"net/http"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/utils"
	"github.com/reduanahmadswe/parcel-delivery-client/profile"
)

// Response is what the pipeline hands back to callers. For a handled 401 the
// pipeline never propagates an error: the caller receives either the retried
// response or the original failure, exactly one of which exists.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// envelope is the server's standard response wrapper. Some deployments return
// payloads flat instead, so every field the client needs also appears at the
// top level of the concrete payload types below.
type envelope struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// refreshPayload tolerates both shapes of the renewal response:
// enveloped {success, data:{accessToken, refreshToken}} and flat
// {accessToken, refreshToken}.
type refreshPayload struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Data         *struct {
		AccessToken  string `json:"accessToken,omitempty"`
		RefreshToken string `json:"refreshToken,omitempty"`
	} `json:"data,omitempty"`
}

// accessToken returns the usable access token wherever it arrived, or "".
func (p *refreshPayload) accessToken() string {
	var nested string
	if p.Data != nil {
		nested = p.Data.AccessToken
	}
	return utils.FirstNonEmpty(nested, p.AccessToken)
}

func (p *refreshPayload) refreshToken() string {
	var nested string
	if p.Data != nil {
		nested = p.Data.RefreshToken
	}
	return utils.FirstNonEmpty(nested, p.RefreshToken)
}

// loginPayload is the body of a successful login, enveloped or flat.
type loginPayload struct {
	AccessToken  string           `json:"accessToken,omitempty"`
	RefreshToken string           `json:"refreshToken,omitempty"`
	User         *profile.Profile `json:"user,omitempty"`
	Data         *struct {
		AccessToken  string           `json:"accessToken,omitempty"`
		RefreshToken string           `json:"refreshToken,omitempty"`
		User         *profile.Profile `json:"user,omitempty"`
	} `json:"data,omitempty"`
}

// LoginResult is returned by Client.Login on success.
type LoginResult struct {
	AccessToken  string
	RefreshToken string // may be empty when the server keeps the old one
	User         *profile.Profile
}

// RegisterData is the registration form payload.
type RegisterData struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Role     string `json:"role,omitempty"`
}

// RegisterResult is returned by Client.Register.
type RegisterResult struct {
	Success bool
	Message string
}

// mePayload is the body of GET /auth/me, enveloped or flat.
type mePayload struct {
	User *profile.Profile `json:"user,omitempty"`
	Data *struct {
		User *profile.Profile `json:"user,omitempty"`
	} `json:"data,omitempty"`
}

func (p *mePayload) user() *profile.Profile {
	if p.Data != nil && p.Data.User != nil {
		return p.Data.User
	}
	return p.User
}
