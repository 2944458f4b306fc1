package api

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
)

// TokenSource adapts the client's token custody to the standard
// oauth2.TokenSource interface, so third-party API bindings built on
// oauth2.NewClient can share the session. Token returns the stored access
// token, attempting one renewal when none is stored; expiry is unknown
// client-side, so the returned token never self-reports as expired and a 401
// downstream remains the renewal trigger.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, client: c}
}

type storeTokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.client.store.AccessToken(s.ctx)
	if errors.Is(err, errors.ErrNoToken) {
		accessToken, err = s.client.refreshAccessToken(s.ctx)
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNotLoggedIn, "no usable access token: %v", err)
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil
}
