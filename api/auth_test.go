package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reduanahmadswe/parcel-delivery-client/api"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/profile"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
)

func TestLoginSuccess(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.NotNil(t, result.User)
	require.Equal(t, testEmail, result.User.Email)
	require.Equal(t, profile.RoleSender, result.User.Role)
}

func TestLoginEnvelopedResponse(t *testing.T) {
	f := setupTestFixture(t)
	f.server.EnvelopeResponses = true

	result, err := f.client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.Equal(t, testEmail, result.User.Email)
}

func TestLoginWrongPasswordCarriesServerMessage(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.Login(context.Background(), testEmail, "wrong-password")
	require.Error(t, err)

	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "invalid email or password", apiErr.Message)
}

func TestLoginNeverTriggersRefresh(t *testing.T) {
	// A login 401 means wrong credentials, not an expired session.
	f := setupTestFixture(t)
	f.authenticate(t)

	_, err := f.client.Login(context.Background(), testEmail, "wrong-password")
	require.Error(t, err)
	require.Equal(t, 0, f.server.RefreshCalls())
}

func TestRegisterSuccess(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.client.Register(context.Background(), api.RegisterData{
		Name:     "Jane Doe",
		Email:    "jane.doe@example.com",
		Password: "Password123",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "registration successful", result.Message)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.client.Register(context.Background(), api.RegisterData{
		Name:     "John Again",
		Email:    testEmail,
		Password: "Password123",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "email already registered", result.Message)
}

func TestRegisterRejectsWeakPasswordLocally(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.client.Register(context.Background(), api.RegisterData{
		Name:     "Jane Doe",
		Email:    "jane.doe@example.com",
		Password: "short",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Message, "8 characters")
	require.Equal(t, 0, f.server.RegisterCalls())
}

func TestRefreshRenewsCredentialPair(t *testing.T) {
	f := setupTestFixture(t)
	f.authenticate(t)
	stale, err := f.store.AccessToken(context.Background())
	require.NoError(t, err)

	renewed, err := f.client.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, stale, renewed)
	require.Equal(t, 1, f.server.RefreshCalls())

	stored, err := f.store.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, renewed, stored)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.Refresh(context.Background())
	require.ErrorIs(t, err, errors.ErrNoRefreshToken)
}

func TestMeReturnsProfile(t *testing.T) {
	f := setupTestFixture(t)
	f.authenticate(t)

	user, err := f.client.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, testEmail, user.Email)
}

func TestMeUnauthenticated(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.Me(context.Background())
	require.Error(t, err)
	require.True(t, errors.IsAuthorizationError(err))
}

func TestLogoutCallsEndpoint(t *testing.T) {
	f := setupTestFixture(t)
	f.authenticate(t)

	require.NoError(t, f.client.Logout(context.Background()))
	require.Equal(t, 1, f.server.LogoutCalls())
}

func TestTokenSourceUsesStoredToken(t *testing.T) {
	f := setupTestFixture(t)
	f.authenticate(t)
	stored, err := f.store.AccessToken(context.Background())
	require.NoError(t, err)

	source := f.client.TokenSource(context.Background())
	tok, err := source.Token()
	require.NoError(t, err)
	require.Equal(t, stored, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
}

func TestTokenSourceRenewsWhenNoAccessTokenStored(t *testing.T) {
	f := setupTestFixture(t)
	// Only a refresh token is stored.
	require.NoError(t, f.backend.Set(context.Background(), token.KeyRefreshToken, f.refreshToken))

	source := f.client.TokenSource(context.Background())
	tok, err := source.Token()
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.Equal(t, 1, f.server.RefreshCalls())
}

func TestTokenSourceWithoutAnyCredentials(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, errors.ErrNotLoggedIn)
}
