package session_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reduanahmadswe/parcel-delivery-client/api"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/authtest"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/config"
	"github.com/reduanahmadswe/parcel-delivery-client/profile"
	"github.com/reduanahmadswe/parcel-delivery-client/session"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
)

const (
	testEmail    = "john.doe@example.com"
	testPassword = "Password123"

	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// testFixture holds the fake auth service and a coordinator wired to it.
type testFixture struct {
	server       *authtest.Server
	backend      *token.MemoryBackend
	store        *token.Store
	client       *api.Client
	coordinator  *session.Coordinator
	refreshToken string
}

func setupTestFixture(t *testing.T, options ...session.CoordinatorOption) *testFixture {
	t.Helper()
	server := authtest.New()
	t.Cleanup(server.Close)

	refreshToken := server.AddAccount(authtest.Account{
		Email:    testEmail,
		Password: testPassword,
		Profile:  profile.Profile{ID: "user-1", Email: testEmail, Name: "John Doe", Role: profile.RoleSender},
	})

	backend := token.NewMemoryBackend()
	store, err := token.NewStore(backend)
	require.NoError(t, err)

	client, err := api.New(server.URL, store)
	require.NoError(t, err)

	options = append([]session.CoordinatorOption{session.WithDevtools()}, options...)
	coordinator, err := session.NewCoordinator(client, store, options...)
	require.NoError(t, err)

	return &testFixture{
		server:       server,
		backend:      backend,
		store:        store,
		client:       client,
		coordinator:  coordinator,
		refreshToken: refreshToken,
	}
}

// seedCredentials stores a currently-valid credential pair and the cached
// profile, as left behind by a previous run.
func (f *testFixture) seedCredentials(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	access := f.server.MintAccessToken(testEmail)
	require.NoError(t, f.store.SetTokens(ctx, access, f.refreshToken))
	require.NoError(t, f.store.SetProfile(ctx, &profile.Profile{ID: "user-1", Email: testEmail, Name: "John Doe", Role: profile.RoleSender}))
}

func (f *testFixture) start(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, f.coordinator.Start(ctx))
	return ctx
}

func (f *testFixture) eventuallyPhase(t *testing.T, phase session.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.coordinator.Snapshot().Phase == phase
	}, waitFor, tick, "expected phase %s, got %s", phase, f.coordinator.Snapshot().Phase)
}

func TestStartWithNoCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	snapshot := f.coordinator.Snapshot()
	require.Equal(t, session.PhaseUnauthenticated, snapshot.Phase)
	require.False(t, snapshot.IsAuthenticated())
	require.Equal(t, 0, f.server.MeCalls())
}

func TestHardResetPolicyRequiresFreshLogin(t *testing.T) {
	f := setupTestFixture(t, session.WithRestorePolicy(config.RestoreHardReset))
	f.seedCredentials(t)
	f.start(t)

	snapshot := f.coordinator.Snapshot()
	require.Equal(t, session.PhaseUnauthenticated, snapshot.Phase)
	require.False(t, f.store.HasTokens(context.Background()))
	require.Equal(t, 0, f.server.MeCalls())
}

func TestOptimisticRestoreRendersBeforeVerification(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t)
	f.start(t)

	// Authenticated immediately from cache, no network wait.
	snapshot := f.coordinator.Snapshot()
	require.True(t, snapshot.IsAuthenticated())
	require.Equal(t, testEmail, snapshot.User.Email)

	// Background verification then confirms the session.
	f.eventuallyPhase(t, session.PhaseAuthenticatedVerified)
}

func TestOptimisticRestoreSurvivesNetworkFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t)
	f.server.Close() // verification will fail with a transport error
	f.start(t)

	require.True(t, f.coordinator.Snapshot().IsAuthenticated())
	require.Equal(t, session.PhaseAuthenticatedUnverified, f.coordinator.Snapshot().Phase)

	// Wait for the background verification attempt to finish, then confirm
	// connectivity loss did not end the session.
	require.Eventually(t, func() bool {
		return f.coordinator.Devtools().Snapshot().Verifications >= 1 && !f.coordinator.Snapshot().Loading
	}, waitFor, tick)
	require.True(t, f.coordinator.Snapshot().IsAuthenticated())
	require.Equal(t, session.PhaseAuthenticatedUnverified, f.coordinator.Snapshot().Phase)
	require.True(t, f.store.HasTokens(context.Background()))
}

func TestOptimisticRestoreEndedByAuthorizationFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t)
	f.server.ExpireAccessTokens()
	f.server.RevokeRefreshTokens()
	f.start(t)

	f.eventuallyPhase(t, session.PhaseUnauthenticated)
	require.False(t, f.store.HasTokens(context.Background()))
	require.Nil(t, f.store.Profile(context.Background()))
}

func TestStartupVerifiesWhenNoProfileIsCached(t *testing.T) {
	f := setupTestFixture(t)
	access := f.server.MintAccessToken(testEmail)
	require.NoError(t, f.store.SetTokens(context.Background(), access, f.refreshToken))
	f.start(t)

	f.eventuallyPhase(t, session.PhaseAuthenticatedVerified)
	require.Equal(t, testEmail, f.coordinator.Snapshot().User.Email)
	// The fetched profile is now cached for the next run.
	require.NotNil(t, f.store.Profile(context.Background()))
}

func TestStartupWithoutProfileAndWithoutNetwork(t *testing.T) {
	f := setupTestFixture(t)
	access := f.server.MintAccessToken(testEmail)
	require.NoError(t, f.store.SetTokens(context.Background(), access, f.refreshToken))
	f.server.Close()
	f.start(t)

	// Nothing to render optimistically, so the session is not shown...
	f.eventuallyPhase(t, session.PhaseUnauthenticated)
	// ...but the tokens survive for the next attempt.
	require.True(t, f.store.HasTokens(context.Background()))
}

func TestLoginPersistsCredentialsAndProfile(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()

	outcome := f.coordinator.Login(ctx, testEmail, testPassword)
	require.True(t, outcome.Success)
	require.Equal(t, testEmail, outcome.User.Email)

	snapshot := f.coordinator.Snapshot()
	require.True(t, snapshot.IsAuthenticated())
	require.Equal(t, session.PhaseAuthenticatedVerified, snapshot.Phase)
	require.True(t, f.store.HasTokens(ctx))
	require.NotNil(t, f.store.Profile(ctx))

	refresh, err := f.store.RefreshToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, refresh)
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	outcome := f.coordinator.Login(context.Background(), testEmail, "wrong-password")
	require.False(t, outcome.Success)
	require.Equal(t, "invalid email or password", outcome.Message)

	require.Equal(t, session.PhaseUnauthenticated, f.coordinator.Snapshot().Phase)
	require.False(t, f.store.HasTokens(context.Background()))
}

func TestLoginTransportFailureMessage(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	f.server.Close()

	outcome := f.coordinator.Login(context.Background(), testEmail, testPassword)
	require.False(t, outcome.Success)
	require.Equal(t, "network error, please try again", outcome.Message)
}

func TestRegister(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	ok, message := f.coordinator.Register(context.Background(), api.RegisterData{
		Name:     "Jane Doe",
		Email:    "jane.doe@example.com",
		Password: "Password123",
	})
	require.True(t, ok)
	require.Equal(t, "registration successful", message)
	// Registration does not log the new account in.
	require.False(t, f.coordinator.Snapshot().IsAuthenticated())
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	f.coordinator.Logout(ctx)

	require.Equal(t, session.PhaseUnauthenticated, f.coordinator.Snapshot().Phase)
	require.False(t, f.store.HasTokens(ctx))
	require.Equal(t, 1, f.server.LogoutCalls())
}

func TestLogoutClearsLocallyWhenEndpointUnreachable(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	f.server.Close()
	f.coordinator.Logout(ctx)

	require.Equal(t, session.PhaseUnauthenticated, f.coordinator.Snapshot().Phase)
	require.False(t, f.store.HasTokens(ctx))
}

func TestCrossProcessTeardown(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)
	meCallsBefore := f.server.MeCalls()

	// Another process logs out and deletes the shared access token.
	f.backend.SimulateExternalDelete(token.KeyAccessToken)

	f.eventuallyPhase(t, session.PhaseUnauthenticated)
	// The transition required no API call from this process.
	require.Equal(t, meCallsBefore, f.server.MeCalls())
	require.Equal(t, 1, f.server.LoginCalls())
}

func TestCrossProcessLogin(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	require.Equal(t, session.PhaseUnauthenticated, f.coordinator.Snapshot().Phase)

	// Another process logs in and shares its credential pair.
	require.NoError(t, f.backend.Set(context.Background(), token.KeyRefreshToken, f.refreshToken))
	f.backend.SimulateExternalSet(token.KeyAccessToken, f.server.MintAccessToken(testEmail))

	f.eventuallyPhase(t, session.PhaseAuthenticatedVerified)
	require.Equal(t, testEmail, f.coordinator.Snapshot().User.Email)
}

func TestHandleForeground(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	// The token vanished while the app was in the background, without a
	// watch event reaching us.
	require.NoError(t, f.backend.Delete(ctx, token.KeyAccessToken))
	f.coordinator.HandleForeground(ctx)

	require.Equal(t, session.PhaseUnauthenticated, f.coordinator.Snapshot().Phase)
	require.Nil(t, f.store.Profile(ctx))
}

func TestHandleForegroundKeepsHealthySession(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	f.coordinator.HandleForeground(ctx)

	require.True(t, f.coordinator.Snapshot().IsAuthenticated())
}

func TestRefreshUserUpdatesProfileAndCache(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	f.coordinator.RefreshUser(ctx)

	snapshot := f.coordinator.Snapshot()
	require.Equal(t, session.PhaseAuthenticatedVerified, snapshot.Phase)
	require.Equal(t, testEmail, snapshot.User.Email)
}

func TestRefreshUserFailureEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	f.server.Close()
	f.coordinator.RefreshUser(ctx)

	require.Equal(t, session.PhaseUnauthenticated, f.coordinator.Snapshot().Phase)
	require.False(t, f.store.HasTokens(ctx))
}

func TestForcedLogoutFromPipelineUpdatesSession(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	ctx := context.Background()
	require.True(t, f.coordinator.Login(ctx, testEmail, testPassword).Success)

	f.server.ExpireAccessTokens()
	f.server.RevokeRefreshTokens()

	// An arbitrary API call exhausts the refresh path.
	resp, err := f.client.Do(ctx, http.MethodGet, "/auth/me", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.eventuallyPhase(t, session.PhaseUnauthenticated)
	require.False(t, f.store.HasTokens(ctx))
}

func TestSubscribeObservesStateChanges(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	var mu sync.Mutex
	var phases []session.Phase
	f.coordinator.Subscribe(func(snapshot session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, snapshot.Phase)
	})

	require.True(t, f.coordinator.Login(context.Background(), testEmail, testPassword).Success)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, phases, session.PhaseAuthenticatedVerified)
}

func TestDevtools(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t)
	f.start(t)
	f.eventuallyPhase(t, session.PhaseAuthenticatedVerified)

	diag := f.coordinator.Devtools().Snapshot()
	require.GreaterOrEqual(t, diag.Verifications, 1)
	require.NotEmpty(t, diag.Transitions)
	require.Equal(t, session.PhaseAuthenticatedVerified, diag.Transitions[len(diag.Transitions)-1].To)
}

func TestDevtoolsDisabledByDefault(t *testing.T) {
	server := authtest.New()
	t.Cleanup(server.Close)

	store, err := token.NewStore(token.NewMemoryBackend())
	require.NoError(t, err)
	client, err := api.New(server.URL, store)
	require.NoError(t, err)

	coordinator, err := session.NewCoordinator(client, store)
	require.NoError(t, err)
	require.Nil(t, coordinator.Devtools())
}
