// Package session owns the authenticated-user state exposed to the UI layer
// and reconciles it against the token store at three triggers: process start,
// a credential change made by another process, and the app returning to the
// foreground. The Coordinator is the single writer of session state; it never
// invents token values, it only asks the store to write or clear them.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reduanahmadswe/parcel-delivery-client/api"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/config"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/profile"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
)

// Phase is the coordinator's position in the session state machine. Restore
// from cache is modelled as an explicit two-phase transition so the
// unverified window is observable.
type Phase string

const (
	// PhaseRestoring: startup, cached state not yet examined.
	PhaseRestoring Phase = "restoring"
	// PhaseUnauthenticated: no usable session.
	PhaseUnauthenticated Phase = "unauthenticated"
	// PhaseAuthenticatedUnverified: rendered from cached credentials while a
	// background check confirms them.
	PhaseAuthenticatedUnverified Phase = "authenticated-unverified"
	// PhaseAuthenticatedVerified: the server has confirmed the session.
	PhaseAuthenticatedVerified Phase = "authenticated-verified"
)

// Authenticated reports whether the phase counts as logged-in for the UI.
func (p Phase) Authenticated() bool {
	return p == PhaseAuthenticatedUnverified || p == PhaseAuthenticatedVerified
}

// Snapshot is the immutable view of session state handed to the UI.
type Snapshot struct {
	User    *profile.Profile
	Phase   Phase
	Loading bool
}

// IsAuthenticated is true iff an authenticated phase holds a user. The
// coordinator enforces the invariant that authenticated phases always carry a
// non-nil user and a token in the store.
func (s Snapshot) IsAuthenticated() bool {
	return s.Phase.Authenticated() && s.User != nil
}

// LoginOutcome is returned by Login: a success flag plus a human-readable
// message for the failure toast.
type LoginOutcome struct {
	Success bool
	Message string
	User    *profile.Profile
}

// Coordinator is the process-wide session state container. Create one at app
// bootstrap and pass it explicitly to whatever renders the UI; it lives for
// the process.
type Coordinator struct {
	api      *api.Client
	store    *token.Store
	policy   config.RestorePolicy
	log      zerolog.Logger
	devtools *Devtools

	mu          sync.Mutex
	phase       Phase
	user        *profile.Profile
	loading     bool
	subscribers []func(Snapshot)
}

// CoordinatorOption modifies a Coordinator during construction.
type CoordinatorOption func(*Coordinator)

// WithRestorePolicy selects the startup behaviour. The default is
// config.RestoreOptimistic.
func WithRestorePolicy(policy config.RestorePolicy) CoordinatorOption {
	return func(c *Coordinator) {
		if policy != "" {
			c.policy = policy
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithDevtools attaches the diagnostic recorder. Without this option
// Devtools() returns nil and nothing is recorded.
func WithDevtools() CoordinatorOption {
	return func(c *Coordinator) {
		c.devtools = newDevtools()
	}
}

// NewCoordinator wires the coordinator to the request pipeline and the token
// store. Call Start afterwards to run the startup restore and begin watching
// for external credential changes.
func NewCoordinator(apiClient *api.Client, store *token.Store, options ...CoordinatorOption) (*Coordinator, error) {
	if apiClient == nil {
		return nil, errors.New("[NewCoordinator] api client is required")
	}
	if store == nil {
		return nil, errors.New("[NewCoordinator] token store is required")
	}
	coordinator := &Coordinator{
		api:    apiClient,
		store:  store,
		policy: config.RestoreOptimistic,
		log:    zerolog.Nop(),
		phase:  PhaseRestoring,
	}
	for _, opt := range options {
		opt(coordinator)
	}

	apiClient.OnForcedLogout(coordinator.handleForcedLogout)
	apiClient.OnTokenRefreshed(func(string) { coordinator.devtools.recordRefresh() })
	apiClient.OnLoadingChange(coordinator.handleLoadingChange)
	return coordinator, nil
}

// Devtools returns the diagnostic view, or nil when it was not enabled.
func (c *Coordinator) Devtools() *Devtools {
	return c.devtools
}

// Snapshot returns the current session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{User: c.user, Phase: c.phase, Loading: c.loading}
}

// Subscribe registers a listener invoked after every state change. Listeners
// run outside the coordinator's lock and must not block.
func (c *Coordinator) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Start runs the startup restore and begins consuming external credential
// changes. It returns once local state is settled; background verification
// (optimistic policy) continues after it returns. ctx bounds the lifetime of
// the change watcher.
func (c *Coordinator) Start(ctx context.Context) error {
	events, err := c.store.Watch(ctx)
	if err != nil {
		return errors.Wrapf(err, "start change watcher")
	}
	go c.watchLoop(ctx, events)

	if c.policy == config.RestoreHardReset {
		// Every fresh start requires a login.
		c.store.Clear(ctx)
		c.setState(PhaseUnauthenticated, nil)
		return nil
	}

	if !c.store.HasTokens(ctx) {
		c.setState(PhaseUnauthenticated, nil)
		return nil
	}
	if cached := c.store.Profile(ctx); cached != nil {
		// Render from cache immediately, confirm in the background.
		c.setState(PhaseAuthenticatedUnverified, cached)
	}
	go c.verify(ctx)
	return nil
}

// Login authenticates with the given credentials. On success the credential
// pair and profile are persisted and the session becomes verified. On
// failure local state is left untouched and the outcome carries a
// human-readable message.
func (c *Coordinator) Login(ctx context.Context, email, password string) LoginOutcome {
	result, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.log.Warn().Err(err).Msg("login failed")
		return LoginOutcome{Success: false, Message: loginFailureMessage(err)}
	}
	if err := c.store.SetTokens(ctx, result.AccessToken, result.RefreshToken); err != nil {
		// Session still works in memory; it just won't survive a restart.
		c.log.Warn().Err(err).Msg("could not persist credentials")
	}
	if err := c.store.SetProfile(ctx, result.User); err != nil {
		c.log.Warn().Err(err).Msg("could not cache profile")
	}
	c.setState(PhaseAuthenticatedVerified, result.User)
	return LoginOutcome{Success: true, User: result.User}
}

// Register creates an account. The session state is never touched: a new
// registration still has to log in.
func (c *Coordinator) Register(ctx context.Context, data api.RegisterData) (bool, string) {
	result, err := c.api.Register(ctx, data)
	if err != nil {
		c.log.Warn().Err(err).Msg("registration failed")
		return false, "network error, please try again"
	}
	return result.Success, result.Message
}

// Logout ends the session. The remote call is best-effort; local credentials
// and state are cleared regardless of its outcome.
func (c *Coordinator) Logout(ctx context.Context) {
	if err := c.api.Logout(ctx); err != nil {
		c.log.Warn().Err(err).Msg("logout endpoint call failed, clearing locally anyway")
	}
	c.store.Clear(ctx)
	c.setState(PhaseUnauthenticated, nil)
}

// RefreshUser re-fetches the current profile on demand. Failure of any kind
// is read as the session no longer being valid: everything is cleared.
func (c *Coordinator) RefreshUser(ctx context.Context) {
	current, err := c.api.Me(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("profile refresh failed, ending session")
		c.clearSession(ctx)
		return
	}
	if err := c.store.SetProfile(ctx, current); err != nil {
		c.log.Warn().Err(err).Msg("could not cache profile")
	}
	c.setState(PhaseAuthenticatedVerified, current)
}

// HandleForeground re-checks the token store when the app regains the
// foreground. A token that vanished while the app was in the background ends
// the session locally.
func (c *Coordinator) HandleForeground(ctx context.Context) {
	if !c.Snapshot().Phase.Authenticated() {
		return
	}
	if c.store.HasTokens(ctx) {
		return
	}
	c.log.Info().Msg("credentials vanished while in background, ending session")
	c.store.Clear(ctx)
	c.setState(PhaseUnauthenticated, nil)
}

// verify confirms cached credentials against the server. An authorization
// failure ends the session; a transport or server failure keeps whatever
// optimistic state is already showing rather than punishing the user for
// connectivity.
func (c *Coordinator) verify(ctx context.Context) {
	c.devtools.recordVerification()
	current, err := c.api.Me(ctx)
	switch {
	case err == nil:
		if err := c.store.SetProfile(ctx, current); err != nil {
			c.log.Warn().Err(err).Msg("could not cache profile")
		}
		c.setState(PhaseAuthenticatedVerified, current)
	case errors.IsAuthorizationError(err):
		c.log.Info().Err(err).Msg("cached session rejected by server")
		c.clearSession(ctx)
	default:
		c.log.Warn().Err(err).Msg("verification unavailable, keeping cached session state")
		c.mu.Lock()
		stillRestoring := c.phase == PhaseRestoring
		c.mu.Unlock()
		if stillRestoring {
			// Token present but no cached profile and the server is
			// unreachable: there is nothing to render optimistically. The
			// tokens stay stored for the next attempt.
			c.setState(PhaseUnauthenticated, nil)
		}
	}
}

// watchLoop applies credential changes made by other processes sharing the
// token backends.
func (c *Coordinator) watchLoop(ctx context.Context, events <-chan token.Event) {
	for event := range events {
		c.devtools.recordWatchEvent()
		switch event.Kind {
		case token.EventDeleted:
			if c.Snapshot().Phase.Authenticated() {
				c.log.Info().Msg("session ended by another process")
				c.setState(PhaseUnauthenticated, nil)
			}
		case token.EventSet:
			if !c.Snapshot().Phase.Authenticated() {
				c.log.Info().Msg("session started by another process, verifying")
				go c.verify(ctx)
			}
		}
	}
}

// handleForcedLogout reacts to the pipeline's exhausted-refresh path. The
// pipeline has already cleared the store; only local state remains.
func (c *Coordinator) handleForcedLogout() {
	c.devtools.recordForcedLogout()
	c.setState(PhaseUnauthenticated, nil)
}

func (c *Coordinator) handleLoadingChange(loading bool) {
	c.mu.Lock()
	c.loading = loading
	snapshot := Snapshot{User: c.user, Phase: c.phase, Loading: c.loading}
	listeners := append(([]func(Snapshot))(nil), c.subscribers...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// clearSession removes all credentials and returns to the unauthenticated
// baseline.
func (c *Coordinator) clearSession(ctx context.Context) {
	c.store.Clear(ctx)
	c.setState(PhaseUnauthenticated, nil)
}

func (c *Coordinator) setState(phase Phase, user *profile.Profile) {
	c.mu.Lock()
	from := c.phase
	c.phase = phase
	c.user = user
	snapshot := Snapshot{User: c.user, Phase: c.phase, Loading: c.loading}
	listeners := append(([]func(Snapshot))(nil), c.subscribers...)
	c.mu.Unlock()

	if from != phase {
		c.devtools.recordTransition(from, phase)
		c.log.Debug().Str("from", string(from)).Str("to", string(phase)).Msg("session phase change")
	}
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// loginFailureMessage converts a login error into the message shown to the
// user, preferring the server's own wording when it sent any.
func loginFailureMessage(err error) string {
	var apiErr *errors.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.IsTransportError(err) {
		return "network error, please try again"
	}
	return "login failed"
}
