package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
	"github.com/solorunner/nlm-auth-broker/internal/credstore"
)

// DefaultSessionID is used when a tool call arrives without a session.
const DefaultSessionID = "default"

// DefaultProfile names the credential profile used when none is given.
const DefaultProfile = "default"

// DefaultSessionIdleTTL is how long session state survives without a tool call.
const DefaultSessionIdleTTL = time.Hour

// ErrNoActiveToken is returned by CheckAuthToken when StartAuth was never called
// in the session.
var ErrNoActiveToken = errors.New("no auth token found, call start_auth first")

type sessionState struct {
	token     string
	profile   string
	touchedAt time.Time
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithCredentialStore sets where consumed cookies are persisted. Defaults to credstore.NopStore.
func WithCredentialStore(store credstore.Store) Option {
	return func(k *Toolkit) {
		k.creds = store
	}
}

// WithDefaultProfile sets the profile used when a session has none.
func WithDefaultProfile(profile string) Option {
	return func(k *Toolkit) {
		k.defaultProfile = profile
	}
}

// WithServerURL sets the broker URL shown to the user for configuring the extension.
func WithServerURL(url string) Option {
	return func(k *Toolkit) {
		k.serverURL = strings.TrimSuffix(url, "/")
	}
}

// WithSessionIdleTTL sets how long an idle session keeps its state.
func WithSessionIdleTTL(ttl time.Duration) Option {
	return func(k *Toolkit) {
		k.sessionIdleTTL = ttl
	}
}

// WithClock sets the time source for session idle tracking.
func WithClock(now func() time.Time) Option {
	return func(k *Toolkit) {
		k.now = now
	}
}

// Toolkit implements the auth tools on top of a shared broker.
type Toolkit struct {
	broker         *broker.Broker
	creds          credstore.Store
	defaultProfile string
	serverURL      string
	sessionIdleTTL time.Duration
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a Toolkit over b, which must be the same broker the HTTP boundary uses.
func New(b *broker.Broker, opts ...Option) (*Toolkit, error) {
	if b == nil {
		return nil, fmt.Errorf("missing broker")
	}

	k := &Toolkit{
		broker:         b,
		creds:          credstore.NopStore{},
		defaultProfile: DefaultProfile,
		sessionIdleTTL: DefaultSessionIdleTTL,
		now:            time.Now,
		sessions:       make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.creds == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if k.sessionIdleTTL <= 0 {
		return nil, fmt.Errorf("session idle ttl must be positive")
	}

	return k, nil
}

// NewSession returns an id for callers that invoke tools directly rather than over MCP.
func (k *Toolkit) NewSession() string {
	return uuid.NewString()
}

// EndSession forgets the state kept for id.
func (k *Toolkit) EndSession(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.sessions, id)
}

// Sweep expires broker entries and drops sessions idle for longer than the
// session idle TTL. The streamable HTTP transport does not report closed
// sessions, so this is what bounds the session table. Returns the number of
// broker entries removed.
func (k *Toolkit) Sweep(ctx context.Context) int {
	removed := k.broker.Sweep(ctx)

	k.mu.Lock()
	cutoff := k.now().Add(-k.sessionIdleTTL)
	pruned := 0
	for id, s := range k.sessions {
		if !s.touchedAt.After(cutoff) {
			delete(k.sessions, id)
			pruned++
		}
	}
	k.mu.Unlock()

	if pruned > 0 {
		slog.DebugContext(ctx, "idle tool sessions pruned", "count", pruned)
	}
	return removed
}

// StartAuthResult is returned by StartAuth.
type StartAuthResult struct {
	Token   string   `json:"token"`
	Message string   `json:"message"`
	Steps   []string `json:"steps"`
}

// StartAuth issues a token, binds it to the session and offers it for auto-fill.
func (k *Toolkit) StartAuth(ctx context.Context, sessionID string) (StartAuthResult, error) {
	k.Sweep(ctx)

	token, err := k.broker.Issue(ctx)
	if err != nil {
		return StartAuthResult{}, err
	}

	k.mu.Lock()
	k.touch(sessionID).token = token
	k.mu.Unlock()

	server := k.serverURL
	if server == "" {
		server = "the broker URL"
	}

	return StartAuthResult{
		Token: token,
		Message: "Auth token generated. Present these steps to the user. " +
			"When the user says 'done', call check_auth_token (not check_auth).",
		Steps: []string{
			"Sign in to notebooklm.google.com in Chrome",
			"Open the auth helper extension and make sure its server URL is " + server,
			"Enter the token if it was not filled in automatically: " + token,
			"Click 'Authenticate', then come back and say 'done'",
		},
	}, nil
}

// CheckTokenResult is returned by CheckAuthToken. Cookies is only set when the
// consumed cookies could not be persisted; the token is spent either way.
type CheckTokenResult struct {
	Ready         bool           `json:"ready"`
	Authenticated bool           `json:"authenticated"`
	Profile       string         `json:"profile,omitempty"`
	CookieCount   int            `json:"cookie_count,omitempty"`
	Missing       []string       `json:"missing,omitempty"`
	Cookies       broker.Cookies `json:"cookies,omitempty"`
	Message       string         `json:"message"`
}

// CheckAuthToken consumes the cookies delivered for the session's token and
// persists them under the session profile. When nothing is waiting it reports
// Ready=false without saying why.
func (k *Toolkit) CheckAuthToken(ctx context.Context, sessionID string) (CheckTokenResult, error) {
	k.Sweep(ctx)

	k.mu.Lock()
	var token, profile string
	if state := k.lookup(sessionID); state != nil {
		state.touchedAt = k.now()
		token, profile = state.token, k.profileOf(state)
	}
	k.mu.Unlock()

	if token == "" {
		return CheckTokenResult{}, ErrNoActiveToken
	}

	status := k.broker.Consume(ctx, token)
	if !status.Ready {
		slog.InfoContext(ctx, "cookies not received yet",
			"session", sessionID,
			"token", broker.Fingerprint(token),
			"outcome", k.broker.Outcome(token).String(),
		)
		return CheckTokenResult{
			Message: "Cookies not received yet. Ask the user to click Authenticate in the extension and try again.",
		}, nil
	}

	k.spend(sessionID, token)

	result := CheckTokenResult{
		Ready:       true,
		Profile:     profile,
		CookieCount: len(status.Cookies),
		Missing:     status.Cookies.Missing(broker.RequiredGoogleCookies...),
	}

	if err := k.creds.Write(ctx, profile, status.Cookies.Header()); err != nil {
		slog.ErrorContext(ctx, "storing consumed cookies failed", "profile", profile, "error", err)
		// The pending entry is gone; these cookies exist nowhere else.
		result.Cookies = status.Cookies
		if errors.Is(err, credstore.ErrReadOnly) {
			result.Message = "Cookies received, but credential storage is read-only so they were not saved. " +
				"They are included in this result."
		} else {
			result.Message = "Cookies received, but storing them failed: " + err.Error() +
				". They are included in this result."
		}
		return result, nil
	}

	result.Authenticated = true
	result.Message = "Authenticated via browser extension."
	if len(result.Missing) > 0 {
		result.Message += " Some expected cookies are missing (" + strings.Join(result.Missing, ", ") +
			"); the session may not work."
	}
	return result, nil
}

// CheckAuthResult is returned by CheckAuth.
type CheckAuthResult struct {
	Authenticated bool   `json:"authenticated"`
	Profile       string `json:"profile"`
	Message       string `json:"message"`
}

// CheckAuth reports whether credentials are stored for profile (or the session
// profile when empty) and makes it the session profile on success.
func (k *Toolkit) CheckAuth(ctx context.Context, sessionID, profile string) (CheckAuthResult, error) {
	k.Sweep(ctx)

	if profile == "" {
		profile = k.sessionProfile(sessionID)
	}

	value, err := k.creds.Read(ctx, profile)
	if errors.Is(err, credstore.ErrNotFound) {
		return CheckAuthResult{
			Profile: profile,
			Message: "Not authenticated. Call start_auth to begin the authentication flow.",
		}, nil
	}
	if err != nil {
		return CheckAuthResult{}, fmt.Errorf("reading credentials for profile %s: %w", profile, err)
	}

	if _, err := broker.ParseCookies(value); err != nil {
		return CheckAuthResult{
			Profile: profile,
			Message: "Stored credentials are unreadable. Call start_auth to authenticate again.",
		}, nil
	}

	k.mu.Lock()
	k.touch(sessionID).profile = profile
	k.mu.Unlock()

	return CheckAuthResult{
		Authenticated: true,
		Profile:       profile,
		Message:       "Authenticated with profile '" + profile + "'.",
	}, nil
}

// ImportResult is returned by ImportCookies.
type ImportResult struct {
	Authenticated bool     `json:"authenticated"`
	Profile       string   `json:"profile"`
	CookieCount   int      `json:"cookie_count,omitempty"`
	Missing       []string `json:"missing,omitempty"`
	Message       string   `json:"message"`
}

// ImportCookies stores cookies pasted by the user, bypassing the extension.
func (k *Toolkit) ImportCookies(ctx context.Context, sessionID, input, profile string) (ImportResult, error) {
	k.Sweep(ctx)

	if profile == "" {
		profile = k.sessionProfile(sessionID)
	}

	cookies, err := broker.ParseCookies(input)
	if err != nil {
		return ImportResult{
			Profile: profile,
			Message: "No cookies found. Paste the full cURL command or a Cookie header containing " +
				strings.Join(broker.RequiredGoogleCookies, ", ") + ".",
		}, nil
	}

	if err := k.creds.Write(ctx, profile, cookies.Header()); err != nil {
		return ImportResult{}, fmt.Errorf("storing cookies for profile %s: %w", profile, err)
	}

	k.mu.Lock()
	k.touch(sessionID).profile = profile
	k.mu.Unlock()

	result := ImportResult{
		Authenticated: true,
		Profile:       profile,
		CookieCount:   len(cookies),
		Missing:       cookies.Missing(broker.RequiredGoogleCookies...),
		Message:       "Cookies imported.",
	}
	if len(result.Missing) > 0 {
		result.Message += " Missing expected cookies: " + strings.Join(result.Missing, ", ") + "."
	}
	return result, nil
}

// lookup returns the state for id or nil. Callers must hold k.mu.
func (k *Toolkit) lookup(id string) *sessionState {
	if id == "" {
		id = DefaultSessionID
	}
	return k.sessions[id]
}

// touch returns the state for id, creating it, and marks it active. Callers must hold k.mu.
func (k *Toolkit) touch(id string) *sessionState {
	if id == "" {
		id = DefaultSessionID
	}
	s, ok := k.sessions[id]
	if !ok {
		s = &sessionState{}
		k.sessions[id] = s
	}
	s.touchedAt = k.now()
	return s
}

// spend clears token from session id unless a later StartAuth already
// replaced it.
func (k *Toolkit) spend(id, token string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if state := k.lookup(id); state != nil && state.token == token {
		state.token = ""
	}
}

// sessionProfile returns the profile chosen in session id, or the default.
func (k *Toolkit) sessionProfile(id string) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s := k.lookup(id); s != nil {
		s.touchedAt = k.now()
		return k.profileOf(s)
	}
	return k.defaultProfile
}

func (k *Toolkit) profileOf(s *sessionState) string {
	if s.profile != "" {
		return s.profile
	}
	return k.defaultProfile
}
