package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
	"github.com/solorunner/nlm-auth-broker/internal/credstore"
)

type memStore struct {
	mu       sync.Mutex
	values   map[string]string
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) Read(ctx context.Context, profile string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[profile]
	if !ok {
		return "", credstore.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Write(ctx context.Context, profile, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.values[profile] = value
	return nil
}

func newTestToolkit(t *testing.T, opts ...Option) (*Toolkit, *broker.Broker, *memStore) {
	t.Helper()
	b, err := broker.New(broker.NewStore())
	require.NoError(t, err)
	creds := newMemStore()
	k, err := New(b, append([]Option{WithCredentialStore(creds)}, opts...)...)
	require.NoError(t, err)
	return k, b, creds
}

// sessionCount reports how many sessions hold state.
func (k *Toolkit) sessionCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sessions)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var fullCookies = broker.Cookies{
	"SID": "a", "HSID": "b", "SSID": "c", "APISID": "d", "SAPISID": "e",
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	b, err := broker.New(broker.NewStore())
	require.NoError(t, err)
	_, err = New(b, WithCredentialStore(nil))
	assert.Error(t, err)
	_, err = New(b, WithSessionIdleTTL(0))
	assert.Error(t, err)
}

func TestToolkit_Handshake(t *testing.T) {
	k, b, creds := newTestToolkit(t, WithServerURL("http://localhost:8080/"))
	ctx := context.Background()
	sid := k.NewSession()

	start, err := k.StartAuth(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, start.Token, 43)
	assert.NotEmpty(t, start.Steps)
	assert.Contains(t, start.Steps[1], "http://localhost:8080")

	latest, ok := b.LatestToken()
	require.True(t, ok)
	assert.Equal(t, start.Token, latest, "issued token is offered for auto-fill")

	// Not delivered yet.
	res, err := k.CheckAuthToken(ctx, sid)
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Contains(t, res.Message, "try again")

	require.NoError(t, b.Deliver(ctx, broker.DeliverRequest{Token: start.Token, Cookies: fullCookies}))

	res, err = k.CheckAuthToken(ctx, sid)
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.True(t, res.Authenticated)
	assert.Equal(t, 5, res.CookieCount)
	assert.Empty(t, res.Missing)
	assert.Equal(t, DefaultProfile, res.Profile)

	stored, err := creds.Read(ctx, DefaultProfile)
	require.NoError(t, err)
	assert.Equal(t, fullCookies.Header(), stored)

	assert.Equal(t, 0, b.Store().Len(), "consumed entry is gone")

	_, err = k.CheckAuthToken(ctx, sid)
	assert.ErrorIs(t, err, ErrNoActiveToken, "the token is spent after a successful check")
}

func TestToolkit_CheckAuthTokenWithoutStart(t *testing.T) {
	k, _, _ := newTestToolkit(t)

	_, err := k.CheckAuthToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoActiveToken)
}

func TestToolkit_SessionsAreIsolated(t *testing.T) {
	k, b, _ := newTestToolkit(t)
	ctx := context.Background()

	first, err := k.StartAuth(ctx, "s1")
	require.NoError(t, err)
	second, err := k.StartAuth(ctx, "s2")
	require.NoError(t, err)

	require.NoError(t, b.Deliver(ctx, broker.DeliverRequest{Token: first.Token, Cookies: fullCookies}))

	res, err := k.CheckAuthToken(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, res.Ready)

	res, err = k.CheckAuthToken(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, res.Ready)

	_, ok := b.Store().Peek(second.Token)
	assert.False(t, ok)
}

func TestToolkit_EndSession(t *testing.T) {
	k, _, _ := newTestToolkit(t)
	ctx := context.Background()

	_, err := k.StartAuth(ctx, "s1")
	require.NoError(t, err)
	k.EndSession("s1")

	_, err = k.CheckAuthToken(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoActiveToken)
}

func TestToolkit_MissingCookiesReported(t *testing.T) {
	k, b, _ := newTestToolkit(t)
	ctx := context.Background()

	start, err := k.StartAuth(ctx, "")
	require.NoError(t, err)
	require.NoError(t, b.Deliver(ctx, broker.DeliverRequest{Token: start.Token, Cookies: broker.Cookies{"SID": "a"}}))

	res, err := k.CheckAuthToken(ctx, "")
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.Equal(t, []string{"HSID", "SSID", "APISID", "SAPISID"}, res.Missing)
	assert.Contains(t, res.Message, "missing")
}

func TestToolkit_StoreFailureSpendsToken(t *testing.T) {
	k, b, creds := newTestToolkit(t)
	ctx := context.Background()
	creds.writeErr = errors.New("disk full")

	start, err := k.StartAuth(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, b.Deliver(ctx, broker.DeliverRequest{Token: start.Token, Cookies: fullCookies}))

	res, err := k.CheckAuthToken(ctx, "s")
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.False(t, res.Authenticated)
	assert.Contains(t, res.Message, "disk full")
	assert.Equal(t, fullCookies, res.Cookies, "unsaved cookies are handed back")

	_, err = k.CheckAuthToken(ctx, "s")
	assert.ErrorIs(t, err, ErrNoActiveToken)
}

func TestToolkit_CheckAuthTokenPerStorage(t *testing.T) {
	keyring.MockInit()

	fileStore, err := credstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	envStore, err := credstore.NewEnvStore("NLMAUTH_TOOLS_TEST")
	require.NoError(t, err)
	keyringStore, err := credstore.NewKeyringStore("nlm-auth-broker-tools-test")
	require.NoError(t, err)

	tests := []struct {
		name      string
		store     credstore.Store
		persisted bool
		message   string
	}{
		{"none", credstore.NopStore{}, false, "read-only"},
		{"env", envStore, false, "read-only"},
		{"file", fileStore, true, "Authenticated"},
		{"keyring", keyringStore, true, "Authenticated"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b, err := broker.New(broker.NewStore())
			require.NoError(t, err)
			k, err := New(b, WithCredentialStore(tc.store))
			require.NoError(t, err)

			start, err := k.StartAuth(ctx, "s")
			require.NoError(t, err)
			require.NoError(t, b.Deliver(ctx, broker.DeliverRequest{Token: start.Token, Cookies: fullCookies}))

			res, err := k.CheckAuthToken(ctx, "s")
			require.NoError(t, err)
			assert.True(t, res.Ready)
			assert.Equal(t, tc.persisted, res.Authenticated)
			assert.Contains(t, res.Message, tc.message)
			assert.Equal(t, 0, b.Store().Len(), "the token is spent either way")

			if tc.persisted {
				assert.Nil(t, res.Cookies)
				stored, err := tc.store.Read(ctx, DefaultProfile)
				require.NoError(t, err)
				assert.Equal(t, fullCookies.Header(), stored)
			} else {
				assert.Equal(t, fullCookies, res.Cookies)
			}
		})
	}
}

func TestToolkit_SpendKeepsReplacedToken(t *testing.T) {
	k, b, _ := newTestToolkit(t)
	ctx := context.Background()

	first, err := k.StartAuth(ctx, "s")
	require.NoError(t, err)
	second, err := k.StartAuth(ctx, "s")
	require.NoError(t, err)

	// A check that consumed the first token finishes after the restart.
	k.spend("s", first.Token)

	require.NoError(t, b.Deliver(ctx, broker.DeliverRequest{Token: second.Token, Cookies: fullCookies}))
	res, err := k.CheckAuthToken(ctx, "s")
	require.NoError(t, err)
	assert.True(t, res.Ready, "the newer token survives")

	_, err = k.CheckAuthToken(ctx, "s")
	assert.ErrorIs(t, err, ErrNoActiveToken)
}

func TestToolkit_SweepPrunesIdleSessions(t *testing.T) {
	clock := newTestClock()
	k, _, creds := newTestToolkit(t, WithClock(clock.Now), WithSessionIdleTTL(time.Minute))
	ctx := context.Background()

	_, err := k.StartAuth(ctx, "idle")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = k.StartAuth(ctx, "active")
	require.NoError(t, err)
	require.NoError(t, creds.Write(ctx, "work", fullCookies.Header()))
	_, err = k.CheckAuth(ctx, "profiled", "work")
	require.NoError(t, err)
	assert.Equal(t, 3, k.sessionCount())

	clock.Advance(45 * time.Second)
	k.Sweep(ctx)
	assert.Equal(t, 2, k.sessionCount())

	_, err = k.CheckAuthToken(ctx, "idle")
	assert.ErrorIs(t, err, ErrNoActiveToken)

	// Any tool call counts as activity.
	res, err := k.CheckAuthToken(ctx, "active")
	require.NoError(t, err)
	assert.False(t, res.Ready)

	clock.Advance(59 * time.Second)
	k.Sweep(ctx)
	assert.Equal(t, 1, k.sessionCount())

	clock.Advance(time.Second)
	k.Sweep(ctx)
	assert.Equal(t, 0, k.sessionCount())
}

func TestToolkit_CheckAuth(t *testing.T) {
	k, _, creds := newTestToolkit(t)
	ctx := context.Background()

	res, err := k.CheckAuth(ctx, "s", "")
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, DefaultProfile, res.Profile)

	require.NoError(t, creds.Write(ctx, "work", "SID=a; HSID=b"))
	res, err = k.CheckAuth(ctx, "s", "work")
	require.NoError(t, err)
	assert.True(t, res.Authenticated)

	// The checked profile becomes the session profile.
	res, err = k.CheckAuth(ctx, "s", "")
	require.NoError(t, err)
	assert.Equal(t, "work", res.Profile)
	assert.True(t, res.Authenticated)

	require.NoError(t, creds.Write(ctx, "broken", "   "))
	res, err = k.CheckAuth(ctx, "s", "broken")
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
}

func TestToolkit_ImportCookies(t *testing.T) {
	k, _, creds := newTestToolkit(t, WithDefaultProfile("main"))
	ctx := context.Background()

	res, err := k.ImportCookies(ctx, "s", "nothing here", "")
	require.NoError(t, err)
	assert.False(t, res.Authenticated)

	res, err = k.ImportCookies(ctx, "s", `curl 'https://notebooklm.google.com/' -H 'cookie: SID=a; HSID=b'`, "")
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.Equal(t, "main", res.Profile)
	assert.Equal(t, 2, res.CookieCount)
	assert.Equal(t, []string{"SSID", "APISID", "SAPISID"}, res.Missing)

	stored, err := creds.Read(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "HSID=b; SID=a", stored)
}

func TestToolkit_ImportCookiesReadOnlyStore(t *testing.T) {
	b, err := broker.New(broker.NewStore())
	require.NoError(t, err)
	env, err := credstore.NewEnvStore("NLMAUTH_TOOLS_TEST")
	require.NoError(t, err)
	k, err := New(b, WithCredentialStore(env))
	require.NoError(t, err)

	_, err = k.ImportCookies(context.Background(), "s", "SID=a", "")
	assert.ErrorIs(t, err, credstore.ErrReadOnly)
}
