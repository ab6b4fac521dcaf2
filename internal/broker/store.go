package broker

import (
	"sync"
	"time"
)

const (
	// DefaultTTL bounds both pending entries (from delivery) and the latest-token slot (from issuance).
	DefaultTTL = 600 * time.Second

	// DefaultTombstoneTTL is how long a consumed or expired token stays explainable in logs.
	DefaultTombstoneTTL = time.Minute
)

// Outcome describes what the store knows about a token. It exists for diagnostics
// only; no caller-visible result may depend on it.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomePending
	OutcomeConsumed
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConsumed:
		return "consumed"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PendingEntry holds cookies delivered for a token and not yet consumed or swept.
type PendingEntry struct {
	Token      string
	Cookies    Cookies
	ReceivedAt time.Time
}

type latestSlot struct {
	token     string
	createdAt time.Time
}

type tombstone struct {
	outcome Outcome
	at      time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithTTL sets the age after which the latest-token slot reads as empty and the
// default sweep threshold used by Broker.Sweep.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithTombstoneTTL sets how long consumed and expired markers are kept. Zero disables them.
func WithTombstoneTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.tombstoneTTL = ttl
	}
}

// Store is the process-wide table of pending cookie deliveries plus the
// latest-token slot. All methods are safe for concurrent use; every mutation
// happens under a single lock acquisition.
type Store struct {
	mu         sync.Mutex
	pending    map[string]PendingEntry
	latest     latestSlot
	tombstones map[string]tombstone

	now          func() time.Time
	ttl          time.Duration
	tombstoneTTL time.Duration
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		pending:      make(map[string]PendingEntry),
		tombstones:   make(map[string]tombstone),
		now:          time.Now,
		ttl:          DefaultTTL,
		tombstoneTTL: DefaultTombstoneTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured expiry window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Deliver stores cookies under token, replacing any earlier delivery.
func (s *Store) Deliver(token string, cookies Cookies) error {
	var missing []string
	if token == "" {
		missing = append(missing, "token")
	}
	if len(cookies) == 0 {
		missing = append(missing, "cookies")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}

	entry := PendingEntry{
		Token:   token,
		Cookies: cookies.Clone(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ReceivedAt = s.now()
	s.pending[token] = entry
	delete(s.tombstones, token)
	return nil
}

// Peek returns a copy of the entry for token without removing it.
func (s *Store) Peek(token string) (PendingEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[token]
	if !ok {
		return PendingEntry{}, false
	}
	entry.Cookies = entry.Cookies.Clone()
	return entry, true
}

// Consume removes the entry for token and returns its cookies. Among concurrent
// callers for the same token exactly one observes ok == true.
func (s *Store) Consume(token string) (Cookies, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[token]
	if !ok {
		return nil, false
	}
	delete(s.pending, token)
	s.bury(token, OutcomeConsumed)
	return entry.Cookies, true
}

// SweepExpired removes entries delivered maxAge or longer ago and returns how many were removed.
func (s *Store) SweepExpired(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-maxAge)

	removed := 0
	for token, entry := range s.pending {
		if !entry.ReceivedAt.After(cutoff) {
			delete(s.pending, token)
			s.bury(token, OutcomeExpired)
			removed++
		}
	}

	for token, t := range s.tombstones {
		if now.Sub(t.at) > s.tombstoneTTL {
			delete(s.tombstones, token)
		}
	}

	return removed
}

// SetLatest overwrites the latest-token slot. An empty token clears it.
func (s *Store) SetLatest(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = latestSlot{token: token, createdAt: s.now()}
}

// Latest returns the most recently issued token unless it is older than the TTL,
// in which case the slot is cleared.
func (s *Store) Latest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest.token == "" {
		return "", false
	}
	if s.now().Sub(s.latest.createdAt) > s.ttl {
		s.latest = latestSlot{}
		return "", false
	}
	return s.latest.token, true
}

// Outcome reports what became of token, for log messages.
func (s *Store) Outcome(token string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[token]; ok {
		return OutcomePending
	}
	t, ok := s.tombstones[token]
	if !ok || s.now().Sub(t.at) > s.tombstoneTTL {
		return OutcomeUnknown
	}
	return t.outcome
}

// Len returns the number of pending entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// bury records a terminal outcome. Callers must hold s.mu.
func (s *Store) bury(token string, outcome Outcome) {
	if s.tombstoneTTL <= 0 {
		return
	}
	s.tombstones[token] = tombstone{outcome: outcome, at: s.now()}
}
