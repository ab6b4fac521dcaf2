package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DeliverRequest is what the extension posts for a token.
type DeliverRequest struct {
	Token   string  `json:"token" validate:"required"`
	Cookies Cookies `json:"cookies" validate:"required,min=1,dive,keys,required,endkeys,max=4096"`
}

// Status is the externally visible state of a token.
type Status struct {
	Ready   bool    `json:"ready"`
	Cookies Cookies `json:"cookies,omitempty"`
}

// Broker drives the issue → deliver → consume handshake over a shared Store.
// The HTTP boundary and the tool boundary must hold the same *Broker.
type Broker struct {
	store    *Store
	validate *validator.Validate
}

// New creates a Broker over store.
func New(store *Store) (*Broker, error) {
	if store == nil {
		return nil, fmt.Errorf("missing store")
	}

	return &Broker{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Store exposes the underlying table.
func (b *Broker) Store() *Store {
	return b.store
}

// Issue generates a fresh token and offers it for extension auto-fill.
// The pending table is not touched.
func (b *Broker) Issue(ctx context.Context) (string, error) {
	token, err := b.Mint(ctx)
	if err != nil {
		return "", err
	}
	b.store.SetLatest(token)
	return token, nil
}

// Mint generates a fresh token without touching any broker state.
func (b *Broker) Mint(ctx context.Context) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}

	slog.InfoContext(ctx, "auth token issued", "token", Fingerprint(token))
	return token, nil
}

// RegisterToken makes an externally generated token the auto-fill candidate.
func (b *Broker) RegisterToken(ctx context.Context, token string) error {
	if token == "" {
		return &ValidationError{Fields: []string{"token"}}
	}
	b.store.SetLatest(token)

	slog.DebugContext(ctx, "auth token registered", "token", Fingerprint(token))
	return nil
}

// LatestToken returns the auto-fill candidate if it is younger than the TTL.
func (b *Broker) LatestToken() (string, bool) {
	return b.store.Latest()
}

// Deliver validates req and stores its cookies. Repeated deliveries overwrite.
func (b *Broker) Deliver(ctx context.Context, req DeliverRequest) error {
	if err := b.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating delivery: %w", err)
		}
		return validationError(verrs)
	}

	if err := b.store.Deliver(req.Token, req.Cookies); err != nil {
		return err
	}

	slog.InfoContext(ctx, "cookies delivered",
		"token", Fingerprint(req.Token),
		"cookie_count", len(req.Cookies),
	)
	return nil
}

// Status reports whether cookies are waiting for token, without consuming them.
func (b *Broker) Status(token string) Status {
	entry, ok := b.store.Peek(token)
	if !ok {
		return Status{}
	}
	return Status{Ready: true, Cookies: entry.Cookies}
}

// Consume hands out the cookies for token at most once. A miss yields Ready=false
// whatever the cause.
func (b *Broker) Consume(ctx context.Context, token string) Status {
	cookies, ok := b.store.Consume(token)
	if !ok {
		slog.DebugContext(ctx, "consume missed",
			"token", Fingerprint(token),
			"outcome", b.store.Outcome(token).String(),
		)
		return Status{}
	}

	slog.InfoContext(ctx, "cookies consumed",
		"token", Fingerprint(token),
		"cookie_count", len(cookies),
	)
	return Status{Ready: true, Cookies: cookies}
}

// Outcome reports what became of token. Diagnostics only.
func (b *Broker) Outcome(token string) Outcome {
	return b.store.Outcome(token)
}

// Sweep removes entries older than the store TTL.
func (b *Broker) Sweep(ctx context.Context) int {
	n := b.store.SweepExpired(b.store.TTL())
	if n > 0 {
		slog.DebugContext(ctx, "expired pending entries removed", "count", n)
	}
	return n
}

func validationError(verrs validator.ValidationErrors) *ValidationError {
	var fields []string
	for _, fe := range verrs {
		name := "token"
		if strings.HasPrefix(fe.StructField(), "Cookies") {
			name = "cookies"
		}
		if !slices.Contains(fields, name) {
			fields = append(fields, name)
		}
	}
	return &ValidationError{Fields: fields}
}
