// Package authapi defines the HTTP contract between the browser extension, remote
// agents and the broker's HTTP boundary.
package authapi

const (
	CookiesEndpoint       = "/auth/cookies"
	StatusEndpoint        = "/auth/status/"
	ConsumeEndpoint       = "/auth/consume/"
	TokenEndpoint         = "/auth/token"
	RegisterTokenEndpoint = "/auth/register-token"
	LatestTokenEndpoint   = "/auth/latest-token"
	HealthEndpoint        = "/healthz"
)

const (
	StatusOK       = "ok"
	StatusConsumed = "consumed"
)

// DeliverRequest carries cookies captured by the extension for a token.
type DeliverRequest struct {
	Token   string            `json:"token"`
	Cookies map[string]string `json:"cookies"`
}

// RegisterTokenRequest offers an externally generated token for auto-fill.
type RegisterTokenRequest struct {
	Token string `json:"token"`
}

// AckResponse acknowledges a state change without payload.
type AckResponse struct {
	Status string `json:"status"`
}

// StatusResponse answers a non-consuming status poll.
type StatusResponse struct {
	Ready   bool              `json:"ready"`
	Cookies map[string]string `json:"cookies,omitempty"`
}

// ConsumeResponse carries the cookies handed out by a successful consume.
type ConsumeResponse struct {
	Status  string            `json:"status"`
	Cookies map[string]string `json:"cookies"`
}

// TokenResponse carries a token; Token is nil when there is none.
type TokenResponse struct {
	Token *string `json:"token"`
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
