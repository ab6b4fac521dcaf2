package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/solorunner/nlm-auth-broker/internal/authapi"
	"github.com/solorunner/nlm-auth-broker/internal/broker"
)

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authapi.DeliverRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	err := s.broker.Deliver(ctx, broker.DeliverRequest{
		Token:   req.Token,
		Cookies: broker.Cookies(req.Cookies),
	})
	if errors.Is(err, broker.ErrValidation) {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "cookie delivery failed", "error", err)
		writeJSONError(ctx, w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(ctx, w, authapi.AckResponse{Status: authapi.StatusOK}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.broker.Status(r.PathValue("token"))
	writeJSON(r.Context(), w, authapi.StatusResponse{
		Ready:   status.Ready,
		Cookies: status.Cookies,
	}, http.StatusOK)
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := s.broker.Consume(ctx, r.PathValue("token"))
	if !status.Ready {
		writeJSONError(ctx, w, broker.ErrNotFound.Error(), http.StatusNotFound)
		return
	}

	writeJSON(ctx, w, authapi.ConsumeResponse{
		Status:  authapi.StatusConsumed,
		Cookies: status.Cookies,
	}, http.StatusOK)
}

// handleToken hands out a fresh token. It does not replace the auto-fill
// candidate, so clients may call it to check connectivity; callers that want
// the token pre-filled post it to the register endpoint.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := s.broker.Mint(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "token issuance failed", "error", err)
		writeJSONError(ctx, w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(ctx, w, authapi.TokenResponse{Token: &token}, http.StatusOK)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authapi.RegisterTokenRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.broker.RegisterToken(ctx, req.Token); err != nil {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(ctx, w, authapi.AckResponse{Status: authapi.StatusOK}, http.StatusOK)
}

func (s *Server) handleLatestToken(w http.ResponseWriter, r *http.Request) {
	resp := authapi.TokenResponse{}
	if token, ok := s.broker.LatestToken(); ok {
		resp.Token = &token
	}
	writeJSON(r.Context(), w, resp, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, authapi.AckResponse{Status: authapi.StatusOK}, http.StatusOK)
}
