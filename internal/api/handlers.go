package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/addongw/internal/engine"
)

// SignatureHeader carries the caller's request signature.
const SignatureHeader = "X-Addon-Signature"

// callbackWait bounds how long a request whose response was handed to
// another connection (task suspension) keeps its own connection open.
const callbackWait = 45 * time.Second

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		AddonsLoaded:  len(s.engine.Addons()),
		Recording:     s.engine.Recorder() != nil,
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListAddons handles GET /addons.
func (s *Server) handleListAddons(w http.ResponseWriter, r *http.Request) {
	addons := s.engine.Addons()
	resp := make([]AddonSummary, 0, len(addons))
	for _, a := range addons {
		resp = append(resp, AddonSummary{ID: a.ID(), Type: a.Type()})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleAddonAction handles POST /addons/{addonID}/{action}. The body is the
// JSON action input; the signature travels in the X-Addon-Signature header.
//
// Authentication, migration, caching, and recording all happen inside the
// engine pipeline; this handler only adapts HTTP to it.
func (s *Server) handleAddonAction(w http.ResponseWriter, r *http.Request) {
	addonID := chi.URLParam(r, "addonID")
	action := chi.URLParam(r, "action")

	handler, ok := s.handlers[addonID]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown addon")
		return
	}

	var input any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	// The engine delivers the response through a send callback, which may
	// be rebound to a different connection while a task round-trip is in
	// flight. Each connection accepts at most one response and must stay
	// open until it arrives.
	var wrote atomic.Bool
	done := make(chan struct{}, 1)
	send := func(_ context.Context, status int, body any) (string, error) {
		if !wrote.CompareAndSwap(false, true) {
			return "", engine.ErrResponseSent
		}
		respondJSON(w, status, body)
		if f, ok := w.(http.Flusher); ok {
			// Push the response out while this handler may still be
			// blocked inside the pipeline.
			f.Flush()
		}
		done <- struct{}{}
		return "", nil
	}

	err := handler(r.Context(), &engine.Request{
		Action: action,
		Input:  input,
		Sig:    r.Header.Get(SignatureHeader),
		Remote: r.RemoteAddr,
		Send:   send,
	})
	if err != nil {
		s.logger.Error("dispatch failed", "addon", addonID, "action", action, "error", err)
		if wrote.CompareAndSwap(false, true) {
			respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
		return
	}

	if wrote.Load() {
		<-done
		return
	}

	// Nothing was sent here: this connection's response is owed by a
	// suspended request that took over our send callback.
	select {
	case <-done:
	case <-r.Context().Done():
	case <-time.After(callbackWait):
		if wrote.CompareAndSwap(false, true) {
			respondJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "timed out waiting for response"})
		}
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
