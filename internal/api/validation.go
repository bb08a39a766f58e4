package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/transport"
	"github.com/ignite/blast-orchestrator/internal/validation"
)

// SetValidation attaches the validation cache and the transport used for
// warm-up endpoints and for prevalidating freshly created campaigns. baseCtx
// bounds the background work; it should be the process context, not a request
// context.
func (s *Server) SetValidation(baseCtx context.Context, cache *validation.Cache, t transport.ChatTransport) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s.baseCtx = baseCtx
	s.cache = cache
	s.transport = t
}

// prevalidate feeds a new campaign's recipients to the background validator
// so the worker's synchronous checks mostly hit cache.
func (s *Server) prevalidate(addresses []string) {
	if s.cache == nil || s.transport == nil {
		return
	}
	s.cache.EnqueueBackground(s.baseCtx, addresses, s.transport)
}

func (s *Server) handlePrevalidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Addresses []string `json:"addresses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Addresses) == 0 {
		writeError(w, domain.NewError(domain.KindValidation, "addresses must not be empty"))
		return
	}
	queued := s.cache.EnqueueBackground(s.baseCtx, body.Addresses, s.transport)
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Addresses  []string `json:"addresses"`
		DurationMs int64    `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Addresses) == 0 {
		writeError(w, domain.NewError(domain.KindValidation, "addresses must not be empty"))
		return
	}
	if body.DurationMs <= 0 {
		writeError(w, domain.NewError(domain.KindValidation, "duration_ms must be positive"))
		return
	}

	started := s.cache.ProgressiveWarm(s.baseCtx, body.Addresses, s.transport,
		time.Duration(body.DurationMs)*time.Millisecond)
	if !started {
		writeError(w, domain.NewError(domain.KindIllegalTransition,
			"a progressive warm is already running"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}
