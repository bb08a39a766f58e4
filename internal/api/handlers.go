package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
)

// tenantID resolves the caller's tenant from the X-Tenant-ID header, with a
// query fallback for browser SSE clients that cannot set headers.
func tenantID(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return r.URL.Query().Get("tenant")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, domain.NewError(domain.KindValidation, "tenant is required"))
		return
	}

	var in campaign.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "invalid request body: %v", err))
		return
	}
	in.TenantID = tenant

	c, err := s.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	// Warm the validation cache so the worker's synchronous checks hit it.
	addrs := make([]string, len(in.Recipients))
	for i, rec := range in.Recipients {
		addrs[i] = rec.Address
	}
	s.prevalidate(addrs)

	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, domain.NewError(domain.KindValidation, "tenant is required"))
		return
	}

	f := campaign.ListFilter{
		Status: domain.CampaignStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	items, total, err := s.svc.List(r.Context(), tenant, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": items,
		"total":     total,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, domain.NewError(domain.KindValidation, "tenant is required"))
		return
	}
	c, err := s.svc.Get(r.Context(), tenant, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, domain.NewError(domain.KindValidation, "tenant is required"))
		return
	}
	item, err := s.svc.Next(r.Context(), tenant, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusOK, map[string]any{"next": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"next": map[string]any{
			"ordinal":         item.Ordinal,
			"recipient":       logger.RedactPhone(item.Recipient),
			"recipient_label": item.RecipientLabel,
			"message_preview": preview(item.RenderedMessage, 80),
		},
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.mgr.Start)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.mgr.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.mgr.Stop)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, domain.NewError(domain.KindValidation, "tenant is required"))
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	id := chi.URLParam(r, "campaignID")
	if err := s.mgr.Pause(r.Context(), tenant, id, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	s.respondStatus(w, r, tenant, id)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, tenantID, campaignID string) error) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, domain.NewError(domain.KindValidation, "tenant is required"))
		return
	}
	id := chi.URLParam(r, "campaignID")
	if err := action(r.Context(), tenant, id); err != nil {
		writeError(w, err)
		return
	}
	s.respondStatus(w, r, tenant, id)
}

func (s *Server) respondStatus(w http.ResponseWriter, r *http.Request, tenant, id string) {
	c, err := s.svc.Get(r.Context(), tenant, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func preview(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max] + "..."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", "error", err.Error())
	}
}

// writeError maps the error taxonomy to HTTP statuses with a uniform
// {kind, message} envelope.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindInternal
	msg := "internal error"

	var derr *domain.Error
	switch {
	case errors.As(err, &derr):
		kind = derr.Kind
		msg = derr.Message
	case errors.Is(err, campaign.ErrNotFound):
		kind = domain.KindNotFound
		msg = err.Error()
	default:
		logger.Error("request failed", "error", err.Error())
	}

	writeJSON(w, statusFor(kind), map[string]string{
		"kind":    string(kind),
		"message": msg,
	})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindIllegalTransition, domain.KindChannelUnhealthy:
		return http.StatusConflict
	case domain.KindTransportTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
