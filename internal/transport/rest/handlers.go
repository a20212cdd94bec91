package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gigplan/availability-service/internal/audit"
	"github.com/gigplan/availability-service/internal/domain"
	appCtx "github.com/gigplan/availability-service/internal/pkg/context"
	"github.com/gigplan/availability-service/internal/pkg/logger"
	"github.com/gigplan/availability-service/internal/service"
	"github.com/gigplan/availability-service/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type Handler struct {
	svc   *service.AvailabilityService
	audit *audit.Logger
}

func NewHandler(svc *service.AvailabilityService, auditLog *audit.Logger) *Handler {
	return &Handler{svc: svc, audit: auditLog}
}

// RecordResponse is the single write entry point the UI calls per prompt.
// The retry budget already ran inside the service; whatever error reaches
// here is terminal and mapped once.
func (h *Handler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	groupID, eventID, ok := pathGroupEvent(w, r)
	if !ok {
		return
	}

	auth, authOK := GetAuth(r.Context())
	if !authOK {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		DateID   *string `json:"date_id"`
		Decision string  `json:"decision"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "decision must be yes, no or maybe", map[string]string{
			"decision": "must be one of yes, no, maybe",
		})
		return
	}

	var dateID *uuid.UUID
	if req.DateID != nil && strings.TrimSpace(*req.DateID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*req.DateID))
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid date_id", map[string]string{
				"date_id": "must be a valid uuid",
			})
			return
		}
		dateID = &id
	}

	if err := h.svc.RecordDecision(r.Context(), groupID, eventID, dateID, auth.MemberID, decision); err != nil {
		h.audit.DecisionWriteFailed(r.Context(), groupID, eventID, auth.MemberID, err)
		handleErr(w, r, err)
		return
	}

	h.audit.DecisionRecorded(r.Context(), groupID, eventID, dateID, auth.MemberID, decision)
	response.Data(w, http.StatusOK, map[string]string{
		"decision": string(decision),
	})
}

// requireMember resolves the authenticated member and enforces active roster
// membership. Responses are readable by group members only; a valid token
// from another group's member is not enough.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, groupID uuid.UUID) (uuid.UUID, bool) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return uuid.Nil, false
	}
	if err := h.svc.EnsureActiveMember(r.Context(), groupID, auth.MemberID); err != nil {
		handleErr(w, r, err)
		return uuid.Nil, false
	}
	return auth.MemberID, true
}

func (h *Handler) MyResponse(w http.ResponseWriter, r *http.Request) {
	groupID, eventID, ok := pathGroupEvent(w, r)
	if !ok {
		return
	}
	memberID, ok := h.requireMember(w, r, groupID)
	if !ok {
		return
	}
	dateID, ok := queryDateID(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.MyDecision(r.Context(), groupID, eventID, dateID, memberID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"event_id":   rec.EventID,
		"date_id":    rec.DateID,
		"decision":   rec.Decision,
		"updated_at": rec.UpdatedAt,
	})
}

func (h *Handler) HasResponded(w http.ResponseWriter, r *http.Request) {
	groupID, eventID, ok := pathGroupEvent(w, r)
	if !ok {
		return
	}
	memberID, ok := h.requireMember(w, r, groupID)
	if !ok {
		return
	}

	responded, err := h.svc.HasResponded(r.Context(), groupID, eventID, memberID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]bool{"responded": responded})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	groupID, eventID, ok := pathGroupEvent(w, r)
	if !ok {
		return
	}
	if _, ok := h.requireMember(w, r, groupID); !ok {
		return
	}
	dateID, ok := queryDateID(w, r)
	if !ok {
		return
	}

	s, err := h.svc.Summary(r.Context(), groupID, eventID, dateID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, s)
}

func (h *Handler) BulkSummaries(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroup(w, r)
	if !ok {
		return
	}
	if _, ok := h.requireMember(w, r, groupID); !ok {
		return
	}

	var eventIDs []uuid.UUID
	for _, raw := range r.URL.Query()["event_id"] {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid event_id", nil)
			return
		}
		eventIDs = append(eventIDs, id)
	}

	out, err := h.svc.BulkSummaries(r.Context(), groupID, eventIDs)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	// JSON object keys must be strings
	items := make(map[string]domain.ResponseSummary, len(out))
	for id, s := range out {
		items[id.String()] = s
	}
	response.Data(w, http.StatusOK, map[string]any{"summaries": items})
}

func (h *Handler) Matrix(w http.ResponseWriter, r *http.Request) {
	groupID, eventID, ok := pathGroupEvent(w, r)
	if !ok {
		return
	}
	if _, ok := h.requireMember(w, r, groupID); !ok {
		return
	}

	m, err := h.svc.Matrix(r.Context(), groupID, eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	cols := make(map[string]map[string]domain.Decision, len(m))
	for key, col := range m {
		c := make(map[string]domain.Decision, len(col))
		for member, d := range col {
			c[member.String()] = d
		}
		cols[key] = c
	}
	response.Data(w, http.StatusOK, map[string]any{"matrix": cols})
}

// PendingPrompts degrades to an empty list on query failure: this read feeds
// best-effort UI and must never block the app.
func (h *Handler) PendingPrompts(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroup(w, r)
	if !ok {
		return
	}
	memberID, ok := h.requireMember(w, r, groupID)
	if !ok {
		return
	}

	items, err := h.svc.PendingPrompts(r.Context(), groupID, memberID)
	if err != nil {
		logger.WithCtx(r.Context()).Warn().Err(err).Msg("pending query failed; returning empty list")
		items = nil
	}
	if items == nil {
		items = []domain.PendingPrompt{}
	}

	response.Data(w, http.StatusOK, map[string]any{"items": items})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrGroupScopeRequired):
		fail(w, r, http.StatusBadRequest, "group.scope_required", err.Error(), nil)
	case errors.Is(err, domain.ErrNotGroupMember):
		fail(w, r, http.StatusForbidden, "roster.not_member", "you don't have permission; refresh and try again", nil)
	case errors.Is(err, domain.ErrInvalidDecision):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrEventNotInGroup):
		fail(w, r, http.StatusNotFound, "event.not_found", "event not found", nil)
	case errors.Is(err, domain.ErrNoResponse):
		fail(w, r, http.StatusNotFound, "response.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrRetriesExhausted):
		fail(w, r, http.StatusServiceUnavailable, "write.retries_exhausted", "network issue - try again", nil)
	case errors.Is(err, domain.ErrConstraintViolation):
		fail(w, r, http.StatusBadRequest, "request.invalid", "something went wrong", nil)
	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func pathGroup(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil || groupID == uuid.Nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid groupID", map[string]string{
			"group_id": "must be a valid uuid",
		})
		return uuid.Nil, false
	}
	return groupID, true
}

func pathGroupEvent(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	groupID, ok := pathGroup(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid eventID", map[string]string{
			"event_id": "must be a valid uuid",
		})
		return uuid.Nil, uuid.Nil, false
	}
	return groupID, eventID, true
}

func queryDateID(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date_id"))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid date_id", map[string]string{
			"date_id": "must be a valid uuid",
		})
		return nil, false
	}
	return &id, true
}
