package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencourt/courtyard/internal/booking"
	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
	"github.com/opencourt/courtyard/internal/repository"
	"github.com/opencourt/courtyard/internal/rules"
	"github.com/opencourt/courtyard/internal/strikes"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	service *booking.Service
	custom  *rules.CustomEngine
	strikes *strikes.Tracker
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, service *booking.Service, custom *rules.CustomEngine, tracker *strikes.Tracker, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		service: service,
		custom:  custom,
		strikes: tracker,
		version: version,
	}
}

// EvaluateResponse is the response for POST /evaluate and the decision part
// of POST /bookings.
type EvaluateResponse struct {
	Allowed    bool                 `json:"allowed"`
	Violations []domain.RuleMessage `json:"violations"`
	Warnings   []domain.RuleMessage `json:"warnings"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func (h *Handler) decodeBookingRequest(w http.ResponseWriter, r *http.Request) (*domain.BookingRequest, bool) {
	var req domain.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return nil, false
	}
	req.FacilityID = GetFacilityID(r.Context())
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return nil, false
	}
	if req.CourtID == "" || req.Date == "" || req.StartTime == "" || req.EndTime == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "courtId, date, startTime and endTime are required"})
		return nil, false
	}
	return &req, true
}

// Evaluate handles POST /evaluate: a dry-run of the full rule set with no
// side effects.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req, ok := h.decodeBookingRequest(w, r)
	if !ok {
		return
	}

	decision, err := h.service.Evaluate(ctx, req, GetRole(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := decisionResponse(decision)
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	writeJSON(w, http.StatusOK, resp)
}

// BookingResponse is the response for POST /bookings.
type BookingResponse struct {
	Reservation *domain.Reservation `json:"reservation,omitempty"`
	Decision    EvaluateResponse    `json:"decision"`
}

// CreateBooking handles POST /bookings: evaluate, then commit atomically.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req, ok := h.decodeBookingRequest(w, r)
	if !ok {
		return
	}

	res, decision, err := h.service.Book(ctx, req, GetRole(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := BookingResponse{Reservation: res, Decision: decisionResponse(decision)}
	resp.Decision.Metadata.TraceID = GetTraceID(ctx)
	resp.Decision.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Decision.Metadata.Version = h.version

	status := http.StatusCreated
	if !decision.Allowed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// GetBooking handles GET /bookings/{id}.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.repo.GetReservation(ctx, GetFacilityID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelBooking handles POST /bookings/{id}/cancel.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		UserID string `json:"userId"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	// Admins may cancel on behalf of any user.
	if GetRole(ctx) == domain.RoleAdmin {
		body.UserID = ""
	}

	res, late, err := h.service.Cancel(ctx, GetFacilityID(ctx), chi.URLParam(r, "id"), body.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reservation":  res,
		"lateCancel":   late,
		"strikeIssued": late,
	})
}

// ListRules handles GET /rules: catalog introspection, optionally filtered
// by category.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	category := domain.RuleCategory(r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, catalog.Definitions(category))
}

// EffectiveRules handles GET /rules/effective: the merged, facility-level
// view of every rule.
func (h *Handler) EffectiveRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	effective, err := h.service.EffectiveRules(ctx, GetFacilityID(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, effective)
}

// RuleOverrideRequest is the body for PUT /rules/{code} and the element
// type for POST /rules/bulk.
type RuleOverrideRequest struct {
	Code          domain.RuleCode  `json:"code,omitempty"`
	Enabled       *bool            `json:"enabled,omitempty"`
	Severity      *domain.Severity `json:"severity,omitempty"`
	Params        json.RawMessage  `json:"params,omitempty"`
	CustomMessage string           `json:"customMessage,omitempty"`
}

func (o *RuleOverrideRequest) toConfig(facilityID string, code domain.RuleCode) *domain.FacilityRuleConfig {
	return &domain.FacilityRuleConfig{
		FacilityID:    facilityID,
		Code:          code,
		Enabled:       o.Enabled,
		Severity:      o.Severity,
		Params:        o.Params,
		CustomMessage: o.CustomMessage,
	}
}

// PutRule handles PUT /rules/{code}: validate and store one override.
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)
	code := domain.RuleCode(chi.URLParam(r, "code"))

	var body RuleOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	cfg := body.toConfig(facilityID, code)
	if err := catalog.ValidateOverride(cfg); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, cfg); err != nil {
		h.writeError(w, err)
		return
	}
	h.service.InvalidateRules(ctx, facilityID)

	effective, err := catalog.Resolve(code, cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, effective)
}

// DeleteRule handles DELETE /rules/{code}: drop the override, reverting to
// catalog defaults.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)
	code := domain.RuleCode(chi.URLParam(r, "code"))

	if _, ok := catalog.Get(code); !ok {
		h.writeError(w, domain.ErrUnknownRule)
		return
	}
	if err := h.repo.DeleteRuleConfig(ctx, facilityID, code); err != nil {
		h.writeError(w, err)
		return
	}
	h.service.InvalidateRules(ctx, facilityID)
	w.WriteHeader(http.StatusNoContent)
}

// BulkSetRules handles POST /rules/bulk: validate every override first,
// then apply all of them in one transaction. A single bad row rejects the
// whole batch.
func (h *Handler) BulkSetRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)

	var body []RuleOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	configs := make([]*domain.FacilityRuleConfig, 0, len(body))
	for i := range body {
		cfg := body[i].toConfig(facilityID, body[i].Code)
		if err := catalog.ValidateOverride(cfg); err != nil {
			h.writeError(w, err)
			return
		}
		configs = append(configs, cfg)
	}

	if err := h.repo.BulkSetRuleConfigs(ctx, facilityID, configs); err != nil {
		h.writeError(w, err)
		return
	}
	h.service.InvalidateRules(ctx, facilityID)

	effective, err := h.service.EffectiveRules(ctx, facilityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, effective)
}

// CustomRuleRequest is the body for POST /rules/custom.
type CustomRuleRequest struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Message    string `json:"message"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

// CreateCustomRule handles POST /rules/custom.
func (h *Handler) CreateCustomRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)

	var body CustomRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if body.Name == "" || body.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and expression are required"})
		return
	}
	if err := h.custom.Validate(body.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rule := &domain.CustomRule{
		ID:         uuid.New().String(),
		FacilityID: facilityID,
		Name:       body.Name,
		Expression: body.Expression,
		Message:    body.Message,
		Enabled:    body.Enabled == nil || *body.Enabled,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.repo.SaveCustomRule(ctx, rule); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// ListCustomRules handles GET /rules/custom.
func (h *Handler) ListCustomRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.repo.ListCustomRules(ctx, GetFacilityID(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteCustomRule handles DELETE /rules/custom/{id}.
func (h *Handler) DeleteCustomRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")
	if err := h.repo.DeleteCustomRule(ctx, GetFacilityID(ctx), ruleID); err != nil {
		h.writeError(w, err)
		return
	}
	h.custom.Invalidate(ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)
	settings, err := h.repo.GetFacilitySettings(ctx, facilityID)
	if errors.Is(err, repository.ErrNotFound) {
		settings = domain.DefaultFacilitySettings(facilityID)
	} else if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// PutSettings handles PUT /settings.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)

	settings := domain.DefaultFacilitySettings(facilityID)
	if err := json.NewDecoder(r.Body).Decode(settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	settings.FacilityID = facilityID
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown timezone " + settings.Timezone})
		return
	}
	if err := h.repo.SaveFacilitySettings(ctx, settings); err != nil {
		h.writeError(w, err)
		return
	}
	h.service.InvalidateRules(ctx, facilityID)
	writeJSON(w, http.StatusOK, settings)
}

// CreateTier handles POST /tiers.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var tier domain.MembershipTier
	if err := json.NewDecoder(r.Body).Decode(&tier); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	tier.FacilityID = GetFacilityID(ctx)
	if tier.ID == "" {
		tier.ID = uuid.New().String()
	}
	if tier.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if err := h.repo.SaveTier(ctx, &tier); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tier)
}

// ListTiers handles GET /tiers.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tiers, err := h.repo.ListTiers(ctx, GetFacilityID(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

// AssignTier handles POST /tiers/assign.
func (h *Handler) AssignTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var a domain.TierAssignment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	a.FacilityID = GetFacilityID(ctx)
	if a.UserID == "" || a.TierID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and tierId are required"})
		return
	}
	if err := h.repo.AssignTier(ctx, &a); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateHousehold handles POST /households.
func (h *Handler) CreateHousehold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var hh domain.Household
	if err := json.NewDecoder(r.Body).Decode(&hh); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	hh.FacilityID = GetFacilityID(ctx)
	if hh.ID == "" {
		hh.ID = uuid.New().String()
	}
	if err := h.repo.CreateHousehold(ctx, &hh); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hh)
}

// AddHouseholdMember handles POST /households/{id}/members. The household
// size cap is enforced inside the insert transaction.
func (h *Handler) AddHouseholdMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)

	var m domain.HouseholdMember
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	m.HouseholdID = chi.URLParam(r, "id")
	if m.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}
	if m.VerificationStatus == "" {
		m.VerificationStatus = domain.VerificationPending
	}

	maxMembers := 0
	effective, err := h.service.EffectiveRules(ctx, facilityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	for i := range effective {
		if effective[i].Code == domain.RuleHouseholdSize && effective[i].Enabled {
			var p catalog.HouseholdSizeParams
			if err := effective[i].DecodeParams(&p); err == nil {
				maxMembers = p.MaxMembers
			}
		}
	}

	if err := h.repo.AddHouseholdMember(ctx, &m, maxMembers); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// StrikeRequest is the body for POST /strikes.
type StrikeRequest struct {
	UserID string            `json:"userId"`
	Type   domain.StrikeType `json:"type"`
	Note   string            `json:"note,omitempty"`
}

// CreateStrike handles POST /strikes: a manual strike from facility staff.
func (h *Handler) CreateStrike(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body StrikeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}
	if body.Type == "" {
		body.Type = domain.StrikeManual
	}

	strike := &domain.Strike{
		FacilityID: GetFacilityID(ctx),
		UserID:     body.UserID,
		Type:       body.Type,
		Note:       body.Note,
	}
	if err := h.strikes.Issue(ctx, strike); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, strike)
}

// ListStrikes handles GET /strikes?userId=...&since=...: the raw ledger
// for one user, revoked entries included.
func (h *Handler) ListStrikes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId query parameter is required"})
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC 3339"})
			return
		}
		since = parsed
	}

	list, err := h.repo.ListStrikes(ctx, GetFacilityID(ctx), userID, since)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.Strike{}
	}
	writeJSON(w, http.StatusOK, list)
}

// RevokeStrike handles POST /strikes/{id}/revoke.
func (h *Handler) RevokeStrike(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.strikes.Revoke(ctx, GetFacilityID(ctx), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LockoutStatus handles GET /strikes/status?userId=...: the derived lockout
// view for one user.
func (h *Handler) LockoutStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := GetFacilityID(ctx)
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId query parameter is required"})
		return
	}

	settings, err := h.repo.GetFacilitySettings(ctx, facilityID)
	if errors.Is(err, repository.ErrNotFound) {
		settings = domain.DefaultFacilitySettings(facilityID)
	} else if err != nil {
		h.writeError(w, err)
		return
	}

	status, err := h.strikes.Status(ctx, settings, userID, time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns readiness status: all collaborators must answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	if err := h.repo.Ping(ctx); err != nil {
		checks["repository"] = err.Error()
		ready = false
	} else {
		checks["repository"] = "ok"
	}
	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		ready = false
	} else {
		checks["cache"] = "ok"
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			checks["bus"] = err.Error()
			ready = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func decisionResponse(d *domain.Decision) EvaluateResponse {
	resp := EvaluateResponse{
		Allowed:    d.Allowed,
		Violations: d.Violations,
		Warnings:   d.Warnings,
	}
	if resp.Violations == nil {
		resp.Violations = []domain.RuleMessage{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []domain.RuleMessage{}
	}
	return resp
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownRule):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidConfig):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrContextUnavailable):
		slog.Error("evaluation context unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "evaluation context unavailable"})
	default:
		// Unknown failures stay opaque to the caller.
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
