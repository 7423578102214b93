package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

type handler struct {
	trigger   engine.Trigger
	store     *store.Store
	scheduler Scheduler
}

type errorResponse struct {
	Error string `json:"error"`
}

// AuditResponse is the body of GET /audits/{id}.
type AuditResponse struct {
	Audit  models.Audit   `json:"audit"`
	Phases []models.Phase `json:"phases"`
}

// ScheduleResponse is the body of PUT .../schedule.
type ScheduleResponse struct {
	Schedule          *models.ScheduleConfig `json:"schedule"`
	NextScheduledScan *time.Time             `json:"next_scheduled_scan"`
}

type findingPatch struct {
	Status models.FindingStatus `json:"status"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// storeError maps store sentinels to responses; anything else is a 500.
func storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("store error")
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	res := h.trigger.TriggerScan(r.Context(), provider, id, models.TriggerManual)
	switch {
	case res.Success:
		writeJSON(w, r, http.StatusAccepted, res)
	case errors.Is(res.Err, engine.ErrAuditInProgress):
		writeJSON(w, r, http.StatusConflict, res)
	case errors.Is(res.Err, store.ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, res)
	case errors.Is(res.Err, credentials.ErrMalformedSecret):
		writeJSON(w, r, http.StatusBadRequest, res)
	default:
		zerolog.Ctx(r.Context()).Error().Err(res.Err).Str("account_id", id).Msg("trigger scan")
		writeJSON(w, r, http.StatusInternalServerError, res)
	}
}

// SetSchedule stores a schedule for the account; a JSON null body
// disables scheduling.
func (h *handler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, r, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var cfg *models.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	next, err := h.scheduler.Enable(r.Context(), provider, chi.URLParam(r, "id"), cfg)
	if errors.Is(err, models.ErrInvalidSchedule) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ScheduleResponse{Schedule: cfg, NextScheduledScan: next})
}

func (h *handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	a, err := h.store.Audits.Get(ctx, id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	phases, err := h.store.Phases.ListByAudit(ctx, id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, AuditResponse{Audit: *a, Phases: phases})
}

// DeleteAudit removes a finished audit with its phases and findings.
func (h *handler) DeleteAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	a, err := h.store.Audits.Get(ctx, id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if a.Status == models.AuditRunning {
		writeError(w, r, http.StatusConflict, "audit is still running")
		return
	}
	if err := h.store.Audits.Delete(ctx, id); err != nil {
		storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFindings returns an audit's findings, optionally filtered by the
// severity and status query parameters.
func (h *handler) ListFindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.store.Audits.Get(ctx, id); err != nil {
		storeError(w, r, err)
		return
	}
	fs, err := h.store.Findings.ListByAudit(ctx, id)
	if err != nil {
		storeError(w, r, err)
		return
	}

	sev := models.Severity(r.URL.Query().Get("severity"))
	status := models.FindingStatus(r.URL.Query().Get("status"))
	out := make([]models.Finding, 0, len(fs))
	for _, f := range fs {
		if sev != "" && f.Severity != sev {
			continue
		}
		if status != "" && f.Status != status {
			continue
		}
		out = append(out, f)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// UpdateFinding changes a finding's status. Any other field in the body is
// rejected; findings are otherwise immutable.
func (h *handler) UpdateFinding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var p findingPatch
	if err := dec.Decode(&p); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if !p.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid status "+string(p.Status))
		return
	}

	if err := h.store.Findings.UpdateStatus(r.Context(), id, p.Status); err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"id": id, "status": string(p.Status)})
}
