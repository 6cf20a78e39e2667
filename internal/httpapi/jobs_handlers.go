package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/scheduler"
)

type JobsHandler struct {
	Runner JobRunner
}

type submitJobRequest struct {
	Source   string                `json:"source"`
	Criteria domain.SearchCriteria `json:"criteria"`
	MaxPages int                   `json:"max_pages"`
}

func (h JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON")
		return
	}

	src := domain.DataSource(req.Source)
	if !src.Valid() {
		WriteError(w, r, http.StatusBadRequest, "unknown_source",
			"source must be redfin, zillow, or apartments")
		return
	}

	job, err := h.Runner.Submit(r.Context(), src, req.Criteria, req.MaxPages)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownSource):
			WriteError(w, r, http.StatusBadRequest, "source_disabled", err.Error())
		case errors.Is(err, scheduler.ErrQueueFull):
			WriteError(w, r, http.StatusTooManyRequests, "queue_full", err.Error())
		default:
			WriteError(w, r, http.StatusBadRequest, "invalid_job", err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

func (h JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	jobs, err := h.Runner.List(r.Context(), limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

func (h JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.Runner.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			WriteError(w, r, http.StatusNotFound, "not_found", "no such job")
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Cancel stops a pending or running job. Finished jobs cannot be cancelled.
func (h JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.Runner.Cancel(r.Context(), id)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, map[string]any{"cancelled": id})
	case errors.Is(err, scheduler.ErrJobNotFound):
		WriteError(w, r, http.StatusNotFound, "not_found", "no such job")
	case errors.Is(err, scheduler.ErrJobFinished):
		WriteError(w, r, http.StatusConflict, "job_finished", "job already finished")
	default:
		WriteError(w, r, http.StatusInternalServerError, "cancel_failed", err.Error())
	}
}

// Archive hides a finished job from listings; its row and counters are kept.
func (h JobsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Runner.Archive(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			WriteError(w, r, http.StatusNotFound, "not_found", "no such job")
			return
		}
		WriteError(w, r, http.StatusConflict, "archive_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"archived": id})
}
