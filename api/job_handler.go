package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/id"
	"github.com/xraph/popgate/job"
)

// ListJobsResponse is the body of GET /v1/jobs.
type ListJobsResponse struct {
	Jobs  []job.Info `json:"jobs"`
	Count int        `json:"count"`
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	state := job.State(r.URL.Query().Get("state"))
	if state != "" && state != job.StatePending && state != job.StateActive {
		writeError(w, http.StatusBadRequest, "invalid state: "+string(state))
		return
	}

	out := make([]job.Info, 0)
	for _, info := range a.gw.Jobs().Snapshot() {
		if state == "" || info.State == state {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: out, Count: len(out)})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}
	j, ok := a.gw.Jobs().Lookup(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j.Info())
}

// evictJob expires a pending job so its identifier can no longer be
// continued.
func (a *API) evictJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	err := a.gw.Jobs().Evict(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, popgate.ErrUnknownIdentifier):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, popgate.ErrResponseConflict):
		writeError(w, http.StatusConflict, "job is not pending")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
