package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/courier"
)

type handler struct {
	courier       *courier.Courier
	store         jobAndSupplierReader
	retrier       *courier.Retrier
	downloadQueue chan<- downloadTask
}

// jobAndSupplierReader is the subset of *store.Store the handlers need.
type jobAndSupplierReader interface {
	GetJob(ctx context.Context, id int64) (core.Job, error)
	GetSupplier(ctx context.Context, id int64) (core.Supplier, error)
}

func newHandler(c *courier.Courier, st jobAndSupplierReader, retrier *courier.Retrier, downloadQueue chan<- downloadTask) *handler {
	return &handler{courier: c, store: st, retrier: retrier, downloadQueue: downloadQueue}
}

type enqueueRequest struct {
	SupplierID       int64  `json:"supplier_id"`
	SourceDescriptor string `json:"source_descriptor"`
}

// POST /enqueue
func (h *handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	jobID, err := h.courier.Enqueue(r.Context(), req.SupplierID, req.SourceDescriptor)
	if err != nil {
		writeCourierError(w, err)
		return
	}

	supplier, err := h.store.GetSupplier(r.Context(), req.SupplierID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueued but failed to read supplier")
		return
	}

	h.downloadQueue <- downloadTask{
		JobID:            jobID,
		SupplierID:       req.SupplierID,
		SourceDescriptor: req.SourceDescriptor,
		Kind:             supplier.SourceKind,
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

// POST /retry/{id}
func (h *handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	jobID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	delay, err := h.retrier.PrepareRetry(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrRetriesExhausted):
			writeError(w, http.StatusConflict, "max retries exhausted")
		case errors.Is(err, core.ErrJobNotTerminal):
			writeError(w, http.StatusConflict, "job is not in failed phase")
		default:
			writeError(w, http.StatusInternalServerError, "retry failed")
		}
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retry scheduled but failed to read job")
		return
	}

	supplier, err := h.store.GetSupplier(r.Context(), job.SupplierID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retry scheduled but failed to read supplier")
		return
	}

	task := downloadTask{
		JobID:            jobID,
		SupplierID:       job.SupplierID,
		SourceDescriptor: job.SourceDescriptor,
		Kind:             supplier.SourceKind,
	}
	time.AfterFunc(delay, func() { h.downloadQueue <- task })

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID, "retry_delay_s": delay.Seconds()})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeCourierError(w http.ResponseWriter, err error) {
	switch core.Kind(err) {
	case core.KindInvalidSource:
		writeError(w, http.StatusBadRequest, err.Error())
	case core.KindSupplierDisabled:
		writeError(w, http.StatusForbidden, err.Error())
	case core.KindStalled: // back-pressure, see jobqueue.go
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
