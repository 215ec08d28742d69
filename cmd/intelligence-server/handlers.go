package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/intelligence"
)

type handler struct {
	engine *intelligence.Engine
}

func newHandler(e *intelligence.Engine) *handler {
	return &handler{engine: e}
}

type analyzeFileRequest struct {
	JobID      int64  `json:"job_id"`
	SupplierID int64  `json:"supplier_id"`
	FilePath   string `json:"file_path"`
	FileKind   string `json:"file_kind"`
}

// POST /analyze/file
func (h *handler) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	var req analyzeFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.FilePath == "" || req.SupplierID == 0 {
		writeError(w, http.StatusBadRequest, "file_path and supplier_id are required")
		return
	}

	analysisID := h.engine.Start(r.Context(), intelligence.Request{
		JobID:      req.JobID,
		SupplierID: req.SupplierID,
		FilePath:   req.FilePath,
		Kind:       core.SourceKind(req.FileKind),
	})

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"analysis_id": analysisID,
	})
}

// GET /analyze/status/{id}
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok := h.engine.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown analysis id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":    status.Phase,
		"progress": status.Progress,
		"counters": map[string]interface{}{
			"rows_seen":       status.Counters.RowsSeen,
			"rows_extracted":  status.Counters.RowsExtracted,
			"rows_persisted":  status.Counters.RowsPersisted,
			"errors_by_kind":  status.Counters.ErrorsByKind,
		},
		"result": status.Result,
	})
}

// POST /analyze/vision is reserved for image-based catalogs; out of scope
// for the current pipeline (see Non-goals).
func (h *handler) handleVision(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "vision analysis is not implemented")
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
