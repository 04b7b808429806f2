package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"kjandoc-demoware/core/executor"
	"kjandoc-demoware/core/monitoring"
	"kjandoc-demoware/core/spec"
	"kjandoc-demoware/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxMergeBody bounds the JSON body of a merge request
const maxMergeBody = 1 << 20

// Error codes returned in the "code" field of error responses
const (
	CodeMissingHeaders    = "missing-headers"
	CodeEmptyFile         = "empty-file"
	CodeWrongExtension    = "wrong-extension"
	CodeInvalidJobID      = "invalid-job-id"
	CodeStorageFailed     = "storage-failed"
	CodeBadJSON           = "bad-json"
	CodeMissingFields     = "missing-fields"
	CodeUploadDirMissing  = "upload-dir-missing"
	CodeInvalidMode       = "invalid-mode"
	CodeBadFilename       = "bad-filename"
	CodeFileNotFound      = "file-not-found"
	CodeBinaryUnavailable = "binary-unavailable"
	CodeNotFound          = "not-found"
)

// JobHandler handles upload, merge and status requests
type JobHandler struct {
	uploads  *storage.UploadStore
	executor *executor.MergeExecutor
	metrics  *monitoring.MetricsExporter
	logger   logrus.FieldLogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(
	uploads *storage.UploadStore,
	exec *executor.MergeExecutor,
	metrics *monitoring.MetricsExporter,
	logger logrus.FieldLogger,
) *JobHandler {
	return &JobHandler{
		uploads:  uploads,
		executor: exec,
		metrics:  metrics,
		logger:   logger,
	}
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// UploadResponse represents the response after storing an upload
type UploadResponse struct {
	OK   bool   `json:"ok"`
	File string `json:"file"`
}

// MergeResponse represents the response after starting a merge
type MergeResponse struct {
	OK bool `json:"ok"`
	executor.Submission
}

// Upload handles POST/PUT /api/upload
func (h *JobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	jobID := r.Header.Get("X-Job-Id")
	rawName := r.Header.Get("X-Filename")

	name, err := h.uploads.Put(jobID, rawName, r.ContentLength, r.Body)
	h.metrics.RecordUpload(err == nil)
	if err != nil {
		status, code := classifyUploadError(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to store upload")
		}
		writeError(w, status, code, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"file":   name,
		"bytes":  r.ContentLength,
	}).Debug("Upload stored")

	writeJSON(w, http.StatusOK, UploadResponse{OK: true, File: name})
}

// Merge handles POST /api/merge
func (h *JobHandler) Merge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMergeBody))
	if err != nil {
		h.metrics.RecordMerge(false)
		writeError(w, http.StatusBadRequest, CodeBadJSON, spec.ErrBadJSON)
		return
	}

	req, err := spec.ParseMergeRequest(body)
	if err != nil {
		h.metrics.RecordMerge(false)
		writeError(w, http.StatusBadRequest, CodeBadJSON, spec.ErrBadJSON)
		return
	}

	sub, err := h.executor.Submit(*req)
	h.metrics.RecordMerge(err == nil)
	if err != nil {
		status, code := classifyMergeError(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("job_id", req.JobID).Error("Merge tool unavailable")
		}
		writeError(w, status, code, err)
		return
	}

	writeJSON(w, http.StatusOK, MergeResponse{OK: true, Submission: *sub})
}

// Status handles GET /api/status/{job_id}
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	job, ok := h.executor.Status(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown job", Code: CodeNotFound})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func classifyUploadError(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrMissingHeaders):
		return http.StatusBadRequest, CodeMissingHeaders
	case errors.Is(err, storage.ErrEmptyFile):
		return http.StatusBadRequest, CodeEmptyFile
	case errors.Is(err, storage.ErrWrongExtension):
		return http.StatusBadRequest, CodeWrongExtension
	case errors.Is(err, storage.ErrInvalidJobID):
		return http.StatusBadRequest, CodeInvalidJobID
	default:
		return http.StatusInternalServerError, CodeStorageFailed
	}
}

func classifyMergeError(err error) (int, string) {
	switch {
	case errors.Is(err, executor.ErrMissingFields):
		return http.StatusBadRequest, CodeMissingFields
	case errors.Is(err, executor.ErrUploadDirMissing):
		return http.StatusBadRequest, CodeUploadDirMissing
	case errors.Is(err, executor.ErrInvalidMode):
		return http.StatusBadRequest, CodeInvalidMode
	case errors.Is(err, executor.ErrBadFilename):
		return http.StatusBadRequest, CodeBadFilename
	case errors.Is(err, executor.ErrFileNotFound):
		return http.StatusBadRequest, CodeFileNotFound
	default:
		return http.StatusInternalServerError, CodeBinaryUnavailable
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
