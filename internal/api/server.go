// Package api exposes the import pipeline over HTTP.
//
// The caller's identity comes from the X-User-ID header. Authentication
// happens in front of this service.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"statement-import-service/internal/importer"
	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// UserIDHeader names the caller
const UserIDHeader = "X-User-ID"

// MaxUploadBytes caps direct uploads
const MaxUploadBytes = 10 << 20

// Pipeline is the part of the orchestrator the API drives
type Pipeline interface {
	InitiateImport(ctx context.Context, req importer.InitiateRequest) (*importer.InitiateResponse, error)
	OnRawFileArrived(ctx context.Context, bucket, key string) error
	ConfirmImport(ctx context.Context, req importer.ConfirmRequest) (*importer.ConfirmResponse, error)
	GetImportStatus(ctx context.Context, accountID, uploadID string) (*models.ImportRecord, error)
	RetryImport(ctx context.Context, userID, accountID, uploadID string) (*models.ImportRecord, error)
}

// Uploads receives raw files sent to URLs issued by the in-memory blob store
type Uploads interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Server holds the HTTP handlers
type Server struct {
	pipeline Pipeline
	uploads  Uploads
	now      func() time.Time
	logger   logger.Logger
}

// NewServer creates the API. uploads may be nil, in which case the direct
// upload route is not mounted.
func NewServer(pipeline Pipeline, uploads Uploads, log logger.Logger) *Server {
	return &Server{
		pipeline: pipeline,
		uploads:  uploads,
		now:      time.Now,
		logger:   logger.OrGlobal(log).WithComponent("api"),
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /accounts/{accountId}/imports", s.initiateImport)
	mux.HandleFunc("GET /accounts/{accountId}/imports/{uploadId}", s.getImport)
	mux.HandleFunc("POST /accounts/{accountId}/imports/{uploadId}/confirm", s.confirmImport)
	mux.HandleFunc("POST /accounts/{accountId}/imports/{uploadId}/retry", s.retryImport)
	mux.HandleFunc("POST /notifications/raw-file", s.rawFileArrived)
	if s.uploads != nil {
		mux.HandleFunc("PUT /blobs/{bucket}/{key...}", s.uploadBlob)
	}
	mux.HandleFunc("GET /health", s.health)

	return Chain(mux,
		RequestID,
		Logging(s.logger),
		Recovery(s.logger),
	)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

// initiateImport handles POST /accounts/{accountId}/imports
func (s *Server) initiateImport(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req importer.InitiateRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	req.UserID = userID
	req.AccountID = r.PathValue("accountId")

	resp, err := s.pipeline.InitiateImport(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// getImport handles GET /accounts/{accountId}/imports/{uploadId}
func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	record, err := s.pipeline.GetImportStatus(r.Context(), r.PathValue("accountId"), r.PathValue("uploadId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := importer.Authorize(record, userID); err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// confirmImport handles POST /accounts/{accountId}/imports/{uploadId}/confirm
func (s *Server) confirmImport(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req importer.ConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	req.UserID = userID
	req.AccountID = r.PathValue("accountId")
	req.UploadID = r.PathValue("uploadId")

	resp, err := s.pipeline.ConfirmImport(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, resp)
}

// retryImport handles POST /accounts/{accountId}/imports/{uploadId}/retry
func (s *Server) retryImport(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	record, err := s.pipeline.RetryImport(r.Context(), userID, r.PathValue("accountId"), r.PathValue("uploadId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, record)
}

// RawFileNotification is the storage event body
type RawFileNotification struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// rawFileArrived handles POST /notifications/raw-file
func (s *Server) rawFileArrived(w http.ResponseWriter, r *http.Request) {
	var event RawFileNotification
	if err := decodeBody(r, &event); err != nil {
		WriteError(w, err)
		return
	}
	if event.Bucket == "" {
		WriteError(w, errors.ValidationError(errors.CodeMissingField, "bucket", event.Bucket, nil))
		return
	}
	if event.Name == "" {
		WriteError(w, errors.ValidationError(errors.CodeMissingField, "name", event.Name, nil))
		return
	}

	if err := s.pipeline.OnRawFileArrived(r.Context(), event.Bucket, event.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadBlob handles PUT /blobs/{bucket}/{key...}. Storing the file fires
// the raw-file notification inline; an analysis failure is recorded on the
// import, not returned to the uploader.
func (s *Server) uploadBlob(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		WriteError(w, errors.Wrap(err, errors.CategoryValidation, errors.CodeMissingField, "upload body could not be read"))
		return
	}

	if err := s.uploads.Put(r.Context(), bucket, key, data); err != nil {
		s.fail(w, r, errors.DependencyError(errors.CodeBlobStore, "store_upload", err))
		return
	}

	log := s.logger.WithFields(logger.Fields{
		"request_id": RequestIDFrom(r.Context()),
		"bucket":     bucket,
		"key":        key,
		"bytes":      len(data),
	})
	log.Info("Raw file stored")

	if err := s.pipeline.OnRawFileArrived(r.Context(), bucket, key); err != nil {
		log.WithError(err).Warn("Raw file notification failed")
	}

	w.WriteHeader(http.StatusOK)
}

// fail logs server-side failures and writes the public error
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if importErr, ok := errors.AsImportError(err); ok {
		status = importErr.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(logger.Fields{
			"request_id": RequestIDFrom(r.Context()),
			"path":       r.URL.Path,
		}).Error("Request failed")
	}
	WriteError(w, err)
}

func callerID(r *http.Request) (string, error) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		return "", errors.ValidationError(errors.CodeMissingField, UserIDHeader, userID, nil)
	}
	return userID, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeMissingField, "request body is not valid JSON").
			WithSuggestion("send a JSON object matching the endpoint's request shape")
	}
	return nil
}
