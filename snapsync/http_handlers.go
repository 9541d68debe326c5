// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// DefaultMaxBodyBytes bounds a sync request body
const DefaultMaxBodyBytes int64 = 10 << 20

// Syncer is the service surface the HTTP handlers need. *SyncService implements it.
type Syncer interface {
	Sync(ctx context.Context, req *SyncRequest) (*SyncResult, error)
	LatestLogsPerClient(ctx context.Context) ([]LogSummary, error)
	ListAttempts(ctx context.Context, clientID string, limit int) ([]SyncAttempt, error)
}

// HTTPSyncHandlers provides HTTP handlers for the sync API
type HTTPSyncHandlers struct {
	service      Syncer
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewHTTPSyncHandlers creates a new instance of sync handlers. maxBodyBytes <= 0 uses
// DefaultMaxBodyBytes.
func NewHTTPSyncHandlers(service Syncer, logger *slog.Logger, maxBodyBytes int64) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPSyncHandlers{
		service:      service,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleSync processes snapshot submissions
func (h *HTTPSyncHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	result, err := h.service.Sync(r.Context(), &req)
	if err != nil {
		h.writeSyncError(w, err, req.ClientID)
		return
	}

	h.writeJSON(w, http.StatusOK, result.ToResponse())
}

func (h *HTTPSyncHandlers) writeSyncError(w http.ResponseWriter, err error, clientID string) {
	var (
		validationErr *ValidationError
		ingestionErr  *IngestionError
		infraErr      *InfrastructureError
	)
	switch {
	case errors.As(err, &validationErr):
		if errors.Is(err, ErrSnapshotTooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, ErrSnapshotTooLarge.Error(), validationErr.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, ErrMissingRequiredFields.Error(), validationErr.Error())
	case errors.Is(err, ErrAttemptExists):
		h.writeError(w, http.StatusConflict, ErrAttemptExists.Error(), "")
	case errors.As(err, &ingestionErr):
		h.logger.Error("Failed to process sync", "error", ingestionErr.Detail(), "client_id", clientID)
		h.writeError(w, http.StatusInternalServerError, ingestionErr.Error(), ingestionErr.Detail())
	case errors.As(err, &infraErr):
		h.logger.Error("Sync infrastructure unavailable", "error", infraErr.Detail(), "client_id", clientID)
		h.writeError(w, http.StatusServiceUnavailable, infraErr.Error(), infraErr.Detail())
	case errors.Is(err, ErrServiceClosed):
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "")
	default:
		h.logger.Error("Failed to process sync", "error", err, "client_id", clientID)
		h.writeError(w, http.StatusInternalServerError, "sync failed", "")
	}
}

// HandleSyncLogs returns the latest attempt per client
func (h *HTTPSyncHandlers) HandleSyncLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	logs, err := h.service.LatestLogsPerClient(r.Context())
	if err != nil {
		h.logger.Error("Error fetching sync logs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch sync logs", "")
		return
	}
	if logs == nil {
		logs = []LogSummary{}
	}

	h.writeJSON(w, http.StatusOK, SyncLogsResponse{Success: true, Logs: logs})
}

// HandleClientAttempts returns the attempt history of the client named in the path
// ({clientId} wildcard). Optional ?limit= (1..1000).
func (h *HTTPSyncHandlers) HandleClientAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	clientID := r.PathValue("clientId")
	if clientID == "" {
		h.writeError(w, http.StatusBadRequest, ErrMissingRequiredFields.Error(), "clientId")
		return
	}

	limit := defaultAttemptsLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v < 1 || v > 1000 {
			h.writeError(w, http.StatusBadRequest, "invalid request", "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	attempts, err := h.service.ListAttempts(r.Context(), clientID, limit)
	if err != nil {
		h.logger.Error("Error fetching sync attempts", "error", err, "client_id", clientID)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch sync attempts", "")
		return
	}
	if attempts == nil {
		attempts = []SyncAttempt{}
	}

	h.writeJSON(w, http.StatusOK, SyncAttemptsResponse{Success: true, Attempts: attempts})
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, message, details string) {
	h.writeJSON(w, statusCode, ErrorResponse{
		Success: false,
		Error:   message,
		Details: details,
	})

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error", message,
		"details", details)
}
