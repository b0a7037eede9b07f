package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
)

// BackupRunner runs backups and connection tests
type BackupRunner interface {
	Backup(ctx context.Context, req backup.BackupRequest) (*backup.BackupResult, error)
	TestConnection(ctx context.Context, req backup.ConnectionTestRequest) (*backup.ConnectionTestResult, error)
}

// Restorer replays stored artifacts
type Restorer interface {
	Restore(ctx context.Context, req backup.RestoreRequest) (*backup.RestoreResult, error)
}

// BackupResponse is the body of a successful POST /api/backup
type BackupResponse struct {
	Status     ledger.Status `json:"status"`
	Location   string        `json:"location"`
	LedgerID   string        `json:"ledgerId"`
	ArtifactID string        `json:"artifactId"`
	Message    string        `json:"message"`
}

// RestoreResponse is the body of a successful POST /api/restore
type RestoreResponse struct {
	Status      ledger.Status `json:"status"`
	ArtifactID  string        `json:"artifactId"`
	LedgerRunID string        `json:"ledgerRunId"`
	Message     string        `json:"message"`
	Restored    []string      `json:"restored"`
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger"`
}

// Handler serves the backup API
type Handler struct {
	backups    BackupRunner
	restores   Restorer
	ledger     ledger.Ledger
	logger     *logging.Logger
	runTimeout time.Duration
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithRunTimeout bounds each backup and restore started over the API; zero means no limit
func WithRunTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.runTimeout = d }
}

// NewHandler creates the API handlers
func NewHandler(backups BackupRunner, restores Restorer, l ledger.Ledger, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	h := &Handler{backups: backups, restores: restores, ledger: l, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// runContext detaches a run from the request, so a client that disconnects
// does not kill a dump or restore tool midway
func (h *Handler) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if h.runTimeout > 0 {
		return context.WithTimeout(ctx, h.runTimeout)
	}
	return context.WithCancel(ctx)
}

// Backup handles POST /api/backup
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	var req backup.BackupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, log, err)
		return
	}
	req.Kind = ledger.Kind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	if err := validateStruct(&req); err != nil {
		respondError(w, log, err)
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	result, err := h.backups.Backup(ctx, req)
	if err != nil {
		respondError(w, log, err)
		return
	}
	respondJSON(w, log, http.StatusOK, BackupResponse{
		Status:     result.Status,
		Location:   result.Location,
		LedgerID:   result.LedgerID,
		ArtifactID: result.Artifact.ArtifactID,
		Message:    result.Message,
	})
}

// Restore handles POST /api/restore
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	var req backup.RestoreRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, log, err)
		return
	}
	if err := validateStruct(&req); err != nil {
		respondError(w, log, err)
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	result, err := h.restores.Restore(ctx, req)
	if err != nil {
		respondError(w, log, err)
		return
	}
	respondJSON(w, log, http.StatusOK, RestoreResponse{
		Status:      result.Status,
		ArtifactID:  result.ArtifactID,
		LedgerRunID: result.LedgerRunID,
		Message:     result.Message,
		Restored:    result.Restored,
	})
}

// TestConnection handles POST /api/backup/test-connection. An unreachable
// database is a successful request with success=false.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	var req backup.ConnectionTestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, log, err)
		return
	}
	if err := validateStruct(&req); err != nil {
		respondError(w, log, err)
		return
	}

	result, err := h.backups.TestConnection(r.Context(), req)
	if err != nil {
		respondError(w, log, err)
		return
	}
	respondJSON(w, log, http.StatusOK, result)
}

// ListLogs handles GET /api/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	filter, err := parseLogsQuery(r)
	if err != nil {
		respondError(w, log, err)
		return
	}
	runs, err := h.ledger.ListRuns(r.Context(), filter)
	if err != nil {
		respondError(w, log, err)
		return
	}
	if runs == nil {
		runs = []ledger.RunLog{}
	}
	respondJSON(w, log, http.StatusOK, runs)
}

// GetLog handles GET /api/logs/{id}
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	run, err := h.ledger.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, log, err)
		return
	}
	respondJSON(w, log, http.StatusOK, run)
}

// ListMetadata handles GET /api/metadata
func (h *Handler) ListMetadata(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	filter, err := parseMetadataQuery(r)
	if err != nil {
		respondError(w, log, err)
		return
	}
	artifacts, err := h.ledger.ListArtifacts(r.Context(), filter)
	if err != nil {
		respondError(w, log, err)
		return
	}
	if artifacts == nil {
		artifacts = []ledger.ArtifactMetadata{}
	}
	respondJSON(w, log, http.StatusOK, artifacts)
}

// GetMetadata handles GET /api/metadata/{id}
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	artifact, err := h.ledger.GetArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, log, err)
		return
	}
	respondJSON(w, log, http.StatusOK, artifact)
}

// GetLineage handles GET /api/metadata/{id}/lineage
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	chain, err := h.ledger.Lineage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, log, err)
		return
	}
	respondJSON(w, log, http.StatusOK, chain)
}

// Health handles GET /api/health. It reports DOWN when the ledger cannot be queried.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	if _, err := h.ledger.ListRuns(r.Context(), ledger.RunFilter{Limit: 1}); err != nil {
		log.WithError(err).Warn("Ledger health check failed")
		respondJSON(w, log, http.StatusServiceUnavailable, HealthResponse{Status: "DOWN", Ledger: "unavailable"})
		return
	}
	respondJSON(w, log, http.StatusOK, HealthResponse{Status: "UP", Ledger: "ok"})
}
