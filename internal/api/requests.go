package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/storage"
)

// LogsQuery holds the query parameters of GET /api/logs
type LogsQuery struct {
	Action     string `json:"action" validate:"omitempty,oneof=BACKUP RESTORE CONNECTION_TEST"`
	Status     string `json:"status" validate:"omitempty,oneof=STARTED SUCCESS FAILED"`
	TargetName string `json:"targetName"`
	EngineType string `json:"engineType"`
	StartDate  string `json:"startDate" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate    string `json:"endDate" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit      int    `json:"limit" validate:"min=0,max=1000"`
}

// MetadataQuery holds the query parameters of GET /api/metadata
type MetadataQuery struct {
	TargetName       string `json:"targetName"`
	Status           string `json:"status" validate:"omitempty,oneof=STARTED SUCCESS FAILED"`
	EngineType       string `json:"engineType"`
	Kind             string `json:"kind" validate:"omitempty,oneof=FULL INCREMENTAL"`
	StorageType      string `json:"storageType"`
	Compressed       string `json:"compressed" validate:"omitempty,boolean"`
	ParentArtifactID string `json:"parentArtifactId"`
	StartDate        string `json:"startDate" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate          string `json:"endDate" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit            int    `json:"limit" validate:"min=0,max=1000"`
}

func parseLogsQuery(r *http.Request) (ledger.RunFilter, error) {
	q := r.URL.Query()
	req := LogsQuery{
		Action:     upper(q.Get("action")),
		Status:     upper(q.Get("status")),
		TargetName: strings.TrimSpace(q.Get("targetName")),
		EngineType: engine.NormalizeType(q.Get("engineType")),
		StartDate:  q.Get("startDate"),
		EndDate:    q.Get("endDate"),
	}
	var err error
	if req.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return ledger.RunFilter{}, err
	}
	if err := validateStruct(&req); err != nil {
		return ledger.RunFilter{}, err
	}

	filter := ledger.RunFilter{
		Action:     ledger.Action(req.Action),
		Status:     ledger.Status(req.Status),
		TargetName: req.TargetName,
		EngineType: req.EngineType,
		Limit:      req.Limit,
	}
	filter.StartDate, filter.EndDate, err = dateRange(req.StartDate, req.EndDate)
	return filter, err
}

func parseMetadataQuery(r *http.Request) (ledger.ArtifactFilter, error) {
	q := r.URL.Query()
	req := MetadataQuery{
		TargetName:       strings.TrimSpace(q.Get("targetName")),
		Status:           upper(q.Get("status")),
		EngineType:       engine.NormalizeType(q.Get("engineType")),
		Kind:             upper(q.Get("kind")),
		StorageType:      storage.NormalizeType(q.Get("storageType")),
		Compressed:       strings.TrimSpace(q.Get("compressed")),
		ParentArtifactID: strings.TrimSpace(q.Get("parentArtifactId")),
		StartDate:        q.Get("startDate"),
		EndDate:          q.Get("endDate"),
	}
	var err error
	if req.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return ledger.ArtifactFilter{}, err
	}
	if err := validateStruct(&req); err != nil {
		return ledger.ArtifactFilter{}, err
	}

	filter := ledger.ArtifactFilter{
		TargetName:       req.TargetName,
		Status:           ledger.Status(req.Status),
		EngineType:       req.EngineType,
		Kind:             ledger.Kind(req.Kind),
		StorageType:      req.StorageType,
		ParentArtifactID: req.ParentArtifactID,
		Limit:            req.Limit,
	}
	if req.Compressed != "" {
		compressed, _ := strconv.ParseBool(req.Compressed)
		filter.Compressed = &compressed
	}
	filter.StartDate, filter.EndDate, err = dateRange(req.StartDate, req.EndDate)
	return filter, err
}

func dateRange(start, end string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if start != "" {
		t, _ := time.Parse(time.RFC3339, start)
		from = &t
	}
	if end != "" {
		t, _ := time.Parse(time.RFC3339, end)
		to = &t
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, apperrors.NewValidationError("endDate must not be before startDate", nil)
	}
	return from, to, nil
}

func intParam(value, name string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apperrors.NewValidationError(name+" must be an integer", err)
	}
	return n, nil
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
