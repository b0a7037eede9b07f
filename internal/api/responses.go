package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	apperrors "multidb-backup/internal/errors"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, log logrus.FieldLogger, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.WithError(err).Error("Failed to write JSON response")
	}
}

// respondError maps err to a status code and writes it as {code, message}
func respondError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	code := errorCode(err)
	status := statusFor(code)

	entry := log.WithFields(logrus.Fields{"code": code, "status": status, "error": sanitizeLogValue(err.Error())})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	respondJSON(w, log, status, ErrorResponse{Code: string(code), Message: err.Error()})
}

// codeInternal is reported for failures that carry no reported error kind
const codeInternal apperrors.ErrorType = "INTERNAL"

// errorCode is the kind of failure below the operation wrapper, so a
// BACKUP_FAILED wrapping a validation problem is reported as VALIDATION
func errorCode(err error) apperrors.ErrorType {
	if code := apperrors.ReportedType(err); code != apperrors.ErrorTypeUnknown {
		return code
	}
	return codeInternal
}

func statusFor(code apperrors.ErrorType) int {
	switch code {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeUnsupportedEngine, apperrors.ErrorTypeUnsupportedStorage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a single JSON document into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewValidationError("failed to read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return apperrors.NewValidationError("request body is empty", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid JSON body: %v", err), err)
	}
	return nil
}

// sanitizeLogValue replaces control characters so request data cannot forge log lines
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
