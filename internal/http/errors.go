package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
)

// AppError es el error que viaja hasta el cliente. Err queda para logs.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail devuelve una copia con detalle; los errores base no se mutan.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithCause devuelve una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

var (
	ErrBadRequest  = &AppError{Code: "BAD_REQUEST", Message: "invalid request", HTTPStatus: http.StatusBadRequest}
	ErrInvalidJSON = &AppError{Code: "INVALID_JSON", Message: "request body is not valid JSON", HTTPStatus: http.StatusBadRequest}
	ErrNotFound    = &AppError{Code: "NOT_FOUND", Message: "resource not found", HTTPStatus: http.StatusNotFound}
	ErrReadOnly    = &AppError{Code: "READ_ONLY", Message: "repository is read-only", HTTPStatus: http.StatusForbidden}
	ErrConflict    = &AppError{Code: "CONFLICT", Message: "operation conflicts with current state", HTTPStatus: http.StatusConflict}
	ErrSyncBusy    = &AppError{Code: "SYNC_IN_PROGRESS", Message: "a sync is already running", HTTPStatus: http.StatusConflict}
	ErrNotLeader   = &AppError{Code: "NOT_LEADER", Message: "this node is not the raft leader", HTTPStatus: http.StatusServiceUnavailable}
	ErrRateLimited = &AppError{Code: "RATE_LIMITED", Message: "too many requests", HTTPStatus: http.StatusTooManyRequests}
	ErrBackend     = &AppError{Code: "REPOSITORY_ERROR", Message: "a configuration repository failed", HTTPStatus: http.StatusBadGateway}
	ErrInternal    = &AppError{Code: "INTERNAL_SERVER_ERROR", Message: "internal error", HTTPStatus: http.StatusInternalServerError}
)

// FromError traduce errores del core a un AppError.
func FromError(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	switch {
	case errs.IsNotFound(err):
		return ErrNotFound.WithDetail(err.Error()).WithCause(err)
	case errs.IsValidation(err), errors.Is(err, errs.ErrInvalidInput):
		return ErrBadRequest.WithDetail(err.Error()).WithCause(err)
	case errors.Is(err, errs.ErrReadOnly), errors.Is(err, errs.ErrProtectedBranch):
		return ErrReadOnly.WithDetail(err.Error()).WithCause(err)
	case errors.Is(err, errs.ErrSyncInProgress):
		return ErrSyncBusy.WithCause(err)
	case errors.Is(err, errs.ErrNotLeader):
		return ErrNotLeader.WithCause(err)
	case errors.Is(err, errs.ErrAlreadyExists),
		errors.Is(err, errs.ErrDirtyTree),
		errors.Is(err, errs.ErrDivergedBranch),
		errors.Is(err, errs.ErrUnresolvedConflict),
		errors.Is(err, errs.ErrMergeInProgress),
		errors.Is(err, errs.ErrAborted):
		return ErrConflict.WithDetail(err.Error()).WithCause(err)
	case errs.IsRepository(err):
		return ErrBackend.WithDetail(err.Error()).WithCause(err)
	}
	return ErrInternal.WithCause(err)
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError escribe err como JSON con el status que corresponda.
func WriteError(w http.ResponseWriter, err error) {
	app := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(app.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:      app.Code,
		Message:   app.Message,
		Detail:    app.Detail,
		RequestID: rid,
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica el body (máx 1MB). Campos desconocidos no fallan.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "application/json") {
		return ErrBadRequest.WithDetail("Content-Type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrInvalidJSON.WithDetail("empty body")
		}
		return ErrInvalidJSON.WithCause(err)
	}
	return nil
}
