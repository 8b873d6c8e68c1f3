package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/partyware/go-partysync/internal/types"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// NewSyncError maps the engine's error taxonomy onto HTTP statuses:
// rejected preconditions are conflicts, a disconnected socket is
// service unavailable, collaborator failures are bad gateways.
func NewSyncError(err error) *ApiError {
	var status int
	switch types.KindOf(err) {
	case types.KindPreconditionFailed:
		status = http.StatusConflict
	case types.KindTransportUnavailable:
		status = http.StatusServiceUnavailable
	case types.KindExternalServiceFailure:
		status = http.StatusBadGateway
	case types.KindTimeout:
		status = http.StatusGatewayTimeout
	default:
		return NewInternalServerError(err)
	}

	return &ApiError{
		StatusCode: status,
		Message:    err.Error(),
		Err:        err,
	}
}
