package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// ErrorResponse is the standard OAuth2 error shape
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// renderError translates a service error into an OAuth2-shaped response.
// Internal details are logged, not returned; authentication-adjacent
// failures share one generic shape so callers cannot probe what exists.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.MapErrorCodeToHTTPStatus(code)

	if errors.IsFatal(err) {
		slog.Error("Fatal error serving request", "path", r.URL.Path, "code", code, "error", err)
	} else if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Info("Request rejected", "path", r.URL.Path, "code", code, "error", err)
	}

	resp := ErrorResponse{Error: oauthErrorCode(code)}
	if status < http.StatusInternalServerError {
		if appErr, ok := err.(*errors.Error); ok {
			resp.ErrorDescription = appErr.Message
		}
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func oauthErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInvalidGrant, errors.ErrCodeCodeConsumed, errors.ErrCodeFlowExpired,
		errors.ErrCodeConfirmMismatch:
		return "invalid_grant"
	case errors.ErrCodeInvalidClient:
		return "invalid_client"
	case errors.ErrCodeInvalidScope:
		return "invalid_scope"
	case errors.ErrCodeUnauthorized, errors.ErrCodePKCEMismatch, errors.ErrCodeTokenExpired,
		errors.ErrCodeTokenInvalid, errors.ErrCodeTokenRevoked, errors.ErrCodeUnknownKid:
		return "invalid_token"
	case errors.ErrCodeForbidden, errors.ErrCodeStateMismatch:
		return "access_denied"
	case errors.ErrCodeNotFound:
		return "not_found"
	case errors.ErrCodeAlreadyExists, errors.ErrCodeConflict:
		return "conflict"
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidRedirect:
		return "invalid_request"
	default:
		return "server_error"
	}
}
