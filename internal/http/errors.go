package http

import (
	"errors"
	"net/http"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

// InitialBalancePath is where an uninitialized account is sent.
const InitialBalancePath = "/api/initial-balance"

// writeServiceError maps service errors to HTTP responses. Unknown errors
// are logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		uninit *core.UninitializedAccountError
		valErr *core.ValidationError
		nf     *core.NotFoundError
		authz  *core.AuthorizationError
	)

	switch {
	case errors.As(err, &uninit):
		NewJSONResponse().
			Status(http.StatusConflict).
			Header("Location", InitialBalancePath).
			JSON(ErrorBody{Error: "initial balance required", Redirect: InitialBalancePath}).
			Write(w)
	case errors.As(err, &valErr):
		NewJSONResponse().
			Status(http.StatusUnprocessableEntity).
			JSON(ErrorBody{Error: valErr.Message, Field: valErr.Field}).
			Write(w)
	case errors.As(err, &nf):
		NotFoundError(nf.Error()).Write(w)
	case errors.As(err, &authz):
		ErrorResponse(http.StatusForbidden, "transaction belongs to another user").Write(w)
	case errors.Is(err, core.ErrInvalidCredentials):
		UnauthorizedError(core.ErrInvalidCredentials.Error()).Write(w)
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		InternalServerError().Write(w)
	}
}

func writeUnauthorized(w http.ResponseWriter, _ *http.Request, reason string) {
	UnauthorizedError(reason).Write(w)
}
