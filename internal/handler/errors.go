package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"veltrix/internal/errs"
)

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err in the response envelope. The full error is attached to
// the gin context for the access log; callers only ever see errs.Public.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusFor(err)
	var meta map[string]any
	if field := fieldOf(err); field != "" {
		meta = map[string]any{"field": field}
	}
	Error(c, status, errs.Public(err), meta)
}

func fieldOf(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e != nil && e.Kind == errs.KindValidation {
		return e.Field
	}
	return ""
}

func badJSON(c *gin.Context, err error) {
	Fail(c, errs.New(errs.KindValidation, errs.WithMessage("malformed JSON body"), errs.WithCause(err)))
}
