package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindRateLimit:
		return http.StatusTooManyRequests
	case core.KindAuthentication, core.KindConnection:
		return http.StatusBadGateway
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders errors as ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Kind: core.KindOf(err), Message: err.Error()}

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		resp.Kind = core.KindValidation
		if status >= http.StatusInternalServerError {
			resp.Kind = core.KindUnknown
		}
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		} else {
			resp.Message = http.StatusText(status)
		}
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		resp.Kind = core.KindValidation
	case errors.Is(err, storage.ErrDuplicateKey):
		status = http.StatusConflict
		resp.Kind = core.KindValidation
	default:
		status = statusFor(resp.Kind)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "kind", resp.Kind, "err", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		s.logger.Error("error writing error response", "err", err)
	}
}
