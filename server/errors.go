package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fluxserve/fluxruntime"
)

// Error kinds that exist only at the HTTP layer.
const (
	kindUnavailable  = "unavailable"
	kindUnauthorized = "unauthorized"
	kindNotFound     = "not_found"
)

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeError(c *gin.Context, status int, kind, message string, code int) {
	c.JSON(status, errorBody{Error: errorDetail{Kind: kind, Message: message, Code: code}})
}

// statusFor maps a Service error to an HTTP status.
//
//	validation                   400
//	not admitted (ctx ended)     503
//	engine init, session closed  503
//	engine init, generation, io  500
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch fluxruntime.KindOf(err) {
	case fluxruntime.KindValidation:
		return http.StatusBadRequest
	case fluxruntime.KindEngineInit:
		if errors.Is(err, fluxruntime.ErrSessionClosed) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with its kind, message and engine code.
func writeServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	var fe *fluxruntime.Error
	switch {
	case errors.As(err, &fe):
		writeError(c, status, fe.Kind.String(), fe.Message, fe.Code)
	case status == http.StatusServiceUnavailable:
		writeError(c, status, kindUnavailable, "request was not admitted before it was cancelled", 0)
	default:
		writeError(c, status, fluxruntime.KindUnknown.String(), err.Error(), 0)
	}
}
