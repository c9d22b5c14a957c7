// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"rideshare/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeRideError maps the ride error taxonomy onto HTTP statuses. Store
// failures are not echoed to the client.
func writeRideError(c *gin.Context, err error) {
	kind := ride.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(c, status, errorResponse{Error: msg, Kind: string(kind)})
}

func statusFor(kind ride.Kind) int {
	switch kind {
	case ride.KindValidation:
		return http.StatusBadRequest
	case ride.KindNotFound:
		return http.StatusNotFound
	case ride.KindForbidden:
		return http.StatusForbidden
	case ride.KindInvalidTransition, ride.KindConflict:
		return http.StatusConflict
	case ride.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// bindOptionalJSON decodes the body when one was sent.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
