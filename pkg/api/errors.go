package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/models"
	"github.com/iagenerativa/hlcs/pkg/queue"
)

// errorBody is the uniform error envelope. Internal detail never leaks:
// the message comes from the typed error, and unknown errors collapse to
// a generic internal message.
type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// writeError maps a pipeline error to its HTTP status and envelope.
func writeError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	body := errorBody{Code: string(kind), Message: err.Error()}

	var status int
	switch kind {
	case models.KindInvalidInput:
		status = http.StatusBadRequest
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindPrecondition:
		status = http.StatusConflict
	case models.KindUnauthorized:
		status = http.StatusUnauthorized
	case models.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
		body.RetryAfter = int(queue.DefaultRetryAfter.Seconds())
	case models.KindTimeout:
		status = http.StatusGatewayTimeout
	default:
		slog.Error("Unexpected pipeline error", "error", err)
		status = http.StatusInternalServerError
		body.Message = "internal error"
	}
	c.JSON(status, body)
}
