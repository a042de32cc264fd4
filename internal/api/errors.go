package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/receipt-reconciler/internal/common"
)

const userKey = "recon.user_id"

// errorBody is the wire shape of a failed call.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    common.Code `json:"code"`
	Message string      `json:"message"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code common.Code) int {
	switch code {
	case common.CodeInvalidArgument:
		return http.StatusBadRequest
	case common.CodeNotFound:
		return http.StatusNotFound
	case common.CodePermissionDenied:
		return http.StatusForbidden
	case common.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// abort writes err and stops the handler chain. Internal failures are
// logged and their details withheld from the caller.
func abort(c *gin.Context, err error) {
	code := common.CodeOf(err)
	message := common.MessageOf(err)

	switch {
	case errors.Is(err, context.Canceled):
		message = "request cancelled"
	case code == common.CodeInternal:
		slog.Error("Request failed",
			"path", c.FullPath(),
			"user_id", c.GetString(userKey),
			"error", err)
		message = "internal error"
	}

	c.AbortWithStatusJSON(StatusFor(code), errorBody{Error: errorDetail{Code: code, Message: message}})
}

// requireUser rejects calls without a caller identity.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			abort(c, common.PermissionDenied("missing %s header", UserHeader))
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}
