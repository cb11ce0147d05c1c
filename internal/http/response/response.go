package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/platform/apierr"
	"github.com/yungbote/botforge-backend/internal/platform/ctxutil"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func envelope(c *gin.Context, code, msg string) ErrorEnvelope {
	e := APIError{Message: msg, Code: code}
	if m := ctxutil.RequestMetaFrom(c.Request.Context()); m != nil {
		e.RequestID = m.RequestID
	}
	return ErrorEnvelope{Error: e}
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, envelope(c, code, msg))
}

// RespondAPIError maps err through apierr. 5xx causes are recorded on the gin
// context for the request log and replaced by the status text in the body.
func RespondAPIError(c *gin.Context, defaultCode string, err error) {
	status := apierr.StatusOf(err)
	code := apierr.CodeOf(err, defaultCode)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, envelope(c, code, http.StatusText(status)))
		return
	}
	RespondError(c, status, code, err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// RespondAccepted is used when work was queued rather than done.
func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
