package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch gameerr.KindOf(err) {
	case gameerr.KindNotFound:
		return http.StatusNotFound
	case gameerr.KindConflict:
		return http.StatusConflict
	case gameerr.KindNotAuthorized:
		return http.StatusForbidden
	case gameerr.KindInvalid:
		return http.StatusBadRequest
	case gameerr.KindSupplyUnavailable, gameerr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"kind":  string(gameerr.KindOf(err)),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  string(gameerr.KindInvalid),
	})
}
