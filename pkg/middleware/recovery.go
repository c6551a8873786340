package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"goim-confession/pkg/httpx"
	"goim-confession/pkg/logger"
)

// Recovery 捕获处理链中的panic，记录堆栈后返回统一的500响应
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error(c.Request.Context(), "Handler panicked",
				logger.F("panic", r),
				logger.F("route", c.FullPath()),
				logger.F("method", c.Request.Method),
				logger.F("stack", string(debug.Stack())))
			if c.Writer.Written() {
				c.Abort()
				return
			}
			httpx.Abort(c, http.StatusInternalServerError, "internal server error")
		}()

		c.Next()
	}
}
