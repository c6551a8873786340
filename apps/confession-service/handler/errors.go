package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/httpx"
	"goim-confession/pkg/logger"
)

// writeError 将业务错误映射为HTTP状态码
func (h *HTTPHandler) writeError(c *gin.Context, msg string, err error) {
	ctx := c.Request.Context()

	var (
		validation *model.ValidationError
		limited    *model.RateLimitedError
		notFound   *model.NotFoundError
		invalid    *model.InvalidStateError
		conflict   *model.StoreConflictError
		forbidden  *model.ForbiddenError
	)
	switch {
	case errors.As(err, &validation):
		httpx.Error(c, http.StatusBadRequest, validation.Error())
	case errors.As(err, &limited):
		c.Header("Retry-After", strconv.FormatInt(limited.RemainingSeconds(), 10))
		httpx.Error(c, http.StatusTooManyRequests, limited.Error())
	case errors.As(err, &notFound):
		httpx.Error(c, http.StatusNotFound, notFound.Error())
	case errors.As(err, &invalid):
		httpx.Error(c, http.StatusConflict, invalid.Error())
	case errors.As(err, &forbidden):
		httpx.Error(c, http.StatusForbidden, forbidden.Error())
	case errors.As(err, &conflict):
		h.logger.Warn(ctx, msg, logger.Err(err))
		c.Header("Retry-After", "1")
		httpx.Error(c, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	default:
		h.logger.Error(ctx, msg, logger.Err(err))
		httpx.Error(c, http.StatusInternalServerError, "internal error")
	}
}
