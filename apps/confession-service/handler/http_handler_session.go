package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/httpx"
	"goim-confession/pkg/logger"
)

type inputRequest struct {
	Text string `json:"text"`
}

// GetSession 当前会话
func (h *HTTPHandler) GetSession(c *gin.Context) {
	session, err := h.svc.GetSession(c.Request.Context(), callerID(c))
	if err != nil {
		h.writeError(c, "Get session failed", err)
		return
	}
	httpx.OK(c, session)
}

// EnterSession 进入等待输入的状态
func (h *HTTPHandler) EnterSession(c *gin.Context) {
	ctx := c.Request.Context()
	var req model.Session
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(ctx, "Invalid session request", logger.Err(err))
		httpx.Error(c, http.StatusBadRequest, "invalid request format")
		return
	}

	session, err := h.svc.EnterSession(ctx, callerID(c), callerIsAdmin(c), req)
	if err != nil {
		h.writeError(c, "Enter session failed", err)
		return
	}
	httpx.OK(c, session)
}

// HandleInput 按会话状态处理文本
func (h *HTTPHandler) HandleInput(c *gin.Context) {
	ctx := c.Request.Context()
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(ctx, "Invalid input request", logger.Err(err))
		httpx.Error(c, http.StatusBadRequest, "invalid request format")
		return
	}

	result, err := h.svc.HandleInput(ctx, callerID(c), callerIsAdmin(c), req.Text)
	if err != nil {
		h.writeError(c, "Session input failed", err)
		return
	}
	httpx.OK(c, result)
}

// ClearSession 回到idle
func (h *HTTPHandler) ClearSession(c *gin.Context) {
	if err := h.svc.ClearSession(c.Request.Context(), callerID(c)); err != nil {
		h.writeError(c, "Clear session failed", err)
		return
	}
	httpx.OK(c, model.IdleSession())
}
