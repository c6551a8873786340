package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"goim-confession/pkg/httpx"
	"goim-confession/pkg/logger"
)

type rejectRequest struct {
	Reason string `json:"reason"`
}

type broadcastRequest struct {
	Text string `json:"text"`
}

// ListPending 待审核队列
func (h *HTTPHandler) ListPending(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, total, err := h.svc.ListPending(c.Request.Context(), page, pageSize)
	if err != nil {
		h.writeError(c, "List pending failed", err)
		return
	}
	httpx.OK(c, httpx.PageData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// ApproveConfession 审核通过并分配序号
func (h *HTTPHandler) ApproveConfession(c *gin.Context) {
	confession, number, err := h.svc.ApproveConfession(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		h.writeError(c, "Approve confession failed", err)
		return
	}
	httpx.OK(c, gin.H{"confession": confession, "number": number})
}

// RejectConfession 拒绝投稿，理由可为空
func (h *HTTPHandler) RejectConfession(c *gin.Context) {
	ctx := c.Request.Context()
	var req rejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn(ctx, "Invalid reject request", logger.Err(err))
			httpx.Error(c, http.StatusBadRequest, "invalid request format")
			return
		}
	}

	confession, err := h.svc.RejectConfession(ctx, c.Param("id"), callerID(c), req.Reason)
	if err != nil {
		h.writeError(c, "Reject confession failed", err)
		return
	}
	httpx.OK(c, confession)
}

// GetModerationLogs 审核日志
func (h *HTTPHandler) GetModerationLogs(c *gin.Context) {
	logs, err := h.svc.GetModerationLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Get moderation logs failed", err)
		return
	}
	httpx.OK(c, logs)
}

// Broadcast 向所有已知用户广播
func (h *HTTPHandler) Broadcast(c *gin.Context) {
	ctx := c.Request.Context()
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(ctx, "Invalid broadcast request", logger.Err(err))
		httpx.Error(c, http.StatusBadRequest, "invalid request format")
		return
	}

	result, err := h.svc.Broadcast(ctx, req.Text)
	if err != nil {
		h.writeError(c, "Broadcast failed", err)
		return
	}
	httpx.WriteObject(c, http.StatusAccepted, result)
}

// BlockUser 封禁用户
func (h *HTTPHandler) BlockUser(c *gin.Context) {
	if err := h.svc.BlockUser(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "Block user failed", err)
		return
	}
	httpx.OK(c, gin.H{"user_id": c.Param("id"), "blocked": true})
}

// UnblockUser 解除封禁
func (h *HTTPHandler) UnblockUser(c *gin.Context) {
	if err := h.svc.UnblockUser(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "Unblock user failed", err)
		return
	}
	httpx.OK(c, gin.H{"user_id": c.Param("id"), "blocked": false})
}
