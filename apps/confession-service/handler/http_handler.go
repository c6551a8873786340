package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/service"
	"goim-confession/pkg/auth"
	"goim-confession/pkg/httpx"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/middleware"
)

// HTTPHandler HTTP处理器
type HTTPHandler struct {
	svc    *service.Service
	auth   *middleware.AuthMiddleware
	logger logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, authMiddleware *middleware.AuthMiddleware, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:    svc,
		auth:   authMiddleware,
		logger: log,
	}
}

// RegisterRoutes 注册路由
func (h *HTTPHandler) RegisterRoutes(engine *gin.Engine) {
	api := engine.Group("/api/v1")

	// 公开查询
	{
		api.GET("/confessions/:id", h.GetConfession)
		api.GET("/confessions/number/:number", h.GetConfessionByNumber)
		api.GET("/confessions/hashtag/:tag", h.ListByHashtag)
		api.GET("/confessions/:id/comments", h.ListComments)
		api.GET("/users/:id/stats", h.GetUserStats)
	}

	member := api.Group("", h.auth.GinAuth())
	{
		member.POST("/confessions", h.SubmitConfession)
		member.POST("/confessions/:id/comments", h.AddComment)

		member.GET("/throttle/cooldown", h.CheckCooldown)
		member.GET("/throttle/comments", h.CheckRateLimit)

		member.GET("/session", h.GetSession)
		member.POST("/session/enter", h.EnterSession)
		member.POST("/session/input", h.HandleInput)
		member.DELETE("/session", h.ClearSession)
	}

	admin := api.Group("/admin", h.auth.GinAuth(), h.auth.RequireAdmin())
	{
		admin.GET("/confessions/pending", h.ListPending)
		admin.POST("/confessions/:id/approve", h.ApproveConfession)
		admin.POST("/confessions/:id/reject", h.RejectConfession)
		admin.GET("/confessions/:id/logs", h.GetModerationLogs)

		admin.POST("/broadcast", h.Broadcast)
		admin.POST("/users/:id/block", h.BlockUser)
		admin.POST("/users/:id/unblock", h.UnblockUser)
	}
}

type submitRequest struct {
	Text string `json:"text"`
}

type commentRequest struct {
	Text string `json:"text"`
}

// SubmitConfession 提交投稿
func (h *HTTPHandler) SubmitConfession(c *gin.Context) {
	ctx := c.Request.Context()
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(ctx, "Invalid submit request", logger.Err(err))
		httpx.Error(c, http.StatusBadRequest, "invalid request format")
		return
	}

	confession, err := h.svc.SubmitConfession(ctx, callerID(c), req.Text)
	if err != nil {
		h.writeError(c, "Submit confession failed", err)
		return
	}
	httpx.Created(c, confession)
}

// GetConfession 按ID获取投稿
func (h *HTTPHandler) GetConfession(c *gin.Context) {
	confession, err := h.svc.GetConfession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Get confession failed", err)
		return
	}
	httpx.OK(c, confession)
}

// GetConfessionByNumber 按公开序号获取投稿
func (h *HTTPHandler) GetConfessionByNumber(c *gin.Context) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil {
		httpx.Error(c, http.StatusBadRequest, "number must be an integer")
		return
	}
	confession, err := h.svc.GetConfessionByNumber(c.Request.Context(), number)
	if err != nil {
		h.writeError(c, "Get confession by number failed", err)
		return
	}
	httpx.OK(c, confession)
}

// ListByHashtag 按话题查询
func (h *HTTPHandler) ListByHashtag(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, total, err := h.svc.ListByHashtag(c.Request.Context(), c.Param("tag"), page, pageSize)
	if err != nil {
		h.writeError(c, "List by hashtag failed", err)
		return
	}
	httpx.OK(c, httpx.PageData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// ListComments 评论列表
func (h *HTTPHandler) ListComments(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, total, err := h.svc.ListComments(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		h.writeError(c, "List comments failed", err)
		return
	}
	httpx.OK(c, httpx.PageData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// AddComment 发表评论
func (h *HTTPHandler) AddComment(c *gin.Context) {
	ctx := c.Request.Context()
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(ctx, "Invalid comment request", logger.Err(err))
		httpx.Error(c, http.StatusBadRequest, "invalid request format")
		return
	}

	comment, err := h.svc.AddComment(ctx, c.Param("id"), callerID(c), req.Text)
	if err != nil {
		h.writeError(c, "Add comment failed", err)
		return
	}
	httpx.Created(c, comment)
}

// GetUserStats 用户计数
func (h *HTTPHandler) GetUserStats(c *gin.Context) {
	stats, err := h.svc.GetUserStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Get user stats failed", err)
		return
	}
	httpx.OK(c, stats)
}

// CheckCooldown 查询投稿冷却
func (h *HTTPHandler) CheckCooldown(c *gin.Context) {
	status, err := h.svc.CheckCooldown(c.Request.Context(), callerID(c))
	if err != nil {
		h.writeError(c, "Check cooldown failed", err)
		return
	}
	httpx.OK(c, status)
}

// CheckRateLimit 查询评论限流
func (h *HTTPHandler) CheckRateLimit(c *gin.Context) {
	status, err := h.svc.CheckRateLimit(c.Request.Context(), callerID(c))
	if err != nil {
		h.writeError(c, "Check rate limit failed", err)
		return
	}
	httpx.OK(c, status)
}

func callerID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}

func callerIsAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextRole) == auth.RoleAdmin
}

// pageParams 解析分页参数，非法值回落到默认值
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = model.DefaultPage
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(model.DefaultPageSize)))
	if err != nil || pageSize < 1 {
		pageSize = model.DefaultPageSize
	}
	if pageSize > model.MaxPageSize {
		pageSize = model.MaxPageSize
	}
	return page, pageSize
}
