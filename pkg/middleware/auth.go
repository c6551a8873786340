package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"goim-confession/pkg/auth"
	tracecontext "goim-confession/pkg/context"
	"goim-confession/pkg/httpx"
)

// gin上下文中的键
const (
	ContextUserID = "userID"
	ContextRole   = "role"
)

// AuthMiddleware 认证中间件配置
type AuthMiddleware struct {
	logger kratoslog.Logger
	jwtKey string
	admins map[string]struct{}
}

// NewAuthMiddleware 创建认证中间件，adminIDs中的用户即使持有成员令牌也视为管理员
func NewAuthMiddleware(logger kratoslog.Logger, jwtKey string, adminIDs []string) *AuthMiddleware {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &AuthMiddleware{
		logger: logger,
		jwtKey: jwtKey,
		admins: admins,
	}
}

// GinAuth Gin认证中间件，要求有效令牌
func (am *AuthMiddleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractTokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Missing authorization token", "path", c.Request.URL.Path)
			httpx.Abort(c, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := auth.ValidateJWT(token, am.jwtKey)
		if err != nil {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Invalid token", "error", err, "path", c.Request.URL.Path)
			httpx.Abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		role := am.roleOf(claims)
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, role)
		ctx := tracecontext.WithUserID(c.Request.Context(), claims.UserID)
		ctx = tracecontext.WithRole(ctx, role)
		c.Request = c.Request.WithContext(ctx)

		am.logger.Log(kratoslog.LevelDebug, "msg", "User authenticated", "userID", claims.UserID, "role", role, "path", c.Request.URL.Path)
		c.Next()
	}
}

// RequireAdmin 必须在GinAuth之后使用
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != auth.RoleAdmin {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Admin required", "userID", c.GetString(ContextUserID), "path", c.Request.URL.Path)
			httpx.Abort(c, http.StatusForbidden, "admin only")
			return
		}
		c.Next()
	}
}

// GRPCAuth gRPC认证拦截器
func (am *AuthMiddleware) GRPCAuth() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if shouldSkipGRPCAuth(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := am.authenticateGRPC(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// GRPCStreamAuth gRPC流认证拦截器
func (am *AuthMiddleware) GRPCStreamAuth() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if shouldSkipGRPCAuth(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := am.authenticateGRPC(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (am *AuthMiddleware) authenticateGRPC(ctx context.Context, method string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		am.logger.Log(kratoslog.LevelWarn, "msg", "Missing metadata", "method", method)
		return nil, status.Errorf(codes.Unauthenticated, "Missing metadata")
	}
	tokens := md.Get("authorization")
	if len(tokens) == 0 {
		am.logger.Log(kratoslog.LevelWarn, "msg", "Missing authorization token", "method", method)
		return nil, status.Errorf(codes.Unauthenticated, "Missing authorization token")
	}

	claims, err := auth.ValidateJWT(extractTokenFromHeader(tokens[0]), am.jwtKey)
	if err != nil {
		am.logger.Log(kratoslog.LevelWarn, "msg", "Invalid token", "error", err, "method", method)
		return nil, status.Errorf(codes.Unauthenticated, "Invalid token")
	}

	ctx = tracecontext.WithUserID(ctx, claims.UserID)
	return tracecontext.WithRole(ctx, am.roleOf(claims)), nil
}

func (am *AuthMiddleware) roleOf(claims *auth.Claims) string {
	if claims.IsAdmin() {
		return auth.RoleAdmin
	}
	if _, ok := am.admins[claims.UserID]; ok {
		return auth.RoleAdmin
	}
	return auth.RoleMember
}

// extractTokenFromHeader 支持 "Bearer token" 和直接的 "token" 格式
func extractTokenFromHeader(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return authHeader
}

// shouldSkipGRPCAuth 健康检查不需要认证
func shouldSkipGRPCAuth(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

// wrappedServerStream 包装的服务器流
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context 返回包装的上下文
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
