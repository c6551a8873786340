package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	tracecontext "goim-confession/pkg/context"
)

// RequestIDHeader 请求ID头
const RequestIDHeader = "X-Request-ID"

// OTelMiddleware OpenTelemetry中间件配置
type OTelMiddleware struct {
	serviceName string
}

// NewOTelMiddleware 创建OpenTelemetry中间件
func NewOTelMiddleware(serviceName string) *OTelMiddleware {
	return &OTelMiddleware{serviceName: serviceName}
}

// GinMiddleware 返回otelgin中间件与上下文增强，按顺序注册
func (m *OTelMiddleware) GinMiddleware() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		otelgin.Middleware(m.serviceName),
		func(c *gin.Context) {
			ctx := m.enhanceContext(c.Request.Context(), c)
			c.Request = c.Request.WithContext(ctx)
			c.Header(RequestIDHeader, tracecontext.GetRequestID(ctx))
			c.Next()
		},
	}
}

// enhanceContext 写入请求ID、追踪ID与客户端IP
func (m *OTelMiddleware) enhanceContext(ctx context.Context, c *gin.Context) context.Context {
	traceID := c.GetHeader("X-Trace-ID")
	if traceID == "" {
		if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		}
	}
	ctx = tracecontext.WithTraceID(ctx, traceID)
	ctx = tracecontext.WithRequestID(ctx, c.GetHeader(RequestIDHeader))
	ctx = tracecontext.WithClientIP(ctx, c.ClientIP())

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("http.route", c.FullPath()),
			attribute.String("http.client_ip", c.ClientIP()),
			attribute.String("service.name", m.serviceName),
		)
	}
	return ctx
}

// GRPCUnaryServerInterceptor 从metadata提取请求ID与追踪ID
func (m *OTelMiddleware) GRPCUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = m.enhanceGRPCContext(ctx, info.FullMethod)
		return handler(ctx, req)
	}
}

// GRPCStreamServerInterceptor 流式版本
func (m *OTelMiddleware) GRPCStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := m.enhanceGRPCContext(ss.Context(), info.FullMethod)
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (m *OTelMiddleware) enhanceGRPCContext(ctx context.Context, method string) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if traceIDs := md.Get("x-trace-id"); len(traceIDs) > 0 {
			ctx = tracecontext.WithTraceID(ctx, traceIDs[0])
		}
		if requestIDs := md.Get("x-request-id"); len(requestIDs) > 0 {
			ctx = tracecontext.WithRequestID(ctx, requestIDs[0])
		}
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("rpc.method", method),
			attribute.String("rpc.service", m.serviceName),
		)
	}
	return ctx
}
