package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"goim-confession/apps/confession-service/converter"
	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/service"
	"goim-confession/pkg/auth"
	tracecontext "goim-confession/pkg/context"
	"goim-confession/pkg/logger"
)

// ConfessionServiceName gRPC服务全名
const ConfessionServiceName = "confession.v1.ConfessionService"

// ConfessionServiceServer 投稿gRPC服务
type ConfessionServiceServer interface {
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AddComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckCooldown(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckRateLimit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler gRPC处理器，调用者身份由认证拦截器写入context
type GRPCHandler struct {
	svc       *service.Service
	converter *converter.Converter
	logger    logger.Logger
}

// NewGRPCHandler 创建gRPC处理器
func NewGRPCHandler(svc *service.Service, log logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		svc:       svc,
		converter: converter.NewConverter(),
		logger:    log,
	}
}

// Register 注册到gRPC服务器
func (h *GRPCHandler) Register(server *grpc.Server) {
	server.RegisterService(&confessionServiceDesc, h)
}

var confessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ConfessionServiceName,
	HandlerType: (*ConfessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Submit", ConfessionServiceServer.Submit),
		unaryMethod("Approve", ConfessionServiceServer.Approve),
		unaryMethod("Reject", ConfessionServiceServer.Reject),
		unaryMethod("AddComment", ConfessionServiceServer.AddComment),
		unaryMethod("CheckCooldown", ConfessionServiceServer.CheckCooldown),
		unaryMethod("CheckRateLimit", ConfessionServiceServer.CheckRateLimit),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "confession/v1/confession.proto",
}

type unaryCall func(ConfessionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryMethod 解码请求并经过拦截器链
func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ConfessionServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ConfessionServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// Submit 提交投稿
func (h *GRPCHandler) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}

	confession, err := h.svc.SubmitConfession(ctx, caller, h.converter.StringField(req, "text"))
	if err != nil {
		return nil, h.toStatus(ctx, "Failed to submit confession via gRPC", err)
	}
	return h.converter.Response(map[string]*structpb.Value{
		"confession": h.converter.StructValue(h.converter.ConfessionModelToProto(confession)),
	}), nil
}

// Approve 审核通过，仅管理员
func (h *GRPCHandler) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	moderator, err := h.admin(ctx)
	if err != nil {
		return nil, err
	}

	confession, number, err := h.svc.ApproveConfession(ctx, h.converter.StringField(req, "id"), moderator)
	if err != nil {
		return nil, h.toStatus(ctx, "Failed to approve confession via gRPC", err)
	}
	return h.converter.Response(map[string]*structpb.Value{
		"confession":      h.converter.StructValue(h.converter.ConfessionModelToProto(confession)),
		"sequence_number": structpb.NewNumberValue(float64(number)),
	}), nil
}

// Reject 拒绝投稿，仅管理员
func (h *GRPCHandler) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	moderator, err := h.admin(ctx)
	if err != nil {
		return nil, err
	}

	confession, err := h.svc.RejectConfession(ctx,
		h.converter.StringField(req, "id"), moderator, h.converter.StringField(req, "reason"))
	if err != nil {
		return nil, h.toStatus(ctx, "Failed to reject confession via gRPC", err)
	}
	return h.converter.Response(map[string]*structpb.Value{
		"confession": h.converter.StructValue(h.converter.ConfessionModelToProto(confession)),
	}), nil
}

// AddComment 发表评论
func (h *GRPCHandler) AddComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}

	comment, err := h.svc.AddComment(ctx,
		h.converter.StringField(req, "confession_id"), caller, h.converter.StringField(req, "text"))
	if err != nil {
		return nil, h.toStatus(ctx, "Failed to add comment via gRPC", err)
	}
	return h.converter.Response(map[string]*structpb.Value{
		"comment": h.converter.StructValue(h.converter.CommentModelToProto(comment)),
	}), nil
}

// CheckCooldown 查询调用者的投稿冷却
func (h *GRPCHandler) CheckCooldown(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}

	st, err := h.svc.CheckCooldown(ctx, caller)
	if err != nil {
		return nil, h.toStatus(ctx, "Failed to check cooldown via gRPC", err)
	}
	return h.converter.ThrottleStatusModelToProto(st), nil
}

// CheckRateLimit 查询调用者的评论限流
func (h *GRPCHandler) CheckRateLimit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := h.caller(ctx)
	if err != nil {
		return nil, err
	}

	st, err := h.svc.CheckRateLimit(ctx, caller)
	if err != nil {
		return nil, h.toStatus(ctx, "Failed to check rate limit via gRPC", err)
	}
	return h.converter.ThrottleStatusModelToProto(st), nil
}

func (h *GRPCHandler) caller(ctx context.Context) (string, error) {
	userID := tracecontext.GetUserID(ctx)
	if userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing caller identity")
	}
	return userID, nil
}

func (h *GRPCHandler) admin(ctx context.Context) (string, error) {
	userID, err := h.caller(ctx)
	if err != nil {
		return "", err
	}
	if tracecontext.GetRole(ctx) != auth.RoleAdmin {
		h.logger.Warn(ctx, "Admin required", logger.F("userID", userID))
		return "", status.Error(codes.PermissionDenied, "admin only")
	}
	return userID, nil
}

// toStatus 将业务错误映射为gRPC状态码
func (h *GRPCHandler) toStatus(ctx context.Context, msg string, err error) error {
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
		return status.Error(codes.InvalidArgument, validation.Error())
	case errors.As(err, &limited):
		return status.Error(codes.ResourceExhausted, limited.Error())
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, notFound.Error())
	case errors.As(err, &invalid):
		return status.Error(codes.FailedPrecondition, invalid.Error())
	case errors.As(err, &forbidden):
		return status.Error(codes.PermissionDenied, forbidden.Error())
	case errors.As(err, &conflict):
		h.logger.Warn(ctx, msg, logger.Err(err))
		return status.Error(codes.Unavailable, "temporarily unavailable, please retry")
	default:
		h.logger.Error(ctx, msg, logger.Err(err))
		return status.Error(codes.Internal, "internal error")
	}
}
