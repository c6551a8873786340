package handler

import (
	"context"
	"net"
	"testing"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/auth"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/middleware"
)

type grpcClient struct {
	conn *grpc.ClientConn
}

func newGRPCClient(t *testing.T) *grpcClient {
	t.Helper()
	svc, _ := newTestService(t)

	authMiddleware := middleware.NewAuthMiddleware(kratoslog.DefaultLogger, testSecret, []string{"root"})
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(authMiddleware.GRPCAuth()))
	NewGRPCHandler(svc, logger.NewNop()).Register(server)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &grpcClient{conn: conn}
}

func (c *grpcClient) call(t *testing.T, method, tok string, fields map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if tok != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
	}
	resp := new(structpb.Struct)
	err = c.conn.Invoke(ctx, "/"+ConfessionServiceName+"/"+method, req, resp)
	return resp, err
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), err.Error())
}

func TestGRPC_SubmitAndModerate(t *testing.T) {
	c := newGRPCClient(t)
	alice := token(t, "alice", auth.RoleMember)
	admin := token(t, "root", auth.RoleMember)

	_, err := c.call(t, "Submit", "", map[string]interface{}{"text": "no token"})
	requireCode(t, codes.Unauthenticated, err)

	_, err = c.call(t, "Submit", alice, map[string]interface{}{"text": "   "})
	requireCode(t, codes.InvalidArgument, err)

	resp, err := c.call(t, "Submit", alice, map[string]interface{}{"text": "I borrowed the stapler #office"})
	require.NoError(t, err)
	confession := resp.Fields["confession"].GetStructValue()
	require.NotNil(t, confession)
	id := confession.Fields["id"].GetStringValue()
	assert.NotEmpty(t, id)
	assert.Equal(t, model.ConfessionStatusPending, confession.Fields["status"].GetStringValue())
	_, hasNumber := confession.Fields["sequence_number"]
	assert.False(t, hasNumber)
	_, hasAuthor := confession.Fields["author_id"]
	assert.False(t, hasAuthor)

	_, err = c.call(t, "Submit", alice, map[string]interface{}{"text": "right away again"})
	requireCode(t, codes.ResourceExhausted, err)

	resp, err = c.call(t, "CheckCooldown", alice, nil)
	require.NoError(t, err)
	assert.False(t, resp.Fields["allowed"].GetBoolValue())
	assert.Positive(t, resp.Fields["remaining_seconds"].GetNumberValue())

	_, err = c.call(t, "Approve", alice, map[string]interface{}{"id": id})
	requireCode(t, codes.PermissionDenied, err)

	_, err = c.call(t, "Approve", admin, map[string]interface{}{"id": "missing"})
	requireCode(t, codes.NotFound, err)

	resp, err = c.call(t, "Approve", admin, map[string]interface{}{"id": id})
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Fields["sequence_number"].GetNumberValue())
	assert.Equal(t, model.ConfessionStatusApproved,
		resp.Fields["confession"].GetStructValue().Fields["status"].GetStringValue())

	_, err = c.call(t, "Reject", admin, map[string]interface{}{"id": id, "reason": "too late"})
	requireCode(t, codes.FailedPrecondition, err)
}

func TestGRPC_RejectAndComment(t *testing.T) {
	c := newGRPCClient(t)
	alice := token(t, "alice", auth.RoleMember)
	bob := token(t, "bob", auth.RoleMember)
	admin := token(t, "root", auth.RoleAdmin)

	resp, err := c.call(t, "Submit", alice, map[string]interface{}{"text": "first one"})
	require.NoError(t, err)
	rejectedID := resp.Fields["confession"].GetStructValue().Fields["id"].GetStringValue()

	resp, err = c.call(t, "Reject", admin, map[string]interface{}{"id": rejectedID, "reason": "spam"})
	require.NoError(t, err)
	rejected := resp.Fields["confession"].GetStructValue()
	assert.Equal(t, model.ConfessionStatusRejected, rejected.Fields["status"].GetStringValue())
	assert.Equal(t, "spam", rejected.Fields["rejection_reason"].GetStringValue())

	// 被拒绝的投稿没有评论串
	_, err = c.call(t, "AddComment", bob, map[string]interface{}{"confession_id": rejectedID, "text": "what happened here"})
	requireCode(t, codes.NotFound, err)

	resp, err = c.call(t, "Submit", bob, map[string]interface{}{"text": "second one"})
	require.NoError(t, err)
	approvedID := resp.Fields["confession"].GetStructValue().Fields["id"].GetStringValue()
	_, err = c.call(t, "Approve", admin, map[string]interface{}{"id": approvedID})
	require.NoError(t, err)

	resp, err = c.call(t, "CheckRateLimit", alice, nil)
	require.NoError(t, err)
	assert.True(t, resp.Fields["allowed"].GetBoolValue())

	resp, err = c.call(t, "AddComment", alice, map[string]interface{}{"confession_id": approvedID, "text": "same here"})
	require.NoError(t, err)
	comment := resp.Fields["comment"].GetStructValue()
	require.NotNil(t, comment)
	assert.Equal(t, approvedID, comment.Fields["confession_id"].GetStringValue())
	assert.Equal(t, "same here", comment.Fields["text"].GetStringValue())

	for _, text := range []string{"and again", "one more time"} {
		_, err = c.call(t, "AddComment", alice, map[string]interface{}{"confession_id": approvedID, "text": text})
		require.NoError(t, err)
	}
	_, err = c.call(t, "AddComment", alice, map[string]interface{}{"confession_id": approvedID, "text": "over the limit"})
	requireCode(t, codes.ResourceExhausted, err)

	resp, err = c.call(t, "CheckRateLimit", alice, nil)
	require.NoError(t, err)
	assert.False(t, resp.Fields["allowed"].GetBoolValue())
}
