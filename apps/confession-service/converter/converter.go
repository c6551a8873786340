package converter

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"goim-confession/apps/confession-service/model"
)

// Converter 转换器，提供Model与gRPC消息之间的转换
type Converter struct{}

// NewConverter 创建转换器实例
func NewConverter() *Converter {
	return &Converter{}
}

// ConfessionModelToProto 将投稿Model转换为消息，作者不对外输出
func (c *Converter) ConfessionModelToProto(confession *model.Confession) *structpb.Struct {
	if confession == nil {
		return nil
	}

	tags := make([]*structpb.Value, 0, len(confession.Hashtags))
	for _, tag := range confession.Hashtags {
		tags = append(tags, structpb.NewStringValue(tag))
	}
	fields := map[string]*structpb.Value{
		"id":            structpb.NewStringValue(confession.ID),
		"text":          structpb.NewStringValue(confession.Text),
		"status":        structpb.NewStringValue(confession.Status),
		"hashtags":      structpb.NewListValue(&structpb.ListValue{Values: tags}),
		"comment_total": structpb.NewNumberValue(float64(confession.CommentTotal)),
		"created_at":    structpb.NewStringValue(confession.CreatedAt.Format(time.RFC3339)),
	}
	if confession.SequenceNumber != nil {
		fields["sequence_number"] = structpb.NewNumberValue(float64(*confession.SequenceNumber))
	}
	if confession.DecidedAt != nil {
		fields["decided_at"] = structpb.NewStringValue(confession.DecidedAt.Format(time.RFC3339))
	}
	if confession.RejectionReason != nil {
		fields["rejection_reason"] = structpb.NewStringValue(*confession.RejectionReason)
	}
	return &structpb.Struct{Fields: fields}
}

// CommentModelToProto 将评论Model转换为消息
func (c *Converter) CommentModelToProto(comment *model.Comment) *structpb.Struct {
	if comment == nil {
		return nil
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":            structpb.NewNumberValue(float64(comment.ID)),
		"confession_id": structpb.NewStringValue(comment.ConfessionID),
		"text":          structpb.NewStringValue(comment.Text),
		"created_at":    structpb.NewStringValue(comment.CreatedAt.Format(time.RFC3339)),
	}}
}

// ThrottleStatusModelToProto 将冷却/限流状态转换为消息
func (c *Converter) ThrottleStatusModelToProto(status *model.ThrottleStatus) *structpb.Struct {
	if status == nil {
		return nil
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"allowed":           structpb.NewBoolValue(status.Allowed),
		"remaining_seconds": structpb.NewNumberValue(float64(status.RemainingSeconds)),
	}}
}

// Response 组装响应，值为nil的字段跳过
func (c *Converter) Response(fields map[string]*structpb.Value) *structpb.Struct {
	out := make(map[string]*structpb.Value, len(fields))
	for k, v := range fields {
		if v != nil {
			out[k] = v
		}
	}
	return &structpb.Struct{Fields: out}
}

// StructValue 嵌套消息，nil时返回nil
func (c *Converter) StructValue(s *structpb.Struct) *structpb.Value {
	if s == nil {
		return nil
	}
	return structpb.NewStructValue(s)
}

// StringField 读取请求中的字符串字段，缺失或类型不符时为空
func (c *Converter) StringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}
