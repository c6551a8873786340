package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/utils/clock"

	"goim-confession/pkg/kafka"
)

// 投递指令类型
const (
	CommandUserMessage = "user_message"
	CommandChannelPost = "channel_post"
	CommandChannelEdit = "channel_edit"
)

// KafkaSink 将投递指令写入Kafka，由平台网关消费
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	clock    clock.PassiveClock
}

// NewKafkaSink 创建Kafka投递
func NewKafkaSink(producer *kafka.Producer, topic string, clk clock.PassiveClock) *KafkaSink {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &KafkaSink{producer: producer, topic: topic, clock: clk}
}

func (s *KafkaSink) SendToUser(ctx context.Context, userID, text string) error {
	return s.send(ctx, userID, map[string]interface{}{
		"kind":    CommandUserMessage,
		"user_id": userID,
		"text":    text,
	})
}

// SendToChannel 句柄在本地生成，网关据此关联平台消息ID
func (s *KafkaSink) SendToChannel(ctx context.Context, channelID, text string) (MessageHandle, error) {
	handle := MessageHandle(uuid.NewString())
	err := s.send(ctx, channelID, map[string]interface{}{
		"kind":       CommandChannelPost,
		"channel_id": channelID,
		"handle":     string(handle),
		"text":       text,
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (s *KafkaSink) EditChannelMessage(ctx context.Context, handle MessageHandle, text string) error {
	return s.send(ctx, string(handle), map[string]interface{}{
		"kind":   CommandChannelEdit,
		"handle": string(handle),
		"text":   text,
	})
}

func (s *KafkaSink) send(ctx context.Context, key string, fields map[string]interface{}) error {
	fields["sent_at_ms"] = float64(s.clock.Now().UnixMilli())
	payload, err := EncodeCommand(fields)
	if err != nil {
		return err
	}
	return s.producer.SendMessage(ctx, s.topic, []byte(key), payload)
}

// EncodeCommand 编码投递指令
func EncodeCommand(fields map[string]interface{}) ([]byte, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode delivery command: %w", err)
	}
	return proto.Marshal(st)
}

// Command 解码后的投递指令
type Command struct {
	Kind      string
	UserID    string
	ChannelID string
	Handle    MessageHandle
	Text      string
	SentAt    time.Time
}

// DecodeCommand 解码投递指令
func DecodeCommand(data []byte) (*Command, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode delivery command: %w", err)
	}

	fields := st.GetFields()
	str := func(key string) string { return fields[key].GetStringValue() }
	cmd := &Command{
		Kind:      str("kind"),
		UserID:    str("user_id"),
		ChannelID: str("channel_id"),
		Handle:    MessageHandle(str("handle")),
		Text:      str("text"),
		SentAt:    time.UnixMilli(int64(fields["sent_at_ms"].GetNumberValue())),
	}
	if cmd.Kind == "" {
		return nil, fmt.Errorf("decode delivery command: missing kind")
	}
	return cmd, nil
}
