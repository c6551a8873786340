package notify

import (
	"github.com/IBM/sarama"
)

// FeedRelay 消费投递指令主题，把其他实例发布的频道消息推送到本地Hub
type FeedRelay struct {
	hub *Hub
}

// NewFeedRelay 创建转发器
func NewFeedRelay(hub *Hub) *FeedRelay {
	return &FeedRelay{hub: hub}
}

// HandleMessage 实现kafka.ConsumerHandler，非频道指令直接确认
func (r *FeedRelay) HandleMessage(msg *sarama.ConsumerMessage) error {
	cmd, err := DecodeCommand(msg.Value)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case CommandChannelPost:
		r.hub.Publish(FeedEvent{Type: "post", ChannelID: cmd.ChannelID, Handle: string(cmd.Handle), Text: cmd.Text})
	case CommandChannelEdit:
		r.hub.Publish(FeedEvent{Type: "edit", Handle: string(cmd.Handle), Text: cmd.Text})
	}
	return nil
}
