package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffer   = 32
	maxInboundSize = 512
)

// FeedEvent 推送给订阅者的频道事件
type FeedEvent struct {
	Type      string `json:"type"` // post | edit
	ChannelID string `json:"channel_id,omitempty"`
	Handle    string `json:"handle"`
	Text      string `json:"text"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 频道实时订阅，慢消费者直接断开
type Hub struct {
	logger  logger.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

// NewHub 创建订阅中心
func NewHub(log logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  log,
		metrics: m,
		clients: make(map[*feedClient]struct{}),
	}
}

// HandleConnection 阻塞直到连接断开
func (h *Hub) HandleConnection(conn *websocket.Conn, r *http.Request) {
	client := &feedClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		return
	}
	defer h.unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(client)
	}()
	h.readPump(client)
	// 读循环结束后关闭发送通道，等待写循环退出
	h.drop(client)
	<-done
}

// Publish 非阻塞广播
func (h *Hub) Publish(event FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error(context.Background(), "marshal feed event failed", logger.Err(err))
		return
	}

	h.mu.RLock()
	var slow []*feedClient
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn(context.Background(), "feed subscriber too slow, disconnecting")
		h.drop(client)
	}
}

// ClientCount 当前订阅者数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*feedClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.drop(client)
	}
}

func (h *Hub) register(client *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	if h.metrics != nil {
		h.metrics.FeedClients.Inc()
	}
	return true
}

func (h *Hub) unregister(client *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		if h.metrics != nil {
			h.metrics.FeedClients.Dec()
		}
	}
}

// drop 关闭发送通道，仅执行一次
func (h *Hub) drop(client *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.FeedClients.Dec()
	}
}

func (h *Hub) readPump(client *feedClient) {
	client.conn.SetReadLimit(maxInboundSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 订阅端只读，入站消息丢弃
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				_ = client.conn.Close()
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = client.conn.Close()
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = client.conn.Close()
				return
			}
		}
	}
}

// teeSink 将频道消息同步推送到Hub
type teeSink struct {
	Sink
	hub *Hub
}

// Tee 包装primary，频道发布和编辑成功后推送到hub
func Tee(primary Sink, hub *Hub) Sink {
	return &teeSink{Sink: primary, hub: hub}
}

func (t *teeSink) SendToChannel(ctx context.Context, channelID, text string) (MessageHandle, error) {
	handle, err := t.Sink.SendToChannel(ctx, channelID, text)
	if err != nil {
		return "", err
	}
	t.hub.Publish(FeedEvent{Type: "post", ChannelID: channelID, Handle: string(handle), Text: text})
	return handle, nil
}

func (t *teeSink) EditChannelMessage(ctx context.Context, handle MessageHandle, text string) error {
	if err := t.Sink.EditChannelMessage(ctx, handle, text); err != nil {
		return err
	}
	t.hub.Publish(FeedEvent{Type: "edit", Handle: string(handle), Text: text})
	return nil
}
