package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 是实时数据流的底层 WebSocket 客户端。
// 单连接多路复用：按 topic 注册 handler，订阅在重连后自动恢复。
type Client struct {
	conn     *websocket.Conn
	url      string
	proxyURL string

	pingInterval time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration

	messageHandlers map[string]MessageHandler
	handlersMutex   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected      bool
	connectedMutex sync.RWMutex

	// onConnected 首次/每次握手成功后回调（connected 事件）
	onConnected func()

	reconnect      bool
	reconnectDelay time.Duration
	maxReconnect   int
	reconnectCount int
	isReconnecting bool
	reconnectMutex sync.Mutex

	activeSubscriptions []Subscription
	subscriptionsMutex  sync.RWMutex

	log *logrus.Entry
}

// ClientConfig 实时流客户端配置
type ClientConfig struct {
	URL            string
	ProxyURL       string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	Reconnect      bool
	ReconnectDelay time.Duration
	MaxReconnect   int
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:            WebSocketURL,
		PingInterval:   5 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		Reconnect:      true,
		ReconnectDelay: 5 * time.Second,
		MaxReconnect:   10,
	}
}

// NewClient 按配置创建实时流客户端
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.URL == "" {
		config.URL = WebSocketURL
	}
	if config.PingInterval == 0 {
		config.PingInterval = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.MaxReconnect == 0 {
		config.MaxReconnect = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:                 config.URL,
		proxyURL:            config.ProxyURL,
		pingInterval:        config.PingInterval,
		writeTimeout:        config.WriteTimeout,
		readTimeout:         config.ReadTimeout,
		messageHandlers:     make(map[string]MessageHandler),
		ctx:                 ctx,
		cancel:              cancel,
		reconnect:           config.Reconnect,
		reconnectDelay:      config.ReconnectDelay,
		maxReconnect:        config.MaxReconnect,
		activeSubscriptions: make([]Subscription, 0),
		log:                 logrus.WithField("component", "realtime"),
	}
}

// OnConnected 注册握手成功回调（重连成功后也会触发）
func (c *Client) OnConnected(fn func()) {
	c.onConnected = fn
}

// Connect 建立 WebSocket 连接
func (c *Client) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}

	if c.proxyURL != "" {
		proxyURL, err := url.Parse(c.proxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
		c.log.Debugf("经代理连接实时流: %s", c.proxyURL)
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect realtime stream: %w", err)
	}

	c.conn = conn
	c.setConnected(true)
	c.reconnectCount = 0
	c.log.Infof("✅ 实时流已连接: %s", c.url)

	c.wg.Add(1)
	go c.readMessages()

	c.wg.Add(1)
	go c.sendPings()

	// 重连后恢复既有订阅
	c.resubscribe()

	if c.onConnected != nil {
		c.onConnected()
	}

	return nil
}

// Disconnect 关闭连接并停止重连
func (c *Client) Disconnect() error {
	c.reconnectMutex.Lock()
	c.reconnect = false
	c.reconnectMutex.Unlock()

	c.setConnected(false)
	c.cancel()

	c.subscriptionsMutex.Lock()
	c.activeSubscriptions = make([]Subscription, 0)
	c.subscriptionsMutex.Unlock()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	// 等待 goroutine 退出，带超时避免无限期等待
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		c.log.Warn("等待读写 goroutine 退出超时（3秒），继续断开")
	}

	return err
}

// IsConnected 返回连接状态
func (c *Client) IsConnected() bool {
	c.connectedMutex.RLock()
	defer c.connectedMutex.RUnlock()
	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.connectedMutex.Lock()
	defer c.connectedMutex.Unlock()
	c.connected = connected
}

// RegisterHandler 注册 topic 的消息处理函数（"*" 为通配）
func (c *Client) RegisterHandler(topic string, handler MessageHandler) {
	c.handlersMutex.Lock()
	defer c.handlersMutex.Unlock()
	c.messageHandlers[topic] = handler
}

// UnregisterHandler 移除 topic 的处理函数
func (c *Client) UnregisterHandler(topic string) {
	c.handlersMutex.Lock()
	defer c.handlersMutex.Unlock()
	delete(c.messageHandlers, topic)
}

// SendMessage 发送 JSON 消息
func (c *Client) SendMessage(message interface{}) error {
	if !c.IsConnected() {
		return errors.New("client is not connected")
	}
	if c.conn == nil {
		return errors.New("connection is nil")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(message); err != nil {
		c.setConnected(false)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) readMessages() {
	defer c.wg.Done()

	// 捕获 gorilla 的 "repeated read on failed websocket connection" panic
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("readMessages panic recovered: %v", r)
			c.setConnected(false)
			go c.handleDisconnect()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if !c.IsConnected() || c.conn == nil {
			return
		}

		// 读超时主要用于定期检查 context，不代表链路异常
		readTimeout := 30 * time.Second
		if c.readTimeout > 0 && c.readTimeout < readTimeout {
			readTimeout = c.readTimeout
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				select {
				case <-c.ctx.Done():
					return
				default:
				}
				if !c.IsConnected() || c.conn == nil {
					return
				}
				continue
			}

			select {
			case <-c.ctx.Done():
				return
			default:
			}

			c.setConnected(false)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnf("WebSocket 读取错误: %v", err)
			}
			c.handleDisconnect()
			return
		}

		// 真实链路里会出现空消息和文本心跳
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			continue
		}
		if trimmed == "PING" {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
			continue
		}
		if trimmed == "PONG" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			c.log.Debugf("解析消息失败: %v (len=%d)", err, len(trimmed))
			continue
		}

		if msg.Topic == "error" || msg.Type == "error" {
			c.log.Warnf("服务端错误消息: %s", strings.TrimSpace(string(msg.Payload)))
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) sendPings() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("sendPings panic recovered: %v", r)
			c.setConnected(false)
		}
	}()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() || c.conn == nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warnf("发送 ping 失败: %v", err)
				c.setConnected(false)
				c.handleDisconnect()
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	// 订阅确认消息不进业务 handler
	if msg.Type == "subscribe" || msg.Type == "unsubscribe" {
		c.log.Debugf("订阅确认: topic=%s type=%s", msg.Topic, msg.Type)
		return
	}

	c.handlersMutex.RLock()
	handler, exists := c.messageHandlers[msg.Topic]
	wildcardHandler, wildcardExists := c.messageHandlers["*"]
	c.handlersMutex.RUnlock()

	if exists && handler != nil {
		if err := handler(msg); err != nil {
			c.log.Warnf("处理消息失败: topic=%s err=%v", msg.Topic, err)
		}
	}

	if wildcardExists && wildcardHandler != nil {
		if err := wildcardHandler(msg); err != nil {
			c.log.Warnf("通配 handler 处理失败: %v", err)
		}
	}
}

// handleDisconnect 处理断线并按配置重连
func (c *Client) handleDisconnect() {
	c.setConnected(false)

	c.reconnectMutex.Lock()
	if !c.reconnect || c.isReconnecting {
		c.reconnectMutex.Unlock()
		return
	}
	if c.reconnectCount >= c.maxReconnect {
		c.reconnectMutex.Unlock()
		c.log.Error("🛑 达到最大重连次数，放弃重连")
		return
	}
	c.reconnectCount++
	c.isReconnecting = true
	attemptNum := c.reconnectCount
	c.reconnectMutex.Unlock()

	c.log.Infof("🔄 尝试重连 (%d/%d)...", attemptNum, c.maxReconnect)

	// 睡眠期间每 100ms 检查一次 reconnect 标志，支持中途取消
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	slept := time.Duration(0)
	for slept < c.reconnectDelay {
		<-ticker.C
		slept += 100 * time.Millisecond
		c.reconnectMutex.Lock()
		shouldReconnect := c.reconnect
		c.reconnectMutex.Unlock()
		if !shouldReconnect {
			c.log.Info("重连已取消")
			return
		}
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.Connect(); err != nil {
		c.reconnectMutex.Lock()
		c.log.Warnf("重连失败: %v (尝试 %d/%d)", err, c.reconnectCount, c.maxReconnect)
		if c.reconnectCount < c.maxReconnect {
			c.isReconnecting = false
			c.reconnectMutex.Unlock()
			go func() {
				time.Sleep(c.reconnectDelay)
				c.handleDisconnect()
			}()
		} else {
			c.isReconnecting = false
			c.reconnectMutex.Unlock()
			c.log.Error("🛑 达到最大重连次数，放弃重连")
		}
		return
	}

	c.reconnectMutex.Lock()
	c.reconnectCount = 0
	c.isReconnecting = false
	c.reconnectMutex.Unlock()
	c.log.Infof("✅ 重连成功，已恢复 %d 条订阅", len(c.activeSubscriptions))
}

// resubscribe 重连成功后恢复所有活跃订阅
func (c *Client) resubscribe() {
	c.subscriptionsMutex.RLock()
	subscriptions := make([]Subscription, len(c.activeSubscriptions))
	copy(subscriptions, c.activeSubscriptions)
	c.subscriptionsMutex.RUnlock()

	if len(subscriptions) == 0 {
		return
	}

	// 等连接稳定
	time.Sleep(100 * time.Millisecond)

	req := SubscriptionRequest{
		Action:        ActionSubscribe,
		Subscriptions: subscriptions,
	}
	if err := c.SendMessage(req); err != nil {
		c.log.Warnf("重连后恢复订阅失败: %v", err)
	}
}
