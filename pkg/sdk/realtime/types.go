package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// WebSocketURL Polymarket 实时数据流地址
const WebSocketURL = "wss://ws-live-data.polymarket.com"

// 主题常量
const (
	TopicClobMarket   = "clob_market"
	TopicCryptoPrices = "crypto_prices"

	TypeAggOrderbook = "agg_orderbook"
	TypeUpdate       = "update"
)

// Float64 解析 JSON number 或数字字符串。
type Float64 float64

func (f *Float64) UnmarshalJSON(b []byte) error {
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		v, err := num.Float64()
		if err != nil {
			return err
		}
		*f = Float64(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float64(v)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into Float64", string(b))
}

func (f Float64) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}

func (f Float64) Float64() float64 { return float64(f) }

// Message 实时流消息帧
type Message struct {
	Topic        string          `json:"topic"`
	Type         string          `json:"type"`
	Timestamp    int64           `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

// SubscriptionAction 订阅管理动作
type SubscriptionAction string

const (
	ActionSubscribe   SubscriptionAction = "subscribe"
	ActionUnsubscribe SubscriptionAction = "unsubscribe"
)

// Subscription 单条订阅配置
type Subscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

// SubscriptionRequest 订阅/退订请求
type SubscriptionRequest struct {
	Action        SubscriptionAction `json:"action"`
	Subscriptions []Subscription     `json:"subscriptions"`
}

// CryptoPrice 预言机价格推送
type CryptoPrice struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Value     Float64 `json:"value"`
}

// WireLevel 订单簿档位（线格式，价格/数量为字符串）
type WireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WireOrderbook 聚合订单簿推送（线格式）
type WireOrderbook struct {
	Asks      []WireLevel `json:"asks"`
	AssetID   string      `json:"asset_id"`
	Bids      []WireLevel `json:"bids"`
	Hash      string      `json:"hash"`
	Market    string      `json:"market"`
	TickSize  string      `json:"tick_size"`
	Timestamp string      `json:"timestamp"`
}

// MessageHandler 按 topic 注册的消息处理函数
type MessageHandler func(message *Message) error
