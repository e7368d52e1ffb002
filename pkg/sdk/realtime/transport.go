package realtime

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/pkg/sigchan"
)

// Level 归一化后的订单簿档位
type Level struct {
	Price float64
	Size  float64
}

// BookSnapshot 归一化后的单 token 订单簿快照。
// Bids 按价格降序，Asks 按价格升序。
type BookSnapshot struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// BestBid 最优买价，空簿返回 0
func (s *BookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk 最优卖价，空簿返回 0
func (s *BookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// PriceUpdate 预言机价格更新
type PriceUpdate struct {
	Symbol    string
	Value     float64
	Timestamp time.Time
}

// MarketCallbacks 订单簿订阅回调
type MarketCallbacks struct {
	OnOrderbook func(snapshot *BookSnapshot)
	OnError     func(err error)
}

// OracleCallbacks 预言机价格订阅回调
type OracleCallbacks struct {
	OnPrice func(update *PriceUpdate)
}

// SubscriptionHandle 订阅句柄，Unsubscribe 幂等
type SubscriptionHandle struct {
	id   string
	once sync.Once
	stop func()
}

// NewSubscriptionHandle 构造订阅句柄，stop 在首次 Unsubscribe 时执行一次
func NewSubscriptionHandle(id string, stop func()) *SubscriptionHandle {
	return &SubscriptionHandle{id: id, stop: stop}
}

func (h *SubscriptionHandle) ID() string { return h.id }

func (h *SubscriptionHandle) Unsubscribe() {
	h.once.Do(func() {
		if h.stop != nil {
			h.stop()
		}
	})
}

type marketSub struct {
	tokens    map[string]bool
	callbacks MarketCallbacks
}

type oracleSub struct {
	symbols   map[string]bool
	callbacks OracleCallbacks
}

// Transport 把单条 WebSocket 连接复用成两类逻辑流：
// 按 tokenID 分发的订单簿快照，和按 symbol 分发的预言机价格。
// 断线重连对调用方透明，重连期间丢失的增量由下一个全量快照补齐。
type Transport struct {
	client *Client

	mu         sync.RWMutex
	marketSubs map[string]*marketSub
	oracleSubs map[string]*oracleSub

	onConnected func()
	started     bool
	ready       *sigchan.Chan

	log *logrus.Entry
}

// NewTransport 创建实时传输层
func NewTransport(config *ClientConfig) *Transport {
	t := &Transport{
		client:     NewClient(config),
		marketSubs: make(map[string]*marketSub),
		oracleSubs: make(map[string]*oracleSub),
		ready:      sigchan.New(1),
		log:        logrus.WithField("component", "transport"),
	}
	t.client.RegisterHandler(TopicClobMarket, t.handleClobMarket)
	t.client.RegisterHandler(TopicCryptoPrices, t.handleCryptoPrices)
	t.client.OnConnected(func() {
		t.ready.Emit()
		if t.onConnected != nil {
			t.onConnected()
		}
	})
	return t
}

// OnConnected 注册 connected 事件回调（须在 Start 前调用）
func (t *Transport) OnConnected(fn func()) {
	t.onConnected = fn
}

// Start 建立连接
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()
	return t.client.Connect()
}

// Stop 断开连接
func (t *Transport) Stop() error {
	t.mu.Lock()
	t.started = false
	t.marketSubs = make(map[string]*marketSub)
	t.oracleSubs = make(map[string]*oracleSub)
	t.mu.Unlock()
	return t.client.Disconnect()
}

// IsConnected 返回底层连接状态
func (t *Transport) IsConnected() bool {
	return t.client.IsConnected()
}

// WaitReady 等待连接就绪，超时返回 false。
// 重连期间的多次 connected 事件会被合并，不会漏唤醒。
func (t *Transport) WaitReady(timeout time.Duration) bool {
	if t.client.IsConnected() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.ready.C():
		return true
	case <-timer.C:
		return t.client.IsConnected()
	}
}

// SubscribeMarkets 订阅一组 token 的订单簿快照
func (t *Transport) SubscribeMarkets(tokenIDs []string, callbacks MarketCallbacks) (*SubscriptionHandle, error) {
	tokens := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		tokens[id] = true
	}

	sub := &marketSub{tokens: tokens, callbacks: callbacks}
	handleID := uuid.NewString()

	t.mu.Lock()
	t.marketSubs[handleID] = sub
	t.mu.Unlock()

	if err := t.client.Subscribe(OrderbookSubscriptions(tokenIDs)); err != nil {
		t.mu.Lock()
		delete(t.marketSubs, handleID)
		t.mu.Unlock()
		return nil, err
	}

	return &SubscriptionHandle{
		id: handleID,
		stop: func() {
			t.mu.Lock()
			delete(t.marketSubs, handleID)
			t.mu.Unlock()
			// 其他订阅可能仍需要这些 token，仅在无人引用时退订
			if !t.anyMarketRefs(tokenIDs) {
				_ = t.client.Unsubscribe(OrderbookSubscriptions(tokenIDs))
			}
		},
	}, nil
}

// SubscribeOraclePrices 订阅一组 symbol 的预言机价格
func (t *Transport) SubscribeOraclePrices(symbols []string, callbacks OracleCallbacks) (*SubscriptionHandle, error) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}

	sub := &oracleSub{symbols: set, callbacks: callbacks}
	handleID := uuid.NewString()

	t.mu.Lock()
	t.oracleSubs[handleID] = sub
	t.mu.Unlock()

	if err := t.client.Subscribe(OraclePriceSubscriptions(symbols)); err != nil {
		t.mu.Lock()
		delete(t.oracleSubs, handleID)
		t.mu.Unlock()
		return nil, err
	}

	return &SubscriptionHandle{
		id: handleID,
		stop: func() {
			t.mu.Lock()
			delete(t.oracleSubs, handleID)
			t.mu.Unlock()
			if !t.anyOracleRefs(symbols) {
				_ = t.client.Unsubscribe(OraclePriceSubscriptions(symbols))
			}
		},
	}, nil
}

func (t *Transport) anyMarketRefs(tokenIDs []string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sub := range t.marketSubs {
		for _, id := range tokenIDs {
			if sub.tokens[id] {
				return true
			}
		}
	}
	return false
}

func (t *Transport) anyOracleRefs(symbols []string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sub := range t.oracleSubs {
		for _, s := range symbols {
			if sub.symbols[s] {
				return true
			}
		}
	}
	return false
}

func (t *Transport) handleClobMarket(msg *Message) error {
	if msg.Type != TypeAggOrderbook {
		return nil
	}

	var wire WireOrderbook
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		t.dispatchError(err)
		return err
	}

	snapshot := NormalizeOrderbook(&wire)
	if snapshot == nil {
		return nil
	}

	t.mu.RLock()
	targets := make([]MarketCallbacks, 0, 2)
	for _, sub := range t.marketSubs {
		if sub.tokens[snapshot.TokenID] {
			targets = append(targets, sub.callbacks)
		}
	}
	t.mu.RUnlock()

	for _, cb := range targets {
		if cb.OnOrderbook != nil {
			cb.OnOrderbook(snapshot)
		}
	}
	return nil
}

func (t *Transport) handleCryptoPrices(msg *Message) error {
	var price CryptoPrice
	if err := json.Unmarshal(msg.Payload, &price); err != nil {
		return err
	}
	if price.Symbol == "" {
		return nil
	}

	ts := time.Now()
	if price.Timestamp > 0 {
		ts = time.UnixMilli(price.Timestamp)
	}
	update := &PriceUpdate{
		Symbol:    price.Symbol,
		Value:     price.Value.Float64(),
		Timestamp: ts,
	}

	t.mu.RLock()
	targets := make([]OracleCallbacks, 0, 2)
	for _, sub := range t.oracleSubs {
		if sub.symbols[update.Symbol] {
			targets = append(targets, sub.callbacks)
		}
	}
	t.mu.RUnlock()

	for _, cb := range targets {
		if cb.OnPrice != nil {
			cb.OnPrice(update)
		}
	}
	return nil
}

func (t *Transport) dispatchError(err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sub := range t.marketSubs {
		if sub.callbacks.OnError != nil {
			sub.callbacks.OnError(err)
		}
	}
}

// NormalizeOrderbook 把线格式订单簿转为归一化快照：
// 解析字符串价格/数量、滤掉非正值、bids 降序 asks 升序、缺失时间戳用本地时钟。
func NormalizeOrderbook(wire *WireOrderbook) *BookSnapshot {
	if wire == nil || wire.AssetID == "" {
		return nil
	}

	parseLevels := func(src []WireLevel) []Level {
		out := make([]Level, 0, len(src))
		for _, l := range src {
			price, err := strconv.ParseFloat(l.Price, 64)
			if err != nil || price <= 0 {
				continue
			}
			size, err := strconv.ParseFloat(l.Size, 64)
			if err != nil || size <= 0 {
				continue
			}
			out = append(out, Level{Price: price, Size: size})
		}
		return out
	}

	bids := parseLevels(wire.Bids)
	asks := parseLevels(wire.Asks)

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	ts := time.Now()
	if wire.Timestamp != "" {
		if ms, err := strconv.ParseInt(wire.Timestamp, 10, 64); err == nil && ms > 0 {
			ts = time.UnixMilli(ms)
		}
	}

	return &BookSnapshot{
		TokenID:   wire.AssetID,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
}
