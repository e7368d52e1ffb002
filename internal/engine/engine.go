package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/metrics"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/internal/risk"
	"github.com/betbot/diparb/pkg/config"
	"github.com/betbot/diparb/pkg/sdk/realtime"
)

// readyTimeout 启动时等待传输层就绪的上限，超时后乐观继续
const readyTimeout = 10 * time.Second

// MarketStream 引擎依赖的传输层能力，*realtime.Transport 天然满足
type MarketStream interface {
	SubscribeMarkets(tokenIDs []string, callbacks realtime.MarketCallbacks) (*realtime.SubscriptionHandle, error)
	SubscribeOraclePrices(symbols []string, callbacks realtime.OracleCallbacks) (*realtime.SubscriptionHandle, error)
	WaitReady(timeout time.Duration) bool
}

// Engine 单市场闪跌套利引擎。
// 订单簿和预言机回调都在传输层的分发协程里进来，
// 一把互斥锁保护轮次状态、价格历史和计数器；
// 自动下单派发到独立协程，isExecuting 抑制重入。
type Engine struct {
	mu sync.Mutex

	cfg    config.EngineConfig
	market *domain.Market

	transport MarketStream
	exec      ports.ExecutionAdapter
	settle    ports.SettlementAdapter
	emitter   *events.Emitter
	log       *logrus.Entry

	// 币种到预言机 symbol 的覆盖表，只在 Start 前写
	oracleSymbols map[string]string

	running   bool
	session   int64 // 每次 Start 递增，旧订阅回调和停机后的在途执行按此失效
	marketSub *realtime.SubscriptionHandle
	oracleSub *realtime.SubscriptionHandle

	round         *domain.Round
	history       *priceHistory
	upAsk         float64
	downAsk       float64
	priceToBeat   float64
	lastOracle    float64
	roundUpOpen   float64
	roundDownOpen float64

	isExecuting   bool
	lastExecution time.Time
	breaker       *risk.Breaker

	stats     Stats
	startedAt time.Time
}

// New 创建引擎。emitter 传 nil 时内部自建。
func New(transport MarketStream, exec ports.ExecutionAdapter, settle ports.SettlementAdapter, cfg config.EngineConfig, emitter *events.Emitter) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Engine{
		cfg:       cfg,
		transport: transport,
		exec:      exec,
		settle:    settle,
		emitter:   emitter,
		history:   newPriceHistory(),
		breaker:   risk.NewBreaker(breakerConfig(cfg)),
		log:       logrus.WithField("component", "engine"),
	}, nil
}

func breakerConfig(cfg config.EngineConfig) risk.BreakerConfig {
	return risk.BreakerConfig{
		MaxConsecutiveFailures: int64(cfg.MaxConsecutiveFailures),
		DailyLossLimitUSDC:     cfg.DailyLossLimit,
	}
}

// Breaker 返回风控熔断器，供上层手动 Halt/Resume
func (e *Engine) Breaker() *risk.Breaker { return e.breaker }

// Events 返回事件分发器，供调用方挂观察者
func (e *Engine) Events() *events.Emitter { return e.emitter }

// Configure 原子替换引擎参数
func (e *Engine) Configure(cfg config.EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.breaker.SetConfig(breakerConfig(cfg))
	return nil
}

// Config 返回当前参数快照
func (e *Engine) Config() config.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Market 返回当前挂载的市场，未启动为 nil
func (e *Engine) Market() *domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market
}

// Running 返回引擎是否在跑
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CurrentRound 返回当前轮次快照（浅拷贝）
func (e *Engine) CurrentRound() *domain.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return nil
	}
	snapshot := *e.round
	return &snapshot
}

// Start 挂上一个市场开始监控。引擎已在跑时报错。
func (e *Engine) Start(market *domain.Market) error {
	if market == nil || !market.IsValid() {
		return domain.NewError(domain.ErrValidation, "市场缺少 token 或 conditionId", nil)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("引擎已在监控 %s", e.market.Slug)
	}
	e.running = true
	e.session++
	session := e.session
	e.market = market
	e.round = nil
	e.history.Reset()
	e.upAsk, e.downAsk = 0, 0
	e.priceToBeat, e.lastOracle = 0, 0
	e.roundUpOpen, e.roundDownOpen = 0, 0
	if e.startedAt.IsZero() {
		e.startedAt = time.Now()
	}
	e.mu.Unlock()

	marketSub, err := e.transport.SubscribeMarkets(
		[]string{market.UpTokenID, market.DownTokenID},
		realtime.MarketCallbacks{
			OnOrderbook: func(s *realtime.BookSnapshot) { e.onOrderbook(session, s) },
			OnError: func(err error) {
				e.emitError(domain.NewError(domain.ErrTransport, "订单簿推送异常", err))
			},
		})
	if err != nil {
		e.rollbackStart(session, nil, nil)
		return domain.NewError(domain.ErrTransport, "订阅订单簿失败", err)
	}

	oracleSub, err := e.transport.SubscribeOraclePrices(
		[]string{e.oracleSymbol(market.Coin)},
		realtime.OracleCallbacks{
			OnPrice: func(u *realtime.PriceUpdate) { e.onOraclePrice(session, u) },
		})
	if err != nil {
		e.rollbackStart(session, marketSub, nil)
		return domain.NewError(domain.ErrTransport, "订阅预言机价格失败", err)
	}

	e.mu.Lock()
	if !e.running || e.session != session {
		// Start 还没落地就被 Stop 了
		e.mu.Unlock()
		marketSub.Unsubscribe()
		oracleSub.Unsubscribe()
		return fmt.Errorf("引擎在启动过程中被停止")
	}
	e.marketSub = marketSub
	e.oracleSub = oracleSub
	e.mu.Unlock()

	if !e.transport.WaitReady(readyTimeout) {
		e.log.Warn("⚠️ 传输层未在 10 秒内就绪，乐观继续")
	}

	e.log.WithField("market", market.Slug).Info("✅ 引擎启动")
	e.emitter.Emit(events.KindStarted, &events.StartedPayload{
		MarketSlug:  market.Slug,
		ConditionID: market.ConditionID,
		Coin:        market.Coin,
		EndTime:     market.EndTime,
	})
	return nil
}

func (e *Engine) rollbackStart(session int64, marketSub, oracleSub *realtime.SubscriptionHandle) {
	e.mu.Lock()
	if e.session == session {
		e.running = false
	}
	e.mu.Unlock()
	if marketSub != nil {
		marketSub.Unsubscribe()
	}
	if oracleSub != nil {
		oracleSub.Unsubscribe()
	}
}

// Stop 停止监控并退订。幂等，重复调用无副作用。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.session++
	marketSub, oracleSub := e.marketSub, e.oracleSub
	e.marketSub, e.oracleSub = nil, nil
	slug := ""
	if e.market != nil {
		slug = e.market.Slug
	}
	e.mu.Unlock()

	if marketSub != nil {
		marketSub.Unsubscribe()
	}
	if oracleSub != nil {
		oracleSub.Unsubscribe()
	}

	e.log.WithField("market", slug).Info("🛑 引擎停止")
	e.emitter.Emit(events.KindStopped, nil)
}

// onOrderbook 订单簿回调：更新缓存、推价格历史、走状态机和检测器。
// 回调不向传输层抛错，所有异常都转成 error 事件。
func (e *Engine) onOrderbook(session int64, snap *realtime.BookSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.emitError(domain.NewError(domain.ErrFatal, fmt.Sprintf("订单簿回调 panic: %v", r), nil))
		}
	}()

	e.mu.Lock()
	if !e.running || session != e.session || e.market == nil {
		e.mu.Unlock()
		return
	}

	now := snap.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	side, ok := e.market.SideOfToken(snap.TokenID)
	if !ok {
		e.mu.Unlock()
		return
	}
	if ask := snap.BestAsk(); ask > 0 {
		if side == domain.SideUp {
			e.upAsk = ask
		} else {
			e.downAsk = ask
		}
	}
	if e.upAsk > 0 && e.downAsk > 0 {
		e.history.Append(now, e.upAsk, e.downAsk)
	}

	var pending []events.Event

	if e.market.Ended(now) {
		pending = e.handleMarketEndedLocked(now, pending)
		e.mu.Unlock()
		e.flush(pending)
		return
	}

	if e.round == nil || !e.round.Active() {
		pending = e.startRoundLocked(now, pending)
	}

	if e.round.Phase == domain.PhaseLeg1Filled && e.round.Leg1 != nil &&
		now.Sub(e.round.Leg1.FilledAt) > e.cfg.Leg2Timeout() {
		e.round.Expire(now)
		e.stats.RoundsCompleted++
		e.stats.RoundsExpired++
		e.log.WithField("round", e.round.ID).Warn("⚠️ 第二腿等待超时，本轮作废")
		pending = append(pending, events.Event{
			Kind: events.KindRoundComplete,
			Payload: &events.RoundCompletePayload{
				RoundID:    e.round.ID,
				MarketSlug: e.round.MarketSlug,
				Status:     events.StatusExpired,
			},
		})
	}

	var sig *domain.Signal
	switch e.round.Phase {
	case domain.PhaseWaiting:
		sig = e.detectLeg1Locked(now)
	case domain.PhaseLeg1Filled:
		sig = e.detectLeg2Locked(now)
	}

	var autoFire, halted bool
	if sig != nil {
		e.stats.SignalsDetected++
		metrics.SignalsDetected.Add(1)
		if sig.Leg == 1 {
			e.round.Leg1SignalEmitted = true
		}
		autoFire = e.cfg.AutoExecute && !e.isExecuting &&
			now.Sub(e.lastExecution) >= e.cfg.Cooldown()
		if autoFire {
			if err := e.breaker.Allow(); err != nil {
				autoFire = false
				halted = true
			} else {
				e.isExecuting = true
			}
		}
		pending = append(pending, events.Event{Kind: events.KindSignal, Payload: sig})
	}
	e.mu.Unlock()

	e.flush(pending)

	if sig != nil {
		e.log.WithFields(logrus.Fields{
			"kind": sig.Kind, "side": sig.Side, "price": sig.CurrentPrice,
		}).Infof("🔔 检测到第 %d 腿信号", sig.Leg)
	}
	if halted {
		e.log.Warn("🛑 风控熔断中，信号不自动执行")
	}
	if autoFire {
		go e.runAutoExecution(session, sig)
	}
}

// onOraclePrice 预言机价格回调
func (e *Engine) onOraclePrice(session int64, update *realtime.PriceUpdate) {
	e.mu.Lock()
	if !e.running || session != e.session || e.market == nil {
		e.mu.Unlock()
		return
	}
	if update.Symbol != e.oracleSymbol(e.market.Coin) {
		e.mu.Unlock()
		return
	}
	e.lastOracle = update.Value
	beat := e.priceToBeat
	coin := e.market.Coin
	e.mu.Unlock()

	change := 0.0
	if beat > 0 {
		change = (update.Value - beat) / beat * 100
	}
	e.emitter.Emit(events.KindPriceUpdate, &events.PriceUpdatePayload{
		Underlying:    coin,
		Value:         update.Value,
		PriceToBeat:   beat,
		ChangePercent: change,
	})
}

// startRoundLocked 开新一轮：price-to-beat 取最近的预言机价（没有就是 0），
// 开盘价取当前双边卖价，清空价格历史并用当前采样打底。
func (e *Engine) startRoundLocked(now time.Time, pending []events.Event) []events.Event {
	e.round = domain.NewRound(e.market.Slug, now)
	e.priceToBeat = e.lastOracle
	e.roundUpOpen, e.roundDownOpen = e.upAsk, e.downAsk
	e.history.Reset()
	if e.upAsk > 0 && e.downAsk > 0 {
		e.history.Append(now, e.upAsk, e.downAsk)
	}
	e.stats.RoundsMonitored++

	e.log.WithFields(logrus.Fields{
		"round": e.round.ID, "priceToBeat": e.priceToBeat,
		"upOpen": e.roundUpOpen, "downOpen": e.roundDownOpen,
	}).Info("🔄 新一轮监控开始")

	return append(pending, events.Event{
		Kind: events.KindNewRound,
		Payload: &events.NewRoundPayload{
			RoundID:     e.round.ID,
			MarketSlug:  e.market.Slug,
			PriceToBeat: e.priceToBeat,
			UpOpen:      e.roundUpOpen,
			DownOpen:    e.roundDownOpen,
			StartTime:   now,
			EndTime:     e.market.EndTime,
		},
	})
}

// handleMarketEndedLocked 市场周期结束：单腿在手发 partial 终态，其余静默收尾
func (e *Engine) handleMarketEndedLocked(now time.Time, pending []events.Event) []events.Event {
	if e.round == nil || !e.round.Active() {
		return pending
	}

	if e.round.Phase == domain.PhaseLeg1Filled {
		e.round.Partial = true
		e.round.Expire(now)
		e.stats.RoundsCompleted++
		e.log.WithField("round", e.round.ID).Warn("⚠️ 市场结束时只有单腿在手")
		return append(pending, events.Event{
			Kind: events.KindRoundComplete,
			Payload: &events.RoundCompletePayload{
				RoundID:    e.round.ID,
				MarketSlug: e.round.MarketSlug,
				Status:     events.StatusPartial,
			},
		})
	}

	e.round.Expire(now)
	return pending
}

func (e *Engine) flush(pending []events.Event) {
	for _, ev := range pending {
		e.emitter.Emit(ev.Kind, ev.Payload)
	}
}

func (e *Engine) emitError(err *domain.Error) {
	e.log.WithField("code", err.Code).Warnf("⚠️ %s", err.Error())
	e.emitter.Emit(events.KindError, err)
}

// SetOracleSymbols 用配置表覆盖币种到预言机 symbol 的映射（须在 Start 前调用）
func (e *Engine) SetOracleSymbols(table map[string]string) {
	m := make(map[string]string, len(table))
	for coin, symbol := range table {
		m[strings.ToLower(strings.TrimSpace(coin))] = symbol
	}
	e.oracleSymbols = m
}

// oracleSymbol 标的币种到预言机 symbol 的映射，没配置的币种退回 {COIN}/USD
func (e *Engine) oracleSymbol(coin string) string {
	c := strings.ToLower(strings.TrimSpace(coin))
	if s, ok := e.oracleSymbols[c]; ok {
		return s
	}
	return strings.ToUpper(c) + "/USD"
}
