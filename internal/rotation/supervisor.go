package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/discovery"
	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/metrics"
	"github.com/betbot/diparb/internal/orderbook"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/pkg/config"
	"github.com/betbot/diparb/pkg/marketspec"
	"github.com/betbot/diparb/pkg/persistence"
)

const (
	// tickTimeout 单次 tick 的外部调用预算
	tickTimeout = 25 * time.Second
	// sellPriceOffset 清仓卖单挂在 best bid 之下的让价，保证吃得到
	sellPriceOffset = 0.02
)

// TradingEngine supervisor 托管的引擎面
type TradingEngine interface {
	Market() *domain.Market
	CurrentRound() *domain.Round
	Running() bool
	Start(market *domain.Market) error
	Stop()
}

// MarketFinder 下一盘候选源
type MarketFinder interface {
	Next(ctx context.Context, q discovery.Query) (*domain.Market, error)
}

// BookFetcher 清仓时拿两侧盘口定卖价
type BookFetcher interface {
	PairBooks(ctx context.Context, market *domain.Market) (yes, no *orderbook.Book, err error)
}

// Supervisor 自动换盘监督者。30s 一个 tick 盯市场结束时间，
// 提前预载下一盘；市场结束时处理残留持仓并无缝切换引擎；
// 待赎回队列由独立 ticker 消化。队列和 next 槽位只有这里一个写者。
type Supervisor struct {
	mu sync.Mutex

	engine  TradingEngine
	finder  MarketFinder
	books   BookFetcher
	exec    ports.ExecutionAdapter
	settle  ports.SettlementAdapter
	emitter *events.Emitter

	rotCfg  config.RotationConfig
	discCfg config.DiscoveryConfig

	queue *redemptionQueue
	next  *domain.Market

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time

	log *logrus.Entry
}

// New 创建换盘监督者。store 可为 nil（不持久化队列）。
func New(
	eng TradingEngine,
	finder MarketFinder,
	books BookFetcher,
	exec ports.ExecutionAdapter,
	settle ports.SettlementAdapter,
	emitter *events.Emitter,
	rotCfg config.RotationConfig,
	discCfg config.DiscoveryConfig,
	store persistence.Store,
) *Supervisor {
	return &Supervisor{
		engine:  eng,
		finder:  finder,
		books:   books,
		exec:    exec,
		settle:  settle,
		emitter: emitter,
		rotCfg:  rotCfg,
		discCfg: discCfg,
		queue:   newRedemptionQueue(store, rotCfg.RedeemMaxRetries),
		now:     time.Now,
		log:     logrus.WithField("component", "rotation"),
	}
}

// Enable 启动换盘与赎回两个 ticker，并立刻跑一次换盘检查
func (s *Supervisor) Enable() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("自动换盘已在运行")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.log.Infof("✅ 自动换盘启用: tick=%ds preload=%dmin strategy=%s",
		s.rotCfg.TickSeconds, s.rotCfg.PreloadMinutes, s.rotCfg.SettleStrategy)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Disable 停掉 ticker。待赎回队列保持原样，下次 Enable 继续消化。
func (s *Supervisor) Disable() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	if n := len(s.PendingRedemptions()); n > 0 {
		s.log.Warnf("⚠️ 自动换盘停用，仍有 %d 条待赎回挂在队列里", n)
	} else {
		s.log.Info("🛑 自动换盘停用")
	}
}

// RotateNow 立刻扫盘换仓，不等 tick
func (s *Supervisor) RotateNow(ctx context.Context) error {
	return s.swapMarket(ctx, "manual")
}

// PendingRedemptions 待赎回队列快照
func (s *Supervisor) PendingRedemptions() []domain.PendingRedemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.snapshot()
}

func (s *Supervisor) loop() {
	defer s.wg.Done()

	rotate := time.NewTicker(time.Duration(s.rotCfg.TickSeconds) * time.Second)
	defer rotate.Stop()
	redeem := time.NewTicker(time.Duration(s.rotCfg.RedeemRetryIntervalSeconds) * time.Second)
	defer redeem.Stop()

	// 启用即检查一次，免得等满一个 tick
	s.rotateTick()

	for {
		select {
		case <-s.stopCh:
			return
		case <-rotate.C:
			s.rotateTick()
		case <-redeem.C:
			s.redeemTick()
		}
	}
}

// rotateTick 一次换盘检查
func (s *Supervisor) rotateTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	market := s.engine.Market()
	if market == nil || !s.engine.Running() {
		// 引擎空转，直接找一盘开工
		if err := s.swapMarket(ctx, "initial"); err != nil {
			s.log.Warnf("⚠️ 初始选盘失败: %v", err)
		}
		return
	}

	now := s.now()
	untilEnd := market.EndTime.Sub(now)

	if untilEnd <= time.Duration(s.rotCfg.PreloadMinutes)*time.Minute && untilEnd > 0 {
		s.preload(ctx, market.Slug)
	}
	if untilEnd <= 0 {
		s.handleMarketEnd(ctx, market)
	}
}

// preload 临近结束时提前解析好下一盘
func (s *Supervisor) preload(ctx context.Context, exclude string) {
	s.mu.Lock()
	cached := s.next
	s.mu.Unlock()
	if cached != nil {
		return
	}

	next, err := s.finder.Next(ctx, s.query(exclude))
	if err != nil || next == nil {
		s.log.Warnf("⚠️ 预载下一盘失败: %v", err)
		return
	}
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()
	s.log.Infof("🔄 预载下一盘: %s（%s 结束）", next.Slug, next.EndTime.Format("15:04:05"))
}

// handleMarketEnd 市场到点：清残留持仓，停引擎，切到下一盘
func (s *Supervisor) handleMarketEnd(ctx context.Context, market *domain.Market) {
	round := s.engine.CurrentRound()
	if s.rotCfg.AutoSettle && round != nil && round.Leg1 != nil && !round.Merged {
		s.settleLeftovers(ctx, market, round)
	}

	s.engine.Stop()

	s.mu.Lock()
	next := s.next
	s.next = nil
	s.mu.Unlock()

	if next == nil {
		var err error
		next, err = s.finder.Next(ctx, s.query(market.Slug))
		if err != nil || next == nil {
			s.log.Warnf("⚠️ 市场 %s 已结束但找不到下一盘，下个 tick 重试: %v", market.Slug, err)
			return
		}
	}

	if err := s.engine.Start(next); err != nil {
		s.log.Errorf("🛑 切换到 %s 失败: %v", next.Slug, err)
		return
	}
	s.log.Infof("✅ 换盘完成: %s → %s", market.Slug, next.Slug)
	metrics.Rotations.Add(1)
	s.emitter.Emit(events.KindRotate, &events.RotatePayload{
		PreviousMarket: market.Slug,
		NewMarket:      next.Slug,
		Reason:         "marketEnded",
		Timestamp:      s.now(),
	})
}

// swapMarket 手动/初始换盘：不等市场结束，直接扫盘切换
func (s *Supervisor) swapMarket(ctx context.Context, reason string) error {
	var prevSlug string
	market := s.engine.Market()
	if market != nil {
		prevSlug = market.Slug
	}

	next, err := s.finder.Next(ctx, s.query(prevSlug))
	if err != nil {
		return err
	}
	if next == nil {
		return fmt.Errorf("没有可用的候选市场")
	}

	if s.engine.Running() {
		round := s.engine.CurrentRound()
		if s.rotCfg.AutoSettle && round != nil && round.Leg1 != nil && !round.Merged && market != nil {
			s.settleLeftovers(ctx, market, round)
		}
		s.engine.Stop()
	}
	if err := s.engine.Start(next); err != nil {
		return err
	}

	s.log.Infof("✅ 换盘（%s）: %s → %s", reason, prevSlug, next.Slug)
	metrics.Rotations.Add(1)
	s.emitter.Emit(events.KindRotate, &events.RotatePayload{
		PreviousMarket: prevSlug,
		NewMarket:      next.Slug,
		Reason:         reason,
		Timestamp:      s.now(),
	})
	return nil
}

// settleLeftovers 处理换盘时的残留持仓：redeem 入队等解析，sell 立即清仓
func (s *Supervisor) settleLeftovers(ctx context.Context, market *domain.Market, round *domain.Round) {
	switch s.rotCfg.SettleStrategy {
	case config.SettleStrategySell:
		s.sellOpenLegs(ctx, market, round)
	default:
		shares := round.Leg1.Size
		s.mu.Lock()
		s.queue.enqueue(&domain.PendingRedemption{
			MarketSlug:  market.Slug,
			ConditionID: market.ConditionID,
			NegRisk:     market.NegRisk,
			TokenIDs:    []string{market.UpTokenID, market.DownTokenID},
			Shares:      shares,
			EnqueuedAt:  s.now(),
			NotBefore:   market.EndTime.Add(time.Duration(s.rotCfg.RedeemWaitMinutes) * time.Minute),
		})
		s.mu.Unlock()
	}
}

// sellOpenLegs 逐腿市价清仓，卖价挂 best bid 之下保证成交
func (s *Supervisor) sellOpenLegs(ctx context.Context, market *domain.Market, round *domain.Round) {
	upBook, downBook, err := s.books.PairBooks(ctx, market)
	if err != nil {
		s.log.Warnf("⚠️ 清仓取盘口失败，跳过 sell: %v", err)
		return
	}

	for _, fill := range []*domain.FillRecord{round.Leg1, round.Leg2} {
		if fill == nil {
			continue
		}
		book := upBook
		if fill.Side == domain.SideDown {
			book = downBook
		}
		bid, _ := book.BestBid()
		if bid <= 0 {
			s.log.Warnf("⚠️ %s 侧无买盘，放弃清仓", fill.Side)
			continue
		}
		limit := clampPrice(bid - sellPriceOffset)

		res, err := s.exec.MarketOrder(ctx, &ports.OrderRequest{
			TokenID:    fill.TokenID,
			Side:       ports.SideSell,
			Shares:     fill.Size,
			LimitPrice: limit,
			NegRisk:    market.NegRisk,
		})

		payload := &events.SettledPayload{Strategy: "sell", MarketSlug: market.Slug}
		if err != nil || res == nil || !res.Success {
			payload.Error = "清仓卖出失败"
			if err != nil {
				payload.Error = err.Error()
			} else if res != nil && res.ErrorMessage != "" {
				payload.Error = res.ErrorMessage
			}
			s.log.Warnf("⚠️ %s 侧清仓失败: %s", fill.Side, payload.Error)
		} else {
			payload.Success = true
			payload.AmountReceived = res.AvgPrice * res.FilledShares
			if payload.AmountReceived <= 0 {
				// 执行方没报成交额，按盘口买一估
				payload.AmountReceived = bid * fill.Size
			}
			s.log.Infof("💰 %s 侧清仓 %.2f 股，约 %.4f USDC", fill.Side, fill.Size, payload.AmountReceived)
		}
		s.emitter.Emit(events.KindSettled, payload)
	}
}

// redeemTick 消化待赎回队列
func (s *Supervisor) redeemTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	s.mu.Lock()
	due := s.queue.takeDue(s.now())
	s.mu.Unlock()
	if len(due) == 0 {
		return
	}

	// 结算 RPC 在锁外跑，状态快照和换盘入队不会被赎回节奏卡住
	keep, pending := s.queue.settleBatch(ctx, s.settle, due)

	s.mu.Lock()
	s.queue.requeue(keep)
	s.mu.Unlock()

	for _, ev := range pending {
		s.emitter.Emit(ev.Kind, ev.Payload)
	}
}

func (s *Supervisor) query(exclude string) discovery.Query {
	tf, _ := marketspec.ParseTimeframe(s.discCfg.Timeframe)
	return discovery.Query{
		Coins:       s.discCfg.Coins,
		Timeframes:  []marketspec.Timeframe{tf},
		MinUntilEnd: time.Duration(s.discCfg.MinMinutesUntilEnd) * time.Minute,
		MaxUntilEnd: time.Duration(s.discCfg.MaxMinutesUntilEnd) * time.Minute,
		SortBy:      s.discCfg.SortBy,
		Exclude:     exclude,
	}
}

func clampPrice(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}
