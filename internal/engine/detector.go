package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/betbot/diparb/internal/domain"
)

// 检测器：每次订单簿更新后在持锁状态下运行。
// waiting 阶段按 闪跌 → 急涨 → 错价 的顺序评估，先出的信号赢；
// leg1_filled 阶段只评估对冲腿的总成本门槛。

// mispricingSlope 预言机偏离到名义胜率的放大系数
const mispricingSlope = 10.0

// detectLeg1Locked waiting 阶段的第一腿检测。
// 只在开盘后 windowMinutes 内准入；最后统一过一遍校验。
func (e *Engine) detectLeg1Locked(now time.Time) *domain.Signal {
	if e.round == nil || e.round.Phase != domain.PhaseWaiting {
		return nil
	}
	if e.round.Leg1SignalEmitted {
		return nil
	}
	if now.Sub(e.round.StartedAt) > e.cfg.SignalWindow() {
		return nil
	}
	if e.upAsk <= 0 || e.downAsk <= 0 {
		return nil
	}

	sig := e.detectDipLocked(now)
	if sig == nil && e.cfg.EnableSurge {
		sig = e.detectSurgeLocked(now)
	}
	if sig == nil {
		sig = e.detectMispricingLocked(now)
	}
	if sig == nil {
		return nil
	}
	if !e.validateLeg1Locked(sig) {
		return nil
	}
	return sig
}

// detectDipLocked 闪跌检测：当前价相对滑动窗口参考价跌幅达阈值。
// UP 先查，DOWN 后查，两侧独立。
func (e *Engine) detectDipLocked(now time.Time) *domain.Signal {
	ref, ok := e.history.RefAt(now.Add(-e.cfg.SlidingWindow()))
	if !ok {
		return nil
	}

	for _, side := range []domain.OutcomeSide{domain.SideUp, domain.SideDown} {
		refPrice := ref.upAsk
		cur := e.upAsk
		opposite := e.downAsk
		if side == domain.SideDown {
			refPrice = ref.downAsk
			cur = e.downAsk
			opposite = e.upAsk
		}
		if refPrice <= 0 {
			continue
		}
		drop := (refPrice - cur) / refPrice
		if drop < e.cfg.DipThreshold {
			continue
		}
		return e.buildLeg1Locked(domain.SignalDip, side, refPrice, cur, drop, opposite, now)
	}
	return nil
}

// detectSurgeLocked 急涨检测：某侧窗口内涨幅达阈值时买对侧。
// 记录的参考价是对侧的窗口参考价。
func (e *Engine) detectSurgeLocked(now time.Time) *domain.Signal {
	ref, ok := e.history.RefAt(now.Add(-e.cfg.SlidingWindow()))
	if !ok {
		return nil
	}

	for _, surged := range []domain.OutcomeSide{domain.SideUp, domain.SideDown} {
		surgedRef := ref.upAsk
		surgedCur := e.upAsk
		buyRef := ref.downAsk
		buyCur := e.downAsk
		if surged == domain.SideDown {
			surgedRef = ref.downAsk
			surgedCur = e.downAsk
			buyRef = ref.upAsk
			buyCur = e.upAsk
		}
		if surgedRef <= 0 || buyRef <= 0 {
			continue
		}
		rise := (surgedCur - surgedRef) / surgedRef
		if rise < e.cfg.SurgeThreshold {
			continue
		}
		return e.buildLeg1Locked(domain.SignalSurge, surged.Opposite(), buyRef, buyCur, rise, surgedCur, now)
	}
	return nil
}

// detectMispricingLocked 错价检测：用预言机偏离推算名义胜率，
// 胜率明显高于盘口卖价时买入。priceToBeat 或现价缺失时跳过。
func (e *Engine) detectMispricingLocked(now time.Time) *domain.Signal {
	if e.priceToBeat <= 0 || e.lastOracle <= 0 {
		return nil
	}

	pUp := clamp(0.5+mispricingSlope*(e.lastOracle-e.priceToBeat)/e.priceToBeat, 0.05, 0.95)

	if pUp-e.upAsk >= e.cfg.DipThreshold {
		return e.buildLeg1Locked(domain.SignalMispricing, domain.SideUp, e.roundUpOpen, e.upAsk, pUp-e.upAsk, e.downAsk, now)
	}
	if (1-pUp)-e.downAsk >= e.cfg.DipThreshold {
		return e.buildLeg1Locked(domain.SignalMispricing, domain.SideDown, e.roundDownOpen, e.downAsk, (1-pUp)-e.downAsk, e.upAsk, now)
	}
	return nil
}

// buildLeg1Locked 组装第一腿信号并算预估成本/利润率
func (e *Engine) buildLeg1Locked(kind domain.SignalKind, side domain.OutcomeSide, openPrice, cur, drop, oppositeAsk float64, now time.Time) *domain.Signal {
	target := cur * (1 + e.cfg.MaxSlippage)
	estCost := target + oppositeAsk
	estRate := 0.0
	if estCost > 0 {
		estRate = (1 - estCost) / estCost
	}
	return &domain.Signal{
		ID:                  uuid.NewString(),
		Kind:                kind,
		Leg:                 1,
		MarketSlug:          e.market.Slug,
		Side:                side,
		TokenID:             e.market.TokenID(side),
		Shares:              e.cfg.Shares,
		OpenPrice:           openPrice,
		CurrentPrice:        cur,
		DropPercent:         drop,
		TargetPrice:         target,
		EstimatedTotalCost:  estCost,
		EstimatedProfitRate: estRate,
		Timestamp:           now,
	}
}

// validateLeg1Locked 出信号前的兜底校验：价格必须在 (0,1)，幅度必须过阈值
func (e *Engine) validateLeg1Locked(sig *domain.Signal) bool {
	if sig.CurrentPrice <= 0 || sig.CurrentPrice >= 1 {
		return false
	}
	threshold := e.cfg.DipThreshold
	if sig.Kind == domain.SignalSurge {
		threshold = e.cfg.SurgeThreshold
	}
	if sig.DropPercent < threshold {
		return false
	}
	if sig.EstimatedProfitRate < e.cfg.MinProfitRate {
		return false
	}
	return true
}

// detectLeg2Locked leg1_filled 阶段的对冲腿检测。
// 总成本门槛只在第二腿生效：第一腿的任务是低价拿到闪跌侧，
// 结构性利润的闸口放在对冲时刻。
func (e *Engine) detectLeg2Locked(now time.Time) *domain.Signal {
	if e.round == nil || e.round.Phase != domain.PhaseLeg1Filled || e.round.Leg1 == nil {
		return nil
	}

	hedge := e.round.Leg1.Side.Opposite()
	ask := e.upAsk
	if hedge == domain.SideDown {
		ask = e.downAsk
	}
	if ask <= 0 || ask >= 1 {
		return nil
	}

	totalCost := e.round.Leg1.Price + ask
	if totalCost > e.cfg.SumTarget {
		return nil
	}

	return &domain.Signal{
		ID:                 uuid.NewString(),
		Kind:               domain.SignalLeg2,
		Leg:                2,
		MarketSlug:         e.market.Slug,
		Side:               hedge,
		TokenID:            e.market.TokenID(hedge),
		Shares:             e.round.Leg1.Size,
		OpenPrice:          e.round.Leg1.Price,
		CurrentPrice:       ask,
		TargetPrice:        ask * (1 + e.cfg.MaxSlippage),
		EstimatedTotalCost: totalCost,
		ExpectedProfitRate: (1 - totalCost) / totalCost,
		Timestamp:          now,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
