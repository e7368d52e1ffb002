package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/ports"
)

// executionTimeout 单腿下单的 RPC 上限
const executionTimeout = 30 * time.Second

// ExecResult 手动执行入口的结构化返回
type ExecResult struct {
	Success      bool          `json:"success"`
	Leg          string        `json:"leg"` // leg1 | leg2 | merge
	RoundID      string        `json:"roundId,omitempty"`
	OrderID      string        `json:"orderId,omitempty"`
	Price        float64       `json:"price,omitempty"`
	Shares       float64       `json:"shares,omitempty"`
	TxHash       string        `json:"txHash,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// runAutoExecution 自动执行派发入口。调用前 isExecuting 已置位。
func (e *Engine) runAutoExecution(session int64, sig *domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), executionTimeout)
	defer cancel()

	res := e.executeLeg(ctx, session, sig, true)
	if !res.Success {
		e.log.WithField("leg", res.Leg).Warnf("⚠️ 自动执行失败: %s", res.ErrorMessage)
	}
}

// ExecuteLeg1 手动执行第一腿
func (e *Engine) ExecuteLeg1(ctx context.Context, sig *domain.Signal) *ExecResult {
	if sig == nil || sig.Leg != 1 {
		return &ExecResult{Leg: "leg1", ErrorMessage: "信号为空或不是第一腿信号"}
	}
	return e.executeLeg(ctx, -1, sig, false)
}

// ExecuteLeg2 手动执行第二腿
func (e *Engine) ExecuteLeg2(ctx context.Context, sig *domain.Signal) *ExecResult {
	if sig == nil || sig.Leg != 2 {
		return &ExecResult{Leg: "leg2", ErrorMessage: "信号为空或不是第二腿信号"}
	}
	return e.executeLeg(ctx, -1, sig, false)
}

// executeLeg 两腿共用的执行路径。
// auto 为真时 isExecuting 已由检测路径置位；手动路径在这里抢占。
// session 为 -1 表示手动调用，用当前会话。
func (e *Engine) executeLeg(ctx context.Context, session int64, sig *domain.Signal, auto bool) *ExecResult {
	label := fmt.Sprintf("leg%d", sig.Leg)

	e.mu.Lock()
	if !e.running || e.round == nil || e.market == nil {
		e.mu.Unlock()
		if auto {
			e.clearExecuting()
		}
		return &ExecResult{Leg: label, ErrorMessage: "引擎未启动或没有进行中的轮次"}
	}
	wantPhase := domain.PhaseWaiting
	if sig.Leg == 2 {
		wantPhase = domain.PhaseLeg1Filled
	}
	if e.round.Phase != wantPhase {
		roundID := e.round.ID
		phase := e.round.Phase
		e.mu.Unlock()
		if auto {
			e.clearExecuting()
		}
		return &ExecResult{Leg: label, RoundID: roundID, ErrorMessage: fmt.Sprintf("轮次阶段 %s 不允许执行 %s", phase, label)}
	}
	if !auto {
		if e.isExecuting {
			e.mu.Unlock()
			return &ExecResult{Leg: label, ErrorMessage: "已有执行在途"}
		}
		e.isExecuting = true
	}
	if session < 0 {
		session = e.session
	}
	roundID := e.round.ID
	shares := sig.Shares
	if shares <= 0 {
		shares = e.cfg.Shares
	}
	negRisk := e.market.NegRisk
	autoMerge := e.cfg.AutoMerge
	conditionID := e.market.ConditionID
	e.mu.Unlock()

	start := time.Now()
	orderRes, err := e.exec.MarketOrder(ctx, &ports.OrderRequest{
		TokenID:     sig.TokenID,
		Side:        ports.SideBuy,
		Shares:      shares,
		LimitPrice:  sig.TargetPrice,
		QuoteAmount: shares * sig.TargetPrice,
		NegRisk:     negRisk,
	})
	elapsed := time.Since(start)

	if err != nil || orderRes == nil || !orderRes.Success {
		msg := "下单失败"
		if err != nil {
			msg = err.Error()
		} else if orderRes != nil && orderRes.ErrorMessage != "" {
			msg = orderRes.ErrorMessage
		}
		e.clearExecuting()
		e.breaker.RecordFailure()
		e.emitter.Emit(events.KindExecution, &events.ExecutionPayload{
			Success: false, Leg: sig.Leg, RoundID: roundID,
			ElapsedMs: elapsed.Milliseconds(), Error: msg,
		})
		e.emitError(domain.NewError(domain.ErrExecutionFailed, fmt.Sprintf("%s 执行失败: %s", label, msg), err))
		return &ExecResult{Leg: label, RoundID: roundID, Elapsed: elapsed, ErrorMessage: msg}
	}

	fillPrice := orderRes.AvgPrice
	if fillPrice <= 0 {
		fillPrice = sig.TargetPrice
	}
	fillSize := orderRes.FilledShares
	if fillSize <= 0 {
		fillSize = shares
	}
	fill := &domain.FillRecord{
		OrderID:  orderRes.OrderID,
		TokenID:  sig.TokenID,
		Side:     sig.Side,
		Price:    fillPrice,
		Size:     fillSize,
		FilledAt: time.Now(),
	}

	e.breaker.RecordSuccess()

	var pending []events.Event
	var completedRound *domain.Round

	e.mu.Lock()
	e.isExecuting = false
	e.lastExecution = time.Now()
	stale := !e.running || e.session != session || e.round == nil || e.round.ID != roundID
	if !stale {
		if sig.Leg == 1 {
			e.round.CompleteLeg1(fill)
			e.stats.Leg1Filled++
			e.stats.TotalSpent += fillPrice * fillSize
		} else {
			e.round.CompleteLeg2(fill, fill.FilledAt)
			e.stats.Leg2Filled++
			e.stats.RoundsCompleted++
			e.stats.RoundsSuccessful++
			e.stats.TotalSpent += fillPrice * fillSize
			e.stats.TotalProfit += e.round.Profit
			e.breaker.AddPnL(e.round.Profit)
			snapshot := *e.round
			completedRound = &snapshot
		}
	}
	e.mu.Unlock()

	pending = append(pending, events.Event{
		Kind: events.KindExecution,
		Payload: &events.ExecutionPayload{
			Success: true, Leg: sig.Leg, RoundID: roundID, OrderID: orderRes.OrderID,
			Price: fillPrice, Shares: fillSize, ElapsedMs: elapsed.Milliseconds(),
		},
	})

	if stale {
		// 停机后在途订单跑完即止，不回写轮次状态
		e.flush(pending)
		return &ExecResult{Success: true, Leg: label, RoundID: roundID, OrderID: orderRes.OrderID,
			Price: fillPrice, Shares: fillSize, Elapsed: elapsed}
	}

	e.log.WithFields(logrus.Fields{
		"leg": label, "price": fillPrice, "shares": fillSize,
	}).Info("✅ 成交")

	// 两腿齐：先尝试 merge，再把终态连同 merge 结果一起发出去
	if completedRound != nil {
		merged, mergeTx := false, ""
		if autoMerge {
			merged, mergeTx = e.tryAutoMerge(ctx, conditionID, fillSize, negRisk, roundID)
		}
		e.mu.Lock()
		if e.round != nil && e.round.ID == roundID {
			e.round.Merged = merged
		}
		e.mu.Unlock()
		pending = append(pending, events.Event{
			Kind: events.KindRoundComplete,
			Payload: &events.RoundCompletePayload{
				RoundID:     completedRound.ID,
				MarketSlug:  completedRound.MarketSlug,
				Status:      events.StatusCompleted,
				TotalCost:   completedRound.TotalCost,
				Profit:      completedRound.Profit,
				Merged:      merged,
				MergeTxHash: mergeTx,
			},
		})
	}

	e.flush(pending)
	return &ExecResult{Success: true, Leg: label, RoundID: roundID, OrderID: orderRes.OrderID,
		Price: fillPrice, Shares: fillSize, Elapsed: elapsed}
}

// tryAutoMerge 两腿齐后的自动 merge，失败只发错误事件不影响轮次终态
func (e *Engine) tryAutoMerge(ctx context.Context, conditionID string, shares float64, negRisk bool, roundID string) (bool, string) {
	res, err := e.settle.Merge(ctx, conditionID, shares, negRisk)
	if err != nil || res == nil || !res.Success {
		msg := "merge 失败"
		if err != nil {
			msg = err.Error()
		}
		e.emitError(domain.NewError(domain.ErrExecutionFailed, fmt.Sprintf("自动 merge 失败: %s", msg), err))
		return false, ""
	}
	e.log.WithField("round", roundID).Info("✅ 两腿份额已 merge 回 USDC")
	return true, res.TxHash
}

// MergePosition 手动 merge 当前已完成轮次的双边份额
func (e *Engine) MergePosition(ctx context.Context) *ExecResult {
	e.mu.Lock()
	if e.market == nil || e.round == nil || e.round.Phase != domain.PhaseCompleted || e.round.Leg2 == nil {
		e.mu.Unlock()
		return &ExecResult{Leg: "merge", ErrorMessage: "当前没有两腿齐的轮次可 merge"}
	}
	if e.round.Merged {
		roundID := e.round.ID
		e.mu.Unlock()
		return &ExecResult{Leg: "merge", RoundID: roundID, ErrorMessage: "本轮已经 merge 过"}
	}
	conditionID := e.market.ConditionID
	negRisk := e.market.NegRisk
	shares := e.round.Leg2.Size
	roundID := e.round.ID
	e.mu.Unlock()

	start := time.Now()
	res, err := e.settle.Merge(ctx, conditionID, shares, negRisk)
	elapsed := time.Since(start)
	if err != nil || res == nil || !res.Success {
		msg := "merge 失败"
		if err != nil {
			msg = err.Error()
		}
		e.emitError(domain.NewError(domain.ErrExecutionFailed, msg, err))
		return &ExecResult{Leg: "merge", RoundID: roundID, Elapsed: elapsed, ErrorMessage: msg}
	}

	e.mu.Lock()
	if e.round != nil && e.round.ID == roundID {
		e.round.Merged = true
	}
	e.mu.Unlock()

	e.emitter.Emit(events.KindSettled, &events.SettledPayload{
		Success: true, Strategy: "merge", TxHash: res.TxHash,
	})
	return &ExecResult{Success: true, Leg: "merge", RoundID: roundID, TxHash: res.TxHash, Shares: shares, Elapsed: elapsed}
}

// clearExecuting 失败路径上释放在途标记并记冷却时间
func (e *Engine) clearExecuting() {
	e.mu.Lock()
	e.isExecuting = false
	e.lastExecution = time.Now()
	e.mu.Unlock()
}
