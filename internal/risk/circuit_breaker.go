package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrHalted 熔断器已打开，禁止继续自动执行。
var ErrHalted = fmt.Errorf("风控熔断已触发")

// pnlScale 内部以微 USDC 计数，和链上 6 位精度同口径
const pnlScale = 1e6

// BreakerConfig 熔断配置。阈值 <= 0 表示关闭对应限制。
type BreakerConfig struct {
	// MaxConsecutiveFailures 连续执行失败上限（下单被拒/FAK 未成交等）
	MaxConsecutiveFailures int64
	// DailyLossLimitUSDC 当日最大亏损（USDC）。达到即熔断，次日自动清零。
	DailyLossLimitUSDC float64
}

// Breaker 自动执行熔断器。
// 行情回调的快路径只读原子变量，不加锁。
type Breaker struct {
	halted atomic.Bool

	consecutiveFailures atomic.Int64
	dailyPnlMicro       atomic.Int64
	dayKey              atomic.Int64 // YYYYMMDD

	maxConsecutiveFailures atomic.Int64
	dailyLossLimitMicro    atomic.Int64
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{}
	b.SetConfig(cfg)
	return b
}

// SetConfig 原子替换阈值，运行中可调
func (b *Breaker) SetConfig(cfg BreakerConfig) {
	if b == nil {
		return
	}
	b.maxConsecutiveFailures.Store(cfg.MaxConsecutiveFailures)
	b.dailyLossLimitMicro.Store(int64(cfg.DailyLossLimitUSDC * pnlScale))
}

// Halt 手动熔断
func (b *Breaker) Halt() {
	if b == nil {
		return
	}
	b.halted.Store(true)
}

// Resume 手动恢复，连续失败计数同时清零
func (b *Breaker) Resume() {
	if b == nil {
		return
	}
	b.halted.Store(false)
	b.consecutiveFailures.Store(0)
}

// Halted 当前是否处于熔断态（只读，不触发状态迁移）
func (b *Breaker) Halted() bool {
	return b != nil && b.halted.Load()
}

// Allow 自动执行前的快路径检查，触线时自动置入熔断态
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	if b.halted.Load() {
		return ErrHalted
	}

	maxFail := b.maxConsecutiveFailures.Load()
	if maxFail > 0 && b.consecutiveFailures.Load() >= maxFail {
		b.halted.Store(true)
		return ErrHalted
	}

	limit := b.dailyLossLimitMicro.Load()
	if limit > 0 {
		b.rollDayIfNeeded()
		if b.dailyPnlMicro.Load() <= -limit {
			b.halted.Store(true)
			return ErrHalted
		}
	}
	return nil
}

// RecordSuccess 一腿成交后清零连续失败计数
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.consecutiveFailures.Store(0)
}

// RecordFailure 一腿执行失败后累计
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.consecutiveFailures.Add(1)
}

// AddPnL 轮次终态时更新当日盈亏（USDC，负数为亏损）
func (b *Breaker) AddPnL(usdc float64) {
	if b == nil {
		return
	}
	b.rollDayIfNeeded()
	b.dailyPnlMicro.Add(int64(usdc * pnlScale))
}

func (b *Breaker) rollDayIfNeeded() {
	// 本地时间切日即可，风控用途不要求跨时区精确
	now := time.Now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := b.dayKey.Load()
	if prev == key {
		return
	}
	if b.dayKey.CompareAndSwap(prev, key) {
		b.dailyPnlMicro.Store(0)
	}
}
