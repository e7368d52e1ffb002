package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoundPhase 一轮两腿交易的阶段
type RoundPhase string

const (
	PhaseWaiting    RoundPhase = "waiting"     // 等待第一腿信号
	PhaseLeg1Filled RoundPhase = "leg1_filled" // 第一腿已成交，等待第二腿
	PhaseCompleted  RoundPhase = "completed"   // 两腿齐
	PhaseExpired    RoundPhase = "expired"     // 第二腿超时
)

// SignalKind 信号类型
type SignalKind string

const (
	SignalDip        SignalKind = "dip"        // 闪跌买入
	SignalSurge      SignalKind = "surge"      // 急涨买对侧
	SignalMispricing SignalKind = "mispricing" // oracle 推算价与盘口偏离
	SignalLeg2       SignalKind = "leg2"       // 第二腿对冲
)

// Signal 检测器产出的交易信号
type Signal struct {
	ID          string      `json:"id"`
	Kind        SignalKind  `json:"kind"`
	Leg         int         `json:"leg"` // 1 或 2
	MarketSlug  string      `json:"marketSlug"`
	Side        OutcomeSide `json:"side"`
	TokenID     string      `json:"tokenId"`
	Shares      float64     `json:"shares"`

	OpenPrice    float64 `json:"openPrice"`    // 参考价（窗口参考价或轮次开盘价）
	CurrentPrice float64 `json:"currentPrice"` // 触发时的盘口价
	DropPercent  float64 `json:"dropPercent"`  // 相对跌幅（surge 时为涨幅）
	TargetPrice  float64 `json:"targetPrice"`  // 含滑点的下单限价

	EstimatedTotalCost  float64 `json:"estimatedTotalCost"`  // 第一腿预估两腿总成本
	EstimatedProfitRate float64 `json:"estimatedProfitRate"` // 第一腿预估利润率
	ExpectedProfitRate  float64 `json:"expectedProfitRate"`  // 第二腿锁定利润率

	Timestamp time.Time `json:"timestamp"`
}

// FillRecord 一腿的成交记录
type FillRecord struct {
	OrderID  string      `json:"orderId"`
	TokenID  string      `json:"tokenId"`
	Side     OutcomeSide `json:"side"`
	Price    float64     `json:"price"`
	Size     float64     `json:"size"`
	DryRun   bool        `json:"dryRun"`
	FilledAt time.Time   `json:"filledAt"`
}

// Round 一轮两腿对冲
type Round struct {
	ID         string     `json:"id"`
	MarketSlug string     `json:"marketSlug"`
	Phase      RoundPhase `json:"phase"`
	StartedAt  time.Time  `json:"startedAt"`

	// 每轮每腿至多触发一次
	Leg1SignalEmitted bool `json:"leg1SignalEmitted"`

	Leg1 *FillRecord `json:"leg1,omitempty"`
	Leg2 *FillRecord `json:"leg2,omitempty"`

	TotalCost   float64    `json:"totalCost"`   // leg1.price + leg2.price
	Profit      float64    `json:"profit"`      // shares * (1 - totalCost)
	Merged      bool       `json:"merged"`      // 是否已 merge 回 USDC
	Partial     bool       `json:"partial"`     // 市场结束时只有单腿
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewRound 开一轮新的等待
func NewRound(marketSlug string, now time.Time) *Round {
	return &Round{
		ID:         uuid.NewString(),
		MarketSlug: marketSlug,
		Phase:      PhaseWaiting,
		StartedAt:  now,
	}
}

// Active 是否仍在进行（等信号或等第二腿）
func (r *Round) Active() bool {
	return r.Phase == PhaseWaiting || r.Phase == PhaseLeg1Filled
}

// CompleteLeg1 记录第一腿成交并进入 leg1_filled 阶段
func (r *Round) CompleteLeg1(fill *FillRecord) {
	r.Leg1 = fill
	r.Phase = PhaseLeg1Filled
}

// CompleteLeg2 记录第二腿成交，计算总成本和锁定利润
func (r *Round) CompleteLeg2(fill *FillRecord, now time.Time) {
	r.Leg2 = fill
	r.Phase = PhaseCompleted
	r.TotalCost = r.Leg1.Price + fill.Price
	r.Profit = fill.Size * (1 - r.TotalCost)
	r.CompletedAt = &now
}

// Expire 第二腿超时
func (r *Round) Expire(now time.Time) {
	r.Phase = PhaseExpired
	r.CompletedAt = &now
}
