package ports

import (
	"context"
)

// MergeResult merge 结果：等量 UP/DOWN 份额合并回 USDC
type MergeResult struct {
	Success bool
	TxHash  string
}

// RedeemResult 赎回结果
type RedeemResult struct {
	Success      bool
	USDCReceived float64
	TxHash       string
}

// Resolution 市场结算状态
type Resolution struct {
	IsResolved bool
	Winner     string // "UP" 或 "DOWN"，未结算为空
}

// SettlementAdapter 链上结算适配器
type SettlementAdapter interface {
	// Merge 把 shares 份 UP+DOWN 合并成等额 USDC，调用方须两侧都持有至少 shares 份
	Merge(ctx context.Context, conditionID string, shares float64, negRisk bool) (*MergeResult, error)
	// RedeemByTokenIDs 按 token 赎回胜方份额
	RedeemByTokenIDs(ctx context.Context, conditionID string, upTokenID, downTokenID string, negRisk bool) (*RedeemResult, error)
	// MarketResolution 查询预言机是否已结算
	MarketResolution(ctx context.Context, conditionID string) (*Resolution, error)
}
