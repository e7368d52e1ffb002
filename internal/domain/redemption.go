package domain

import "time"

// PendingRedemption 等待链上赎回的持仓，换盘时入队，由赎回队列按节奏消化
type PendingRedemption struct {
	MarketSlug  string    `json:"marketSlug"`
	ConditionID string    `json:"conditionId"`
	NegRisk     bool      `json:"negRisk"`
	TokenIDs    []string  `json:"tokenIds"` // 持有份额的 token
	Shares      float64   `json:"shares"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	NotBefore   time.Time `json:"notBefore"` // 等市场解析，早于此时间不尝试
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
}

// SettlementResult 一次结算（赎回或卖出）的结果
type SettlementResult struct {
	MarketSlug     string    `json:"marketSlug"`
	ConditionID    string    `json:"conditionId"`
	Method         string    `json:"method"` // redeem / sell / merge
	AmountReceived float64   `json:"amountReceived"`
	TxHash         string    `json:"txHash,omitempty"`
	SettledAt      time.Time `json:"settledAt"`
}
