package ports

import (
	"context"
)

// 适配器接口统一放在这个中立包里，避免 engine、rotation、infrastructure 之间的循环依赖。

// OrderSide 下单方向
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest 即时成交（吃单）请求。
// Shares 为目标份额，LimitPrice 为含滑点的限价，QuoteAmount = Shares*LimitPrice。
type OrderRequest struct {
	TokenID     string
	Side        OrderSide
	Shares      float64
	LimitPrice  float64
	QuoteAmount float64
	NegRisk     bool
}

// OrderResult 执行结果。部分成交按实际成交份额算成功。
type OrderResult struct {
	Success      bool
	OrderID      string
	FilledShares float64
	AvgPrice     float64
	TxHashes     []string
	ErrorMessage string
}

// ExecutionAdapter 即时成交执行适配器（FAK 语义）
type ExecutionAdapter interface {
	MarketOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
}
