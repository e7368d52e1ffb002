package events

import (
	"time"
)

// Kind 事件类型
type Kind string

const (
	KindStarted       Kind = "started"       // 引擎挂上某个市场
	KindStopped       Kind = "stopped"       // 引擎停止
	KindNewRound      Kind = "newRound"      // 新一轮监控开始
	KindSignal        Kind = "signal"        // 检测器产出信号
	KindExecution     Kind = "execution"     // 一腿执行结果
	KindRoundComplete Kind = "roundComplete" // 轮次终态
	KindPriceUpdate   Kind = "priceUpdate"   // 预言机价格
	KindRotate        Kind = "rotate"        // 市场轮换
	KindSettled       Kind = "settled"       // 结算（redeem/sell/merge）结果
	KindError         Kind = "error"         // 结构化错误
)

// Event 出站事件帧
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// StartedPayload started 事件负载
type StartedPayload struct {
	MarketSlug  string    `json:"marketSlug"`
	ConditionID string    `json:"conditionId"`
	Coin        string    `json:"coin"`
	EndTime     time.Time `json:"endTime"`
}

// NewRoundPayload newRound 事件负载
type NewRoundPayload struct {
	RoundID     string    `json:"roundId"`
	MarketSlug  string    `json:"marketSlug"`
	PriceToBeat float64   `json:"priceToBeat"`
	UpOpen      float64   `json:"upOpen"`
	DownOpen    float64   `json:"downOpen"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// ExecutionPayload execution 事件负载
type ExecutionPayload struct {
	Success   bool    `json:"success"`
	Leg       int     `json:"leg"`
	RoundID   string  `json:"roundId"`
	OrderID   string  `json:"orderId,omitempty"`
	Price     float64 `json:"price"`
	Shares    float64 `json:"shares"`
	ElapsedMs int64   `json:"elapsedMs"`
	Error     string  `json:"error,omitempty"`
}

// roundComplete 的终态取值
const (
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusPartial   = "partial"
)

// RoundCompletePayload roundComplete 事件负载
type RoundCompletePayload struct {
	RoundID     string  `json:"roundId"`
	MarketSlug  string  `json:"marketSlug"`
	Status      string  `json:"status"` // completed | expired | partial
	TotalCost   float64 `json:"totalCost"`
	Profit      float64 `json:"profit"`
	Merged      bool    `json:"merged"`
	MergeTxHash string  `json:"mergeTxHash,omitempty"`
}

// PriceUpdatePayload priceUpdate 事件负载
type PriceUpdatePayload struct {
	Underlying    string  `json:"underlying"`
	Value         float64 `json:"value"`
	PriceToBeat   float64 `json:"priceToBeat"`
	ChangePercent float64 `json:"changePercent"`
}

// RotatePayload rotate 事件负载
type RotatePayload struct {
	PreviousMarket string    `json:"previousMarket,omitempty"`
	NewMarket      string    `json:"newMarket"`
	Reason         string    `json:"reason"` // marketEnded | manual | initial
	Timestamp      time.Time `json:"timestamp"`
}

// SettledPayload settled 事件负载
type SettledPayload struct {
	Success        bool    `json:"success"`
	Strategy       string  `json:"strategy"` // redeem | sell | merge
	MarketSlug     string  `json:"marketSlug"`
	AmountReceived float64 `json:"amountReceived,omitempty"`
	TxHash         string  `json:"txHash,omitempty"`
	Error          string  `json:"error,omitempty"`
}
