package orderbook

import (
	"fmt"
	"time"

	"github.com/betbot/diparb/pkg/marketmath"
)

// imbalanceEpsilon 防止空卖侧除零
const imbalanceEpsilon = 1e-9

// Opportunity complete-set 套利机会
type Opportunity struct {
	Type   string  `json:"type"` // long | short
	Profit float64 `json:"profit"`
	Action string  `json:"action"`
}

// PairMetrics 一对 UP/DOWN 订单簿的点差与套利指标。
// primary=UP/YES，secondary=DOWN/NO。
type PairMetrics struct {
	MarketSlug string `json:"marketSlug"`

	YesBestBid     float64 `json:"yesBestBid"`
	YesBestBidSize float64 `json:"yesBestBidSize"`
	YesBestAsk     float64 `json:"yesBestAsk"`
	YesBestAskSize float64 `json:"yesBestAskSize"`
	NoBestBid      float64 `json:"noBestBid"`
	NoBestBidSize  float64 `json:"noBestBidSize"`
	NoBestAsk      float64 `json:"noBestAsk"`
	NoBestAskSize  float64 `json:"noBestAskSize"`

	YesBidDepth   float64 `json:"yesBidDepth"`
	YesAskDepth   float64 `json:"yesAskDepth"`
	NoBidDepth    float64 `json:"noBidDepth"`
	NoAskDepth    float64 `json:"noAskDepth"`
	TotalBidDepth float64 `json:"totalBidDepth"`
	TotalAskDepth float64 `json:"totalAskDepth"`

	AskSum float64 `json:"askSum"`
	BidSum float64 `json:"bidSum"`

	EffectiveBuyYes  float64 `json:"effectiveBuyYes"`
	EffectiveBuyNo   float64 `json:"effectiveBuyNo"`
	EffectiveSellYes float64 `json:"effectiveSellYes"`
	EffectiveSellNo  float64 `json:"effectiveSellNo"`

	LongArbProfit  float64 `json:"longArbProfit"`
	ShortArbProfit float64 `json:"shortArbProfit"`
	ImbalanceRatio float64 `json:"imbalanceRatio"`

	// nil 表示没有超过阈值的机会
	Arb *Opportunity `json:"arb,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ComputePairMetrics 从两侧归一化订单簿算出全部派生指标。
// threshold <= 0 时用默认套利阈值。
func ComputePairMetrics(slug string, yes, no *Book, threshold float64) (*PairMetrics, error) {
	if yes == nil || no == nil {
		return nil, fmt.Errorf("pair metrics 需要两侧订单簿")
	}
	if threshold <= 0 {
		threshold = marketmath.DefaultArbThreshold
	}

	m := &PairMetrics{MarketSlug: slug, Timestamp: time.Now()}
	m.YesBestBid, m.YesBestBidSize = yes.BestBid()
	m.YesBestAsk, m.YesBestAskSize = yes.BestAsk()
	m.NoBestBid, m.NoBestBidSize = no.BestBid()
	m.NoBestAsk, m.NoBestAskSize = no.BestAsk()

	m.YesBidDepth = yes.BidDepth()
	m.YesAskDepth = yes.AskDepth()
	m.NoBidDepth = no.BidDepth()
	m.NoAskDepth = no.AskDepth()
	m.TotalBidDepth = m.YesBidDepth + m.NoBidDepth
	m.TotalAskDepth = m.YesAskDepth + m.NoAskDepth

	m.AskSum = m.YesBestAsk + m.NoBestAsk
	m.BidSum = m.YesBestBid + m.NoBestBid
	m.ImbalanceRatio = m.TotalBidDepth / (m.TotalAskDepth + imbalanceEpsilon)

	tob := marketmath.TopOfBook{
		YesBid: m.YesBestBid,
		YesAsk: m.YesBestAsk,
		NoBid:  m.NoBestBid,
		NoAsk:  m.NoBestAsk,
	}
	eff, err := marketmath.GetEffectivePrices(tob)
	if err != nil {
		return nil, err
	}
	m.EffectiveBuyYes = eff.EffectiveBuyYes
	m.EffectiveBuyNo = eff.EffectiveBuyNo
	m.EffectiveSellYes = eff.EffectiveSellYes
	m.EffectiveSellNo = eff.EffectiveSellNo

	if m.EffectiveBuyYes > 0 && m.EffectiveBuyNo > 0 {
		m.LongArbProfit = 1 - (m.EffectiveBuyYes + m.EffectiveBuyNo)
	}
	if m.EffectiveSellYes > 0 && m.EffectiveSellNo > 0 {
		m.ShortArbProfit = (m.EffectiveSellYes + m.EffectiveSellNo) - 1
	}

	if arb, _ := marketmath.CheckArbitrage(tob, threshold); arb != nil {
		action := ""
		if arb.Type == "long" {
			action = fmt.Sprintf("买入 YES@%.4f + NO@%.4f，merge 每股锁定 %.4f", arb.BuyYes, arb.BuyNo, arb.Profit)
		} else {
			action = fmt.Sprintf("split 后卖出 YES@%.4f + NO@%.4f，每股锁定 %.4f", arb.SellYes, arb.SellNo, arb.Profit)
		}
		m.Arb = &Opportunity{Type: arb.Type, Profit: arb.Profit, Action: action}
	}

	return m, nil
}
