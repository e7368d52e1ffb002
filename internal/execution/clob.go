package execution

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/metrics"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/pkg/sdk/api"
)

const (
	// FAK 回单后查询实际成交量的重试参数
	confirmRetries = 3
	confirmDelay   = 500 * time.Millisecond
)

// ClobGateway 下单与成交确认所需的 CLOB 客户端能力
type ClobGateway interface {
	PlaceOrderFAK(ctx context.Context, tokenID string, side api.Side, size float64, price float64, negRisk bool) (*api.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*api.OpenOrder, error)
}

// ClobAdapter 真实下单适配器。FAK 吃单：限价内能吃多少吃多少，剩余自动撤销，
// 永远不在簿上留单。
type ClobAdapter struct {
	clob ClobGateway
	log  *logrus.Entry
}

func NewClobAdapter(clob ClobGateway) *ClobAdapter {
	return &ClobAdapter{
		clob: clob,
		log:  logrus.WithField("component", "execution"),
	}
}

// MarketOrder 下 FAK 单并确认成交量。
// 价格按 tick 0.01 取整，份额 4 位小数（与交易所下单精度一致）。
func (a *ClobAdapter) MarketOrder(ctx context.Context, req *ports.OrderRequest) (*ports.OrderResult, error) {
	if req == nil || req.TokenID == "" {
		return nil, domain.NewError(domain.ErrValidation, "下单请求缺 tokenID", nil)
	}
	if req.Shares <= 0 {
		return nil, domain.NewError(domain.ErrValidation, fmt.Sprintf("份额 %.4f 非法", req.Shares), nil)
	}
	if req.LimitPrice <= 0 || req.LimitPrice >= 1 {
		return nil, domain.NewError(domain.ErrValidation, fmt.Sprintf("限价 %.4f 不在 (0,1)", req.LimitPrice), nil)
	}

	shares, _ := decimal.NewFromFloat(req.Shares).Round(4).Float64()
	price, _ := decimal.NewFromFloat(req.LimitPrice).Round(2).Float64()

	side := api.SideBuy
	if req.Side == ports.SideSell {
		side = api.SideSell
	}

	a.log.Infof("📤 %s %s: %.4f 股 @ %.2f", side, shortToken(req.TokenID), shares, price)

	metrics.OrdersPlaced.Add(1)
	resp, err := a.clob.PlaceOrderFAK(ctx, req.TokenID, side, shares, price, req.NegRisk)
	if err != nil {
		metrics.OrderFailures.Add(1)
		return nil, domain.NewError(domain.ErrTransport, "FAK 下单失败", err)
	}
	if !resp.Success {
		metrics.OrderFailures.Add(1)
		return &ports.OrderResult{Success: false, ErrorMessage: resp.ErrorMsg}, nil
	}
	if resp.Status == "unmatched" {
		// FAK 没吃到任何流动性，整单已撤销
		metrics.OrderFailures.Add(1)
		return &ports.OrderResult{Success: false, OrderID: resp.OrderID, ErrorMessage: "FAK 未成交"}, nil
	}

	res := &ports.OrderResult{
		Success:      true,
		OrderID:      resp.OrderID,
		FilledShares: shares,
		AvgPrice:     price,
		TxHashes:     resp.OrderHashes,
	}
	a.confirmFill(ctx, res)
	return res, nil
}

// confirmFill 查询订单实际成交量修正估计值。查不到就用下单时的估计，不算失败。
func (a *ClobAdapter) confirmFill(ctx context.Context, res *ports.OrderResult) {
	if res.OrderID == "" {
		return
	}
	for attempt := 0; attempt < confirmRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(confirmDelay):
			}
		}
		order, err := a.clob.GetOrder(ctx, res.OrderID)
		if err != nil {
			continue
		}
		matched, err := strconv.ParseFloat(order.SizeMatched, 64)
		if err != nil || matched <= 0 {
			continue
		}
		res.FilledShares = matched
		if p, err := strconv.ParseFloat(order.Price, 64); err == nil && p > 0 {
			res.AvgPrice = p
		}
		a.log.Infof("✅ 成交确认: %.4f 股 @ %.4f", res.FilledShares, res.AvgPrice)
		return
	}
	a.log.Warnf("⚠️ 订单 %s 成交量确认失败，按下单估计记账", res.OrderID)
}

func shortToken(tokenID string) string {
	if len(tokenID) <= 10 {
		return tokenID
	}
	return tokenID[:10] + "…"
}
