package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/ports"
)

// DryRunAdapter 模拟执行：不发任何请求，按限价全额成交。
// 用于 dryRun 配置打开时跑完整信号链路而不动真金。
type DryRunAdapter struct {
	mu     sync.Mutex
	orders []ports.OrderRequest
	log    *logrus.Entry
}

func NewDryRunAdapter() *DryRunAdapter {
	return &DryRunAdapter{log: logrus.WithField("component", "execution.dryrun")}
}

func (a *DryRunAdapter) MarketOrder(_ context.Context, req *ports.OrderRequest) (*ports.OrderResult, error) {
	if req == nil || req.TokenID == "" {
		return nil, domain.NewError(domain.ErrValidation, "下单请求缺 tokenID", nil)
	}
	a.mu.Lock()
	a.orders = append(a.orders, *req)
	a.mu.Unlock()

	a.log.Infof("🧪 dry-run %s %s: %.4f 股 @ %.4f", req.Side, shortToken(req.TokenID), req.Shares, req.LimitPrice)
	return &ports.OrderResult{
		Success:      true,
		OrderID:      "dryrun-" + uuid.NewString(),
		FilledShares: req.Shares,
		AvgPrice:     req.LimitPrice,
	}, nil
}

// Orders 已记录的模拟订单快照
func (a *DryRunAdapter) Orders() []ports.OrderRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ports.OrderRequest, len(a.orders))
	copy(out, a.orders)
	return out
}
