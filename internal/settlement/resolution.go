package settlement

import (
	"context"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/pkg/sdk/api"
)

// ResolutionSource CLOB 市场详情源。结算状态不上链查，
// CLOB 的 winner 标志在预言机出结果后即可用，省一次合约调用。
type ResolutionSource interface {
	GetMarket(ctx context.Context, conditionID string) (*api.MarketInfo, error)
}

func resolveMarket(ctx context.Context, src ResolutionSource, conditionID string) (*ports.Resolution, error) {
	info, err := src.GetMarket(ctx, conditionID)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransport, "查询市场结算状态失败", err)
	}
	if info == nil {
		return nil, domain.NewError(domain.ErrMarketNotFound, "市场不存在: "+conditionID, nil)
	}

	for _, tok := range info.Tokens {
		if !tok.Winner {
			continue
		}
		side, ok := domain.NormalizeOutcome(tok.Outcome)
		if !ok {
			continue
		}
		return &ports.Resolution{IsResolved: true, Winner: string(side)}, nil
	}
	// closed 但还没有 winner 说明预言机未出结果
	return &ports.Resolution{IsResolved: false}, nil
}
