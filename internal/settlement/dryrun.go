package settlement

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/ports"
)

// DryRunAdapter 纸交易结算：merge/redeem 只记日志不上链，
// 结算状态仍然查真实 CLOB，换盘逻辑在 dry_run 下也能走通。
type DryRunAdapter struct {
	mu      sync.Mutex
	markets ResolutionSource
	merges  int
	redeems int
	log     *logrus.Entry
}

func NewDryRunAdapter(markets ResolutionSource) *DryRunAdapter {
	return &DryRunAdapter{
		markets: markets,
		log:     logrus.WithField("component", "settlement-dryrun"),
	}
}

func (a *DryRunAdapter) Merge(ctx context.Context, conditionID string, shares float64, negRisk bool) (*ports.MergeResult, error) {
	a.mu.Lock()
	a.merges++
	a.mu.Unlock()
	a.log.Infof("🧪 [纸交易] merge %.4f 份 condition=%s negRisk=%v", shares, shortHash(conditionID), negRisk)
	return &ports.MergeResult{Success: true, TxHash: "dryrun-" + uuid.NewString()}, nil
}

func (a *DryRunAdapter) RedeemByTokenIDs(ctx context.Context, conditionID string, upTokenID, downTokenID string, negRisk bool) (*ports.RedeemResult, error) {
	a.mu.Lock()
	a.redeems++
	a.mu.Unlock()
	a.log.Infof("🧪 [纸交易] redeem condition=%s negRisk=%v", shortHash(conditionID), negRisk)
	return &ports.RedeemResult{Success: true, TxHash: "dryrun-" + uuid.NewString()}, nil
}

func (a *DryRunAdapter) MarketResolution(ctx context.Context, conditionID string) (*ports.Resolution, error) {
	return resolveMarket(ctx, a.markets, conditionID)
}
