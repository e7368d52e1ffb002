package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/metrics"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/pkg/cache"
)

// partition [1, 2]：二元市场的完整仓位集合（UP 是 0b01，DOWN 是 0b10）
func fullPartition() []*big.Int {
	return []*big.Int{big.NewInt(1), big.NewInt(2)}
}

// CTFAdapter 直连链上的结算适配器。
// 普通市场操作 ConditionalTokens 合约，negRisk 市场必须经 NegRiskAdapter。
type CTFAdapter struct {
	chain       *Chain
	markets     ResolutionSource
	resolutions *cache.ResolutionCache
	log         *logrus.Entry
}

func NewCTFAdapter(chain *Chain, markets ResolutionSource) *CTFAdapter {
	return &CTFAdapter{
		chain:       chain,
		markets:     markets,
		resolutions: cache.NewResolutionCache(),
		log:         logrus.WithField("component", "settlement"),
	}
}

// Merge 把等量 UP+DOWN 合并回 USDC，等回执确认后返回
func (a *CTFAdapter) Merge(ctx context.Context, conditionID string, shares float64, negRisk bool) (*ports.MergeResult, error) {
	if shares <= 0 {
		return nil, domain.NewError(domain.ErrValidation, fmt.Sprintf("merge 份额 %.4f 非法", shares), nil)
	}
	condition, err := parseConditionID(conditionID)
	if err != nil {
		return nil, err
	}

	amount := floatToRaw(shares)
	var to common.Address
	var data []byte
	if negRisk {
		to = a.chain.negRiskAddr
		data, err = a.chain.negRiskABI.Pack("mergePositions", condition, amount)
	} else {
		to = a.chain.ctfAddr
		data, err = a.chain.ctfABI.Pack("mergePositions",
			a.chain.usdcAddr, common.Hash{}, condition, fullPartition(), amount)
	}
	if err != nil {
		return nil, domain.NewError(domain.ErrFatal, "打包 mergePositions 失败", err)
	}

	a.log.Infof("💰 merge %.4f 股: condition=%s negRisk=%v", shares, shortHash(conditionID), negRisk)
	metrics.MergesSubmitted.Add(1)
	txHash, err := a.chain.sendContractTx(ctx, to, data)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransport, "merge 交易发送失败", err)
	}
	receipt, err := a.chain.waitReceipt(ctx, txHash)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransport, "merge 回执等待失败", err)
	}
	if receipt.Status != 1 {
		return &ports.MergeResult{Success: false, TxHash: txHash.Hex()},
			domain.NewError(domain.ErrExecutionFailed, "merge 交易被回滚", nil)
	}
	a.log.Infof("✅ merge 确认: tx=%s", txHash.Hex())
	return &ports.MergeResult{Success: true, TxHash: txHash.Hex()}, nil
}

// RedeemByTokenIDs 赎回已结算市场的份额。
// 普通市场按 indexSet [1,2] 全量领取（败方付 0，不亏）；negRisk 市场
// 需要按两侧实际持仓数量赎回，tokenID 就是 ERC1155 的 positionId。
// USDCReceived 按赎回前后 USDC 余额差计，查不到余额时记 0 不算失败。
func (a *CTFAdapter) RedeemByTokenIDs(ctx context.Context, conditionID string, upTokenID, downTokenID string, negRisk bool) (*ports.RedeemResult, error) {
	condition, err := parseConditionID(conditionID)
	if err != nil {
		return nil, err
	}

	before, balanceErr := a.chain.usdcBalance(ctx)

	var to common.Address
	var data []byte
	if negRisk {
		upAmount, err := a.chain.positionBalance(ctx, upTokenID)
		if err != nil {
			return nil, domain.NewError(domain.ErrTransport, "查询 UP 持仓失败", err)
		}
		downAmount, err := a.chain.positionBalance(ctx, downTokenID)
		if err != nil {
			return nil, domain.NewError(domain.ErrTransport, "查询 DOWN 持仓失败", err)
		}
		if upAmount.Sign() == 0 && downAmount.Sign() == 0 {
			return nil, domain.NewError(domain.ErrValidation, "两侧持仓均为 0，无可赎回", nil)
		}
		to = a.chain.negRiskAddr
		data, err = a.chain.negRiskABI.Pack("redeemPositions", condition, []*big.Int{upAmount, downAmount})
		if err != nil {
			return nil, domain.NewError(domain.ErrFatal, "打包 redeemPositions 失败", err)
		}
	} else {
		to = a.chain.ctfAddr
		data, err = a.chain.ctfABI.Pack("redeemPositions",
			a.chain.usdcAddr, common.Hash{}, condition, fullPartition())
		if err != nil {
			return nil, domain.NewError(domain.ErrFatal, "打包 redeemPositions 失败", err)
		}
	}

	a.log.Infof("🔔 redeem: condition=%s negRisk=%v", shortHash(conditionID), negRisk)
	metrics.RedeemsSubmitted.Add(1)
	txHash, err := a.chain.sendContractTx(ctx, to, data)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransport, "redeem 交易发送失败", err)
	}
	receipt, err := a.chain.waitReceipt(ctx, txHash)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransport, "redeem 回执等待失败", err)
	}
	if receipt.Status != 1 {
		return &ports.RedeemResult{Success: false, TxHash: txHash.Hex()},
			domain.NewError(domain.ErrExecutionFailed, "redeem 交易被回滚", nil)
	}

	var received float64
	if balanceErr == nil {
		if after, err := a.chain.usdcBalance(ctx); err == nil && after > before {
			received = after - before
		}
	}
	a.log.Infof("✅ redeem 确认: tx=%s 到账 %.4f USDC", txHash.Hex(), received)
	return &ports.RedeemResult{Success: true, USDCReceived: received, TxHash: txHash.Hex()}, nil
}

// MarketResolution 查询预言机结算状态。
// 未结算的结论缓存 30 秒，赎回队列批量重试时不反复打 CLOB。
func (a *CTFAdapter) MarketResolution(ctx context.Context, conditionID string) (*ports.Resolution, error) {
	if resolved, ok := a.resolutions.Get(conditionID); ok && !resolved {
		return &ports.Resolution{IsResolved: false}, nil
	}
	res, err := resolveMarket(ctx, a.markets, conditionID)
	if err != nil {
		return nil, err
	}
	a.resolutions.Set(conditionID, res.IsResolved)
	return res, nil
}

func parseConditionID(conditionID string) (common.Hash, error) {
	condition := common.HexToHash(conditionID)
	if condition == (common.Hash{}) {
		return common.Hash{}, domain.NewError(domain.ErrValidation, fmt.Sprintf("conditionId %q 非法", conditionID), nil)
	}
	return condition, nil
}

func shortHash(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:10] + "…"
}
