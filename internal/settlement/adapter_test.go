package settlement

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/pkg/sdk/api"
)

type fakeBackend struct {
	sent          []*ethtypes.Transaction
	receiptStatus uint64
	usdcBalances  []*big.Int // 依次出队，模拟赎回前后余额
	positionBals  map[string]*big.Int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 150_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: f.receiptStatus}, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	// ERC1155 balanceOf(account, id)：id 在 calldata 的最后 32 字节
	if len(msg.Data) >= 4+64 {
		id := new(big.Int).SetBytes(msg.Data[len(msg.Data)-32:])
		if bal, ok := f.positionBals[id.String()]; ok {
			return common.LeftPadBytes(bal.Bytes(), 32), nil
		}
	}
	// ERC20 balanceOf(account)
	if len(f.usdcBalances) > 0 {
		bal := f.usdcBalances[0]
		f.usdcBalances = f.usdcBalances[1:]
		return common.LeftPadBytes(bal.Bytes(), 32), nil
	}
	return common.LeftPadBytes(nil, 32), nil
}

type fakeResolutionSource struct {
	info *api.MarketInfo
	err  error
}

func (f *fakeResolutionSource) GetMarket(context.Context, string) (*api.MarketInfo, error) {
	return f.info, f.err
}

const testConditionID = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestAdapter(t *testing.T, backend *fakeBackend, src ResolutionSource) *CTFAdapter {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain, err := newChain(backend, priv, PolygonContracts)
	require.NoError(t, err)
	return NewCTFAdapter(chain, src)
}

func TestMergeStandardMarketTargetsCTF(t *testing.T) {
	backend := &fakeBackend{receiptStatus: 1}
	a := newTestAdapter(t, backend, nil)

	res, err := a.Merge(context.Background(), testConditionID, 20, false)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.TxHash)

	require.Len(t, backend.sent, 1)
	require.Equal(t, common.HexToAddress(PolygonContracts.ConditionalTokens), *backend.sent[0].To())
}

func TestMergeNegRiskTargetsAdapter(t *testing.T) {
	backend := &fakeBackend{receiptStatus: 1}
	a := newTestAdapter(t, backend, nil)

	res, err := a.Merge(context.Background(), testConditionID, 20, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, common.HexToAddress(PolygonContracts.NegRiskAdapter), *backend.sent[0].To())
}

func TestMergeRevertedTx(t *testing.T) {
	backend := &fakeBackend{receiptStatus: 0}
	a := newTestAdapter(t, backend, nil)

	res, err := a.Merge(context.Background(), testConditionID, 20, false)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, domain.ErrExecutionFailed, derr.Code)
	require.False(t, res.Success)
}

func TestMergeValidatesInput(t *testing.T) {
	a := newTestAdapter(t, &fakeBackend{receiptStatus: 1}, nil)

	_, err := a.Merge(context.Background(), testConditionID, 0, false)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, domain.ErrValidation, derr.Code)

	_, err = a.Merge(context.Background(), "", 20, false)
	require.ErrorAs(t, err, &derr)
	require.Equal(t, domain.ErrValidation, derr.Code)
}

func TestRedeemReportsBalanceDelta(t *testing.T) {
	backend := &fakeBackend{
		receiptStatus: 1,
		usdcBalances:  []*big.Int{big.NewInt(100_000_000), big.NewInt(120_000_000)}, // 100 -> 120 USDC
	}
	a := newTestAdapter(t, backend, nil)

	res, err := a.RedeemByTokenIDs(context.Background(), testConditionID, "111", "222", false)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.InDelta(t, 20.0, res.USDCReceived, 1e-9)
	require.Equal(t, common.HexToAddress(PolygonContracts.ConditionalTokens), *backend.sent[0].To())
}

func TestRedeemNegRiskUsesPositionBalances(t *testing.T) {
	backend := &fakeBackend{
		receiptStatus: 1,
		positionBals: map[string]*big.Int{
			"111": big.NewInt(20_000_000), // 20 股 UP
			"222": big.NewInt(0),
		},
	}
	a := newTestAdapter(t, backend, nil)

	res, err := a.RedeemByTokenIDs(context.Background(), testConditionID, "111", "222", true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, common.HexToAddress(PolygonContracts.NegRiskAdapter), *backend.sent[0].To())
}

func TestRedeemNegRiskNothingToRedeem(t *testing.T) {
	backend := &fakeBackend{
		receiptStatus: 1,
		positionBals:  map[string]*big.Int{"111": big.NewInt(0), "222": big.NewInt(0)},
	}
	a := newTestAdapter(t, backend, nil)

	_, err := a.RedeemByTokenIDs(context.Background(), testConditionID, "111", "222", true)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, domain.ErrValidation, derr.Code)
	require.Empty(t, backend.sent)
}

func TestMarketResolutionWinner(t *testing.T) {
	src := &fakeResolutionSource{info: &api.MarketInfo{
		Closed: true,
		Tokens: []api.ClobTokenInfo{
			{TokenID: "111", Outcome: "Up", Winner: false},
			{TokenID: "222", Outcome: "Down", Winner: true},
		},
	}}
	a := newTestAdapter(t, &fakeBackend{}, src)

	res, err := a.MarketResolution(context.Background(), testConditionID)
	require.NoError(t, err)
	require.True(t, res.IsResolved)
	require.Equal(t, "DOWN", res.Winner)
}

func TestMarketResolutionPending(t *testing.T) {
	src := &fakeResolutionSource{info: &api.MarketInfo{
		Closed: true,
		Tokens: []api.ClobTokenInfo{
			{TokenID: "111", Outcome: "Up"},
			{TokenID: "222", Outcome: "Down"},
		},
	}}
	a := newTestAdapter(t, &fakeBackend{}, src)

	res, err := a.MarketResolution(context.Background(), testConditionID)
	require.NoError(t, err)
	require.False(t, res.IsResolved)
	require.Empty(t, res.Winner)
}
