package settlement

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ContractConfig 链上合约地址
type ContractConfig struct {
	ConditionalTokens string
	NegRiskAdapter    string
	Collateral        string // USDC
	ChainID           int64
}

// PolygonContracts Polygon 主网地址
var PolygonContracts = ContractConfig{
	ConditionalTokens: "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
	NegRiskAdapter:    "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
	Collateral:        "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
	ChainID:           137,
}

const (
	// collateralDecimals USDC 与条件代币的小数位都是 6
	collateralDecimals = 1e6
	// receiptPollInterval 回执轮询间隔
	receiptPollInterval = 2 * time.Second
)

// chainBackend ethclient 里本包用到的子集，测试可替换
type chainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Chain CTF 链上操作客户端：交易构建、签名、发送、回执等待与余额查询
type Chain struct {
	backend chainBackend
	priv    *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	cfg     ContractConfig

	ctfAddr     common.Address
	negRiskAddr common.Address
	usdcAddr    common.Address

	ctfABI     abi.ABI
	negRiskABI abi.ABI
	erc20ABI   abi.ABI
	erc1155ABI abi.ABI

	log *logrus.Entry
}

// NewChain 连接 RPC 并准备好签名账户与合约 ABI
func NewChain(rpcURL string, privateKeyHex string, cfg ContractConfig) (*Chain, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "连接 RPC 失败")
	}

	priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "私钥解析失败")
	}

	return newChain(client, priv, cfg)
}

func newChain(backend chainBackend, priv *ecdsa.PrivateKey, cfg ContractConfig) (*Chain, error) {
	ctfABI, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析 CTF ABI 失败")
	}
	negRiskABI, err := abi.JSON(strings.NewReader(negRiskABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析 NegRiskAdapter ABI 失败")
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析 ERC20 ABI 失败")
	}
	erc1155ABI, err := abi.JSON(strings.NewReader(erc1155ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析 ERC1155 ABI 失败")
	}

	return &Chain{
		backend:     backend,
		priv:        priv,
		from:        crypto.PubkeyToAddress(priv.PublicKey),
		chainID:     big.NewInt(cfg.ChainID),
		cfg:         cfg,
		ctfAddr:     common.HexToAddress(cfg.ConditionalTokens),
		negRiskAddr: common.HexToAddress(cfg.NegRiskAdapter),
		usdcAddr:    common.HexToAddress(cfg.Collateral),
		ctfABI:      ctfABI,
		negRiskABI:  negRiskABI,
		erc20ABI:    erc20ABI,
		erc1155ABI:  erc1155ABI,
		log:         logrus.WithField("component", "settlement.chain"),
	}, nil
}

// Address 签名账户地址
func (c *Chain) Address() common.Address { return c.from }

// sendContractTx 取 nonce、估 gas、签名并发送
func (c *Chain) sendContractTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "获取 nonce 失败")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "获取 gas 价失败")
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from, To: &to, Data: data, Value: big.NewInt(0),
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "估算 gas 失败")
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.priv)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "签名交易失败")
	}
	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, errors.Wrap(err, "发送交易失败")
	}
	return signedTx.Hash(), nil
}

// waitReceipt 轮询回执直到上链或 ctx 超时
func (c *Chain) waitReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "等待交易 %s 回执超时", txHash.Hex())
		case <-time.After(receiptPollInterval):
		}
	}
}

// usdcBalance 账户 USDC 余额
func (c *Chain) usdcBalance(ctx context.Context) (float64, error) {
	data, err := c.erc20ABI.Pack("balanceOf", c.from)
	if err != nil {
		return 0, errors.Wrap(err, "打包 balanceOf 失败")
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.usdcAddr, Data: data}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "查询 USDC 余额失败")
	}
	var balance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&balance, "balanceOf", raw); err != nil {
		return 0, errors.Wrap(err, "解析 USDC 余额失败")
	}
	return rawToFloat(balance), nil
}

// positionBalance 条件代币余额，tokenID 即 ERC1155 的 positionId（十进制字符串）
func (c *Chain) positionBalance(ctx context.Context, tokenID string) (*big.Int, error) {
	positionID, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, errors.Errorf("tokenID %q 不是十进制 positionId", tokenID)
	}
	data, err := c.erc1155ABI.Pack("balanceOf", c.from, positionID)
	if err != nil {
		return nil, errors.Wrap(err, "打包 balanceOf 失败")
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.ctfAddr, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "查询条件代币余额失败")
	}
	var balance *big.Int
	if err := c.erc1155ABI.UnpackIntoInterface(&balance, "balanceOf", raw); err != nil {
		return nil, errors.Wrap(err, "解析条件代币余额失败")
	}
	return balance, nil
}

// floatToRaw USDC/份额转 6 位小数整数
func floatToRaw(v float64) *big.Int {
	f := new(big.Float).SetFloat64(v)
	f.Mul(f, new(big.Float).SetInt64(collateralDecimals))
	out, _ := f.Int(nil)
	return out
}

func rawToFloat(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, new(big.Float).SetInt64(collateralDecimals))
	out, _ := f.Float64()
	return out
}
