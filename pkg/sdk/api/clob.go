// CLOB 客户端：订单簿查询与下单。
//
// 下单路径：
//  1. createSignedOrder 按精度要求构造订单（BUY: makerAmount=USDC, takerAmount=份额）
//  2. signOrder 用 EIP-712 对订单签名（域 "Polymarket CTF Exchange"，链 137）
//  3. postOrder POST /order，带 L2 鉴权头
//
// 精度约定：
//   - 金额一律 6 位小数整数（1.00 = 1000000）
//   - 价格 tick 0.01，份额最多 4 位小数，USDC 挂单额 2 位小数
//   - 最小 0.1 份额，BUY 单最小 $1
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/pkg/ratelimit"
)

const (
	DefaultClobURL = "https://clob.polymarket.com"

	// CTF 交易所合约（Polygon 主网）
	ctfExchangeAddress        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskCtfExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// ClobClient CLOB 接口客户端，负责行情查询与签名下单
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	auth          *Auth
	apiCreds      *APICreds
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA 1=Magic 2=浏览器代理钱包
	limiter       *ratelimit.RateLimitManager
	log           *logrus.Entry
}

// APICreds CLOB L2 鉴权凭证
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// OrderBook 单个 token 的订单簿
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Hash      string           `json:"hash"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel 单个价格档位
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BestAsk 最优卖价，空簿返回 0
func (b *OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	p, _ := strconv.ParseFloat(b.Asks[0].Price, 64)
	return p
}

// BestBid 最优买价，空簿返回 0
func (b *OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	p, _ := strconv.ParseFloat(b.Bids[0].Price, 64)
	return p
}

// MarketInfo CLOB 市场详情
type MarketInfo struct {
	ConditionID      string          `json:"condition_id"`
	QuestionID       string          `json:"question_id"`
	Tokens           []ClobTokenInfo `json:"tokens"`
	MinimumOrderSize float64         `json:"minimum_order_size"`
	MinimumTickSize  float64         `json:"minimum_tick_size"`
	Description      string          `json:"description"`
	EndDateISO       string          `json:"end_date_iso"`
	Active           bool            `json:"active"`
	Closed           bool            `json:"closed"`
	MarketSlug       string          `json:"market_slug"`
	NegRisk          bool            `json:"neg_risk"`
}

// ClobTokenInfo CLOB 市场里的 outcome token
type ClobTokenInfo struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // 全部成交或撤销
	OrderTypeFAK OrderType = "FAK" // 吃掉可用流动性，剩余撤销
	OrderTypeGTC OrderType = "GTC" // 挂单直到成交或撤销
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order 已签名订单
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	SideInt       int    `json:"-"` // EIP-712 签名用
}

// OrderRequest 下单请求体
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse 下单响应
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched / live / delayed / unmatched
}

// NewClobClient 创建 CLOB 客户端
func NewClobClient(baseURL string, auth *Auth) (*ClobClient, error) {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	if auth == nil {
		return nil, fmt.Errorf("auth is required")
	}

	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: newPooledTransport(),
		},
		auth:          auth,
		chainID:       137,
		funder:        auth.GetAddress(),
		signatureType: 0,
		log:           logrus.WithField("component", "clob"),
	}, nil
}

// WithRateLimiter 设置限流管理器
func (c *ClobClient) WithRateLimiter(m *ratelimit.RateLimitManager) *ClobClient {
	c.limiter = m
	return c
}

// SetFunder 设置资金地址（Magic/代理钱包场景下持有 USDC 的 profile 地址）
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
}

// SetSignatureType 设置签名类型（0=EOA 1=Magic 2=浏览器代理）
func (c *ClobClient) SetSignatureType(sigType int) {
	c.signatureType = sigType
}

func (c *ClobClient) wait(ctx context.Context, endpoint string) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, endpoint)
}

// WarmConnection 预热连接池，避免首单冷启动延迟
func (c *ClobClient) WarmConnection(ctx context.Context) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/time", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warnf("连接预热失败: %v", err)
		return err
	}
	defer resp.Body.Close()

	// 读完 body 连接才会回到池里
	io.Copy(io.Discard, resp.Body)

	c.log.Debugf("✅ 连接池预热完成 %dms", time.Since(start).Milliseconds())
	return nil
}

// DeriveAPICreds 获取 L2 凭证：先清理旧凭证再创建，失败则派生已有凭证
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	c.deleteAPICreds(ctx)

	creds, err := c.createAPICreds(ctx)
	if err == nil && creds != nil {
		c.apiCreds = creds
		c.log.Info("✅ 已创建新的 API 凭证")
		return creds, nil
	}

	c.log.Debugf("创建凭证失败（%v），尝试派生已有凭证", err)
	creds, err = c.deriveAPICreds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive API creds: %w", err)
	}

	c.apiCreds = creds
	return creds, nil
}

func (c *ClobClient) deleteAPICreds(ctx context.Context) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/auth/api-key", nil)
	if err != nil {
		return
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
}

func (c *ClobClient) deriveAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("derive API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

func (c *ClobClient) createAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	body := fmt.Sprintf(`{"nonce":%d}`, time.Now().UnixNano())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/api-key", bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

// GetOrderBook 拉取订单簿快照，asks 升序 bids 降序排好再返回
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	if err := c.wait(ctx, "clob:book:get"); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order book failed: %d %s", resp.StatusCode, string(body))
	}

	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode order book: %w", err)
	}

	sort.Slice(book.Asks, func(i, j int) bool {
		pi, _ := strconv.ParseFloat(book.Asks[i].Price, 64)
		pj, _ := strconv.ParseFloat(book.Asks[j].Price, 64)
		return pi < pj
	})
	sort.Slice(book.Bids, func(i, j int) bool {
		pi, _ := strconv.ParseFloat(book.Bids[i].Price, 64)
		pj, _ := strconv.ParseFloat(book.Bids[j].Price, 64)
		return pi > pj
	})

	return &book, nil
}

// GetMarket 查询市场详情（含 token 列表和 negRisk 标记）
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	if err := c.wait(ctx, "clob:market:get"); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/markets/"+conditionID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get market failed: %d %s", resp.StatusCode, string(body))
	}

	var market MarketInfo
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return nil, fmt.Errorf("failed to decode market: %w", err)
	}
	return &market, nil
}

// BalanceAllowance 账户余额与授权额度
type BalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// AssetType 资产类型
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"  // USDC
	AssetTypeConditional AssetType = "CONDITIONAL" // outcome token
)

// GetBalanceAllowance 查询余额和授权额度，CONDITIONAL 需要传 tokenID
func (c *ClobClient) GetBalanceAllowance(ctx context.Context, assetType AssetType, tokenID string) (*BalanceAllowance, error) {
	params := url.Values{}
	params.Set("asset_type", string(assetType))
	if tokenID != "" {
		params.Set("token_id", tokenID)
	}
	params.Set("signature_type", strconv.Itoa(c.signatureType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/balance-allowance?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get balance allowance failed: %d %s", resp.StatusCode, string(body))
	}

	var result BalanceAllowance
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode balance allowance: %w", err)
	}
	return &result, nil
}

// GetUSDCBalance 查询 USDC 余额（已换算为可读金额）
func (c *ClobClient) GetUSDCBalance(ctx context.Context) (float64, error) {
	ba, err := c.GetBalanceAllowance(ctx, AssetTypeCollateral, "")
	if err != nil {
		return 0, err
	}

	balanceInt, err := strconv.ParseInt(ba.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance: %w", err)
	}
	return float64(balanceInt) / 1e6, nil
}

// PlaceOrderFAK 下 Fill-And-Kill 吃单：吃掉限价内的可用流动性，剩余自动撤销。
// 永远是 taker，不会留在簿上，是两腿执行的主路径。
func (c *ClobClient) PlaceOrderFAK(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error) {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	order, err := c.createSignedOrder(tokenID, side, size, price, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	return c.postOrder(ctx, order, OrderTypeFAK)
}

// PlaceOrderGTC 下限价挂单
func (c *ClobClient) PlaceOrderGTC(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error) {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	order, err := c.createSignedOrder(tokenID, side, size, price, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	return c.postOrder(ctx, order, OrderTypeGTC)
}

// createSignedOrder 构造并签名订单。
// 精度：价格按 tick 0.01 取整，份额 4 位小数，USDC 挂单额 2 位小数。
// 最小量：0.1 份额；BUY 单至少 $1。
func (c *ClobClient) createSignedOrder(tokenID string, side Side, size float64, price float64, negRisk bool) (*Order, error) {
	if price <= 0 || price >= 1 {
		return nil, fmt.Errorf("price %.4f out of range (0,1)", price)
	}

	priceDec := decimal.NewFromFloat(price).Round(2)
	sizeDec := decimal.NewFromFloat(size).Round(4)

	minTokenSize := decimal.NewFromFloat(0.1)
	if sizeDec.LessThan(minTokenSize) {
		sizeDec = minTokenSize
	}

	// USDC 金额保留 2 位小数（FAK/FOK 对 maker 金额的精度要求）
	usdcDec := sizeDec.Mul(priceDec).Round(2)

	minOrderUSDC := decimal.NewFromInt(1)
	if side == SideBuy && usdcDec.LessThan(minOrderUSDC) {
		usdcDec = minOrderUSDC
		sizeDec = usdcDec.Div(priceDec).Round(4)
	}

	// 转 6 位小数整数
	sizeInt := sizeDec.Shift(6).BigInt()
	usdcInt := usdcDec.Shift(6).BigInt()

	var makerAmount, takerAmount *big.Int
	sideInt := 0
	if side == SideBuy {
		// BUY：付出 USDC 换份额
		makerAmount, takerAmount = usdcInt, sizeInt
	} else {
		// SELL：付出份额换 USDC
		makerAmount, takerAmount = sizeInt, usdcInt
		sideInt = 1
	}

	order := &Order{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(side),
		SignatureType: c.signatureType,
		SideInt:       sideInt,
	}

	signature, err := c.signOrder(order, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	order.Signature = signature

	return order, nil
}

func (c *ClobClient) signOrder(order *Order, negRisk bool) (string, error) {
	verifyingContract := ctfExchangeAddress
	if negRisk {
		verifyingContract = negRiskCtfExchangeAddress
	}

	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(c.chainID),
		VerifyingContract: verifyingContract,
	}

	salt := big.NewInt(order.Salt)
	tokenId := new(big.Int)
	tokenId.SetString(order.TokenID, 10)
	makerAmount := new(big.Int)
	makerAmount.SetString(order.MakerAmount, 10)
	takerAmount := new(big.Int)
	takerAmount.SetString(order.TakerAmount, 10)
	expiration := new(big.Int)
	expiration.SetString(order.Expiration, 10)
	nonce := new(big.Int)
	nonce.SetString(order.Nonce, 10)
	feeRateBps := new(big.Int)
	feeRateBps.SetString(order.FeeRateBps, 10)

	message := map[string]interface{}{
		"salt":          salt,
		"maker":         common.HexToAddress(order.Maker).Hex(),
		"signer":        common.HexToAddress(order.Signer).Hex(),
		"taker":         common.HexToAddress(order.Taker).Hex(),
		"tokenId":       tokenId,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    expiration,
		"nonce":         nonce,
		"feeRateBps":    feeRateBps,
		"side":          big.NewInt(int64(order.SideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, c.auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func (c *ClobClient) postOrder(ctx context.Context, order *Order, orderType OrderType) (*OrderResponse, error) {
	if err := c.wait(ctx, "clob:order:post"); err != nil {
		return nil, err
	}

	payload := OrderRequest{
		Order:     *order,
		Owner:     c.apiCreds.APIKey,
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &orderResp, nil
}

// addL2Headers 附加 L2 鉴权头：HMAC(timestamp + method + path + body)
func (c *ClobClient) addL2Headers(req *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		message += string(bodyBytes)
	}

	signature := c.hmacSign(message, c.apiCreds.APISecret)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.GetAddress().Hex())
	req.Header.Set("POLY_API_KEY", c.apiCreds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.apiCreds.APIPassphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", signature)
}

func (c *ClobClient) hmacSign(message string, secret string) string {
	// secret 是 URL-safe base64，兼容标准 base64 和裸字符串
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() int64 {
	return time.Now().UnixNano()%1000000000 + rand.Int63n(1000)
}

// OpenOrder GET /data/order/{id} 返回的订单状态
type OpenOrder struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Market       string      `json:"market"`
	OriginalSize string      `json:"original_size"`
	SizeMatched  string      `json:"size_matched"`
	Outcome      string      `json:"outcome"`
	Price        string      `json:"price"`
	Side         string      `json:"side"`
	AssetID      string      `json:"asset_id"`
	Type         string      `json:"type"`
	CreatedAt    json.Number `json:"created_at"`
}

// GetOrder 查询订单状态（确认成交量时用）
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (*OpenOrder, error) {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/order/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var order OpenOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &order, nil
}

// CancelOrder 撤单，404 视为已成交或已撤销
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/order/"+orderID, nil)
	if err != nil {
		return err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		c.log.Debugf("订单 %s 已不存在（成交或已撤销）", orderID)
		return nil
	default:
		return fmt.Errorf("cancel order failed: %d %s", resp.StatusCode, string(respBody))
	}
}

// CalculateOptimalFill 沿订单簿推演 amountUSDC 能吃到的量和均价
func CalculateOptimalFill(book *OrderBook, side Side, amountUSDC float64) (totalSize float64, avgPrice float64, filledUSDC float64) {
	var levels []OrderBookLevel
	if side == SideBuy {
		levels = book.Asks
	} else {
		levels = book.Bids
	}

	remaining := amountUSDC
	totalCost := 0.0

	for _, level := range levels {
		price, _ := strconv.ParseFloat(level.Price, 64)
		size, _ := strconv.ParseFloat(level.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}

		levelValue := size * price
		if levelValue <= remaining {
			totalSize += size
			totalCost += levelValue
			remaining -= levelValue
		} else {
			fillSize := remaining / price
			totalSize += fillSize
			totalCost += remaining
			remaining = 0
		}

		if remaining <= 0 {
			break
		}
	}

	if totalSize > 0 {
		avgPrice = totalCost / totalSize
	}
	filledUSDC = amountUSDC - remaining
	return
}

// SellProceeds 推演卖出 size 份额能收到的 USDC 和均价
func SellProceeds(book *OrderBook, size float64) (proceeds float64, avgPrice float64, filledSize float64) {
	remaining := size
	for _, level := range book.Bids {
		price, _ := strconv.ParseFloat(level.Price, 64)
		levelSize, _ := strconv.ParseFloat(level.Size, 64)
		if price <= 0 || levelSize <= 0 {
			continue
		}

		fill := levelSize
		if fill > remaining {
			fill = remaining
		}
		proceeds += fill * price
		filledSize += fill
		remaining -= fill

		if remaining <= 0 {
			break
		}
	}

	if filledSize > 0 {
		avgPrice = proceeds / filledSize
	}
	return
}
