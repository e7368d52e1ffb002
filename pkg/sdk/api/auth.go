package api

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Auth 负责 Polymarket L1 鉴权（EIP-712 钱包签名）
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAuthFromKey 从十六进制私钥字符串构造，自动容忍 0x 前缀和空白
func NewAuthFromKey(privateKeyStr string) (*Auth, error) {
	privateKeyStr = strings.TrimSpace(privateKeyStr)
	if privateKeyStr == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	privateKeyStr = strings.TrimSpace(strings.TrimPrefix(privateKeyStr, "0x"))

	privateKeyBytes, err := hex.DecodeString(privateKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}

	return &Auth{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// GetAddress 返回私钥对应的钱包地址
func (a *Auth) GetAddress() common.Address {
	return a.address
}

// GetPrivateKey 返回私钥（链上结算交易签名时需要）
func (a *Auth) GetPrivateKey() *ecdsa.PrivateKey {
	return a.privateKey
}

// SignRequest 生成 L1 鉴权请求头（ClobAuth 域的 EIP-712 签名）
func (a *Auth) SignRequest() (map[string]string, error) {
	timestamp := time.Now().Unix()
	nonce := int64(0)

	chainID := math.NewHexOrDecimal256(137) // Polygon 主网
	domain := apitypes.TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainId: chainID,
	}

	// timestamp 字段按协议要求用字符串
	message := map[string]interface{}{
		"address":   a.address.Hex(),
		"timestamp": strconv.FormatInt(timestamp, 10),
		"nonce":     math.NewHexOrDecimal256(nonce),
		"message":   "This message attests that I control the given wallet",
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain:      domain,
		Message:     message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	hash := crypto.Keccak256Hash(rawData)

	signature, err := crypto.Sign(hash.Bytes(), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// 恢复位调整为以太坊惯例的 27/28
	signature[64] += 27

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": "0x" + hex.EncodeToString(signature),
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
		"Content-Type":   "application/json",
	}, nil
}
