package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/diparb/pkg/marketspec"
)

// WalletConfig 钱包配置
type WalletConfig struct {
	PrivateKey    string `yaml:"private_key" json:"private_key"`
	FunderAddress string `yaml:"funder_address" json:"funder_address"`
	SignatureType int    `yaml:"signature_type" json:"signature_type"` // 0=EOA 1=Magic 2=浏览器代理
}

// ProxyConfig 代理配置（可选）
type ProxyConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// URL 拼出 http 代理地址，未配置返回空串
func (p *ProxyConfig) URL() string {
	if p == nil || p.Host == "" || p.Port <= 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// EngineConfig 单市场引擎参数
type EngineConfig struct {
	Shares              float64 `yaml:"shares" json:"shares"`                               // 每腿买入份额
	SumTarget           float64 `yaml:"sum_target" json:"sum_target"`                       // 两腿总成本上限
	DipThreshold        float64 `yaml:"dip_threshold" json:"dip_threshold"`                 // 闪跌触发阈值（相对跌幅）
	SurgeThreshold      float64 `yaml:"surge_threshold" json:"surge_threshold"`             // 急涨触发阈值（买对侧）
	SlidingWindowMs     int     `yaml:"sliding_window_ms" json:"sliding_window_ms"`         // 滑动窗口参考价回看时长
	WindowMinutes       int     `yaml:"window_minutes" json:"window_minutes"`               // 开盘后允许触发的时间窗
	MaxSlippage         float64 `yaml:"max_slippage" json:"max_slippage"`                   // 下单限价相对现价的上浮
	MinProfitRate       float64 `yaml:"min_profit_rate" json:"min_profit_rate"`             // 预估利润率下限
	Leg2TimeoutSeconds  int     `yaml:"leg2_timeout_seconds" json:"leg2_timeout_seconds"`   // 第二腿等待超时
	ExecutionCooldownMs int     `yaml:"execution_cooldown_ms" json:"execution_cooldown_ms"` // 两次执行之间的冷却
	AutoExecute         bool    `yaml:"auto_execute" json:"auto_execute"`                   // 信号是否自动下单
	EnableSurge         bool    `yaml:"enable_surge" json:"enable_surge"`                   // 是否启用急涨反向腿
	AutoMerge           bool    `yaml:"auto_merge" json:"auto_merge"`                       // 两腿齐后是否自动 merge 回 USDC

	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures" json:"max_consecutive_failures"` // 连续执行失败熔断上限，0 关闭
	DailyLossLimit         float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"`                  // 当日最大亏损（USDC），0 关闭
}

// DefaultEngineConfig 引擎默认参数
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Shares:              20,
		SumTarget:           0.95,
		DipThreshold:        0.15,
		SurgeThreshold:      0.15,
		SlidingWindowMs:     3000,
		WindowMinutes:       2,
		MaxSlippage:         0.02,
		MinProfitRate:       0.03,
		Leg2TimeoutSeconds:  300,
		ExecutionCooldownMs: 3000,
		AutoExecute:         false,
		EnableSurge:         true,
		AutoMerge:           true,

		MaxConsecutiveFailures: 5,
	}
}

// Validate 校验引擎参数
func (c *EngineConfig) Validate() error {
	if c.Shares <= 0 {
		return fmt.Errorf("shares 必须大于 0")
	}
	if c.SumTarget <= 0 || c.SumTarget >= 1 {
		return fmt.Errorf("sum_target 必须在 0 到 1 之间")
	}
	if c.DipThreshold <= 0 || c.DipThreshold > 1 {
		return fmt.Errorf("dip_threshold 必须在 (0, 1] 区间")
	}
	if c.SurgeThreshold <= 0 || c.SurgeThreshold > 1 {
		return fmt.Errorf("surge_threshold 必须在 (0, 1] 区间")
	}
	if c.SlidingWindowMs <= 0 {
		return fmt.Errorf("sliding_window_ms 必须大于 0")
	}
	if c.WindowMinutes < 0 {
		return fmt.Errorf("window_minutes 不能为负数")
	}
	if c.MaxSlippage < 0 || c.MaxSlippage >= 1 {
		return fmt.Errorf("max_slippage 必须在 [0, 1) 区间")
	}
	if c.MinProfitRate < 0 {
		return fmt.Errorf("min_profit_rate 不能为负数")
	}
	if c.Leg2TimeoutSeconds <= 0 {
		return fmt.Errorf("leg2_timeout_seconds 必须大于 0")
	}
	if c.ExecutionCooldownMs < 0 {
		return fmt.Errorf("execution_cooldown_ms 不能为负数")
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures 不能为负数")
	}
	if c.DailyLossLimit < 0 {
		return fmt.Errorf("daily_loss_limit 不能为负数")
	}
	return nil
}

// SlidingWindow 滑动窗口时长
func (c *EngineConfig) SlidingWindow() time.Duration {
	return time.Duration(c.SlidingWindowMs) * time.Millisecond
}

// SignalWindow 开盘后允许触发的时间窗
func (c *EngineConfig) SignalWindow() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Leg2Timeout 第二腿超时时长
func (c *EngineConfig) Leg2Timeout() time.Duration {
	return time.Duration(c.Leg2TimeoutSeconds) * time.Second
}

// Cooldown 执行冷却时长
func (c *EngineConfig) Cooldown() time.Duration {
	return time.Duration(c.ExecutionCooldownMs) * time.Millisecond
}

// OrderbookConfig 订单簿镜像分析参数
type OrderbookConfig struct {
	ArbThreshold float64 `yaml:"arb_threshold" json:"arb_threshold"` // complete-set 套利判定阈值，0 用内置默认
}

// Validate 校验订单簿分析参数
func (c *OrderbookConfig) Validate() error {
	if c.ArbThreshold < 0 || c.ArbThreshold >= 1 {
		return fmt.Errorf("orderbook.arb_threshold 必须在 [0, 1) 区间")
	}
	return nil
}

// 结算策略
const (
	SettleStrategyRedeem = "redeem" // 等待市场解析后链上赎回
	SettleStrategySell   = "sell"   // 换盘时直接市价卖出
)

// RotationConfig 自动换盘参数
type RotationConfig struct {
	Enabled                    bool   `yaml:"enabled" json:"enabled"`
	TickSeconds                int    `yaml:"tick_seconds" json:"tick_seconds"`                                           // 换盘检查周期
	PreloadMinutes             int    `yaml:"preload_minutes" json:"preload_minutes"`                                     // 距结束多少分钟开始预载下一盘
	AutoSettle                 bool   `yaml:"auto_settle" json:"auto_settle"`                                             // 换盘时是否自动处理残留持仓
	SettleStrategy             string `yaml:"settle_strategy" json:"settle_strategy"`                                     // redeem 或 sell
	RedeemWaitMinutes          int    `yaml:"redeem_wait_minutes" json:"redeem_wait_minutes"`                             // 市场结束后等待解析的时间
	RedeemRetryIntervalSeconds int    `yaml:"redeem_retry_interval_seconds" json:"redeem_retry_interval_seconds"`         // 赎回重试间隔
	RedeemMaxRetries           int    `yaml:"redeem_max_retries" json:"redeem_max_retries"`                               // 赎回重试上限
	StateDir                   string `yaml:"state_dir" json:"state_dir"`                                                 // 待赎回队列持久化目录
}

// DefaultRotationConfig 换盘默认参数
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		Enabled:                    false,
		TickSeconds:                30,
		PreloadMinutes:             2,
		AutoSettle:                 true,
		SettleStrategy:             SettleStrategyRedeem,
		RedeemWaitMinutes:          5,
		RedeemRetryIntervalSeconds: 30,
		RedeemMaxRetries:           20,
		StateDir:                   "data/state",
	}
}

// Validate 校验换盘参数
func (c *RotationConfig) Validate() error {
	if c.TickSeconds <= 0 {
		return fmt.Errorf("rotation.tick_seconds 必须大于 0")
	}
	if c.PreloadMinutes < 0 {
		return fmt.Errorf("rotation.preload_minutes 不能为负数")
	}
	if c.SettleStrategy != SettleStrategyRedeem && c.SettleStrategy != SettleStrategySell {
		return fmt.Errorf("rotation.settle_strategy 只支持 redeem 或 sell")
	}
	if c.RedeemRetryIntervalSeconds <= 0 {
		return fmt.Errorf("rotation.redeem_retry_interval_seconds 必须大于 0")
	}
	if c.RedeemMaxRetries <= 0 {
		return fmt.Errorf("rotation.redeem_max_retries 必须大于 0")
	}
	return nil
}

// DiscoveryConfig 市场发现参数
type DiscoveryConfig struct {
	Coins              []string `yaml:"coins" json:"coins"`                                   // 监控的币种（btc/eth/sol/xrp）
	Timeframe          string   `yaml:"timeframe" json:"timeframe"`                           // 5m 或 15m
	MinMinutesUntilEnd int      `yaml:"min_minutes_until_end" json:"min_minutes_until_end"`   // 候选市场距结束的下限
	MaxMinutesUntilEnd int      `yaml:"max_minutes_until_end" json:"max_minutes_until_end"`   // 候选市场距结束的上限
	SortBy             string   `yaml:"sort_by" json:"sort_by"`                               // endDate / volume / liquidity
	GammaURL           string   `yaml:"gamma_url" json:"gamma_url"`
}

// DefaultDiscoveryConfig 市场发现默认参数
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Coins:              []string{"btc"},
		Timeframe:          string(marketspec.Timeframe5m),
		MinMinutesUntilEnd: 5,
		MaxMinutesUntilEnd: 30,
		SortBy:             "endDate",
	}
}

// Validate 校验市场发现参数
func (c *DiscoveryConfig) Validate() error {
	if len(c.Coins) == 0 {
		return fmt.Errorf("discovery.coins 不能为空")
	}
	for _, coin := range c.Coins {
		if !marketspec.IsSupportedCoin(coin) {
			return fmt.Errorf("discovery.coins 包含不支持的币种: %s", coin)
		}
	}
	if _, err := marketspec.ParseTimeframe(c.Timeframe); err != nil {
		return err
	}
	if c.MinMinutesUntilEnd < 0 || c.MaxMinutesUntilEnd <= c.MinMinutesUntilEnd {
		return fmt.Errorf("discovery 的时间区间非法: [%d, %d]", c.MinMinutesUntilEnd, c.MaxMinutesUntilEnd)
	}
	switch c.SortBy {
	case "endDate", "volume", "liquidity":
	default:
		return fmt.Errorf("discovery.sort_by 只支持 endDate / volume / liquidity")
	}
	return nil
}

// RealtimeConfig 实时行情连接参数
type RealtimeConfig struct {
	URL           string            `yaml:"url" json:"url"`
	ProxyURL      string            `yaml:"proxy_url" json:"proxy_url"`
	OracleSymbols map[string]string `yaml:"oracle_symbols" json:"oracle_symbols"` // coin -> oracle 符号
}

// DefaultRealtimeConfig 实时行情默认参数，oracle 符号表覆盖内置四个币种
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		OracleSymbols: map[string]string{
			"btc": "BTC/USD",
			"eth": "ETH/USD",
			"sol": "SOL/USD",
			"xrp": "XRP/USD",
		},
	}
}

// OracleSymbol 币种对应的 oracle 行情符号
func (c *RealtimeConfig) OracleSymbol(coin string) (string, bool) {
	s, ok := c.OracleSymbols[strings.ToLower(coin)]
	return s, ok
}

// SettlementConfig 链上结算参数
type SettlementConfig struct {
	RPCURL string `yaml:"rpc_url" json:"rpc_url"` // Polygon RPC 节点
}

// DefaultSettlementConfig 结算默认参数
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		RPCURL: "https://polygon-rpc.com",
	}
}

// StatusServerConfig 状态查询服务参数
type StatusServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// HistoryConfig 历史记录落库参数
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Config 应用配置
type Config struct {
	Wallet       WalletConfig       `yaml:"wallet" json:"wallet"`
	Proxy        *ProxyConfig       `yaml:"proxy" json:"proxy"`
	Engine       EngineConfig       `yaml:"engine" json:"engine"`
	Orderbook    OrderbookConfig    `yaml:"orderbook" json:"orderbook"`
	Rotation     RotationConfig     `yaml:"rotation" json:"rotation"`
	Discovery    DiscoveryConfig    `yaml:"discovery" json:"discovery"`
	Realtime     RealtimeConfig     `yaml:"realtime" json:"realtime"`
	Settlement   SettlementConfig   `yaml:"settlement" json:"settlement"`
	StatusServer StatusServerConfig `yaml:"status_server" json:"status_server"`
	History      HistoryConfig      `yaml:"history" json:"history"`

	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogFile    string `yaml:"log_file" json:"log_file"`
	LogByCycle bool   `yaml:"log_by_cycle" json:"log_by_cycle"`
	DryRun     bool   `yaml:"dry_run" json:"dry_run"` // 纸交易模式，只打日志不下真实订单
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置。
// 优先级：环境变量 > 配置文件 > 默认值。文件可以为空路径，此时只用环境变量和默认值。
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	config := &Config{
		Engine:     DefaultEngineConfig(),
		Rotation:   DefaultRotationConfig(),
		Discovery:  DefaultDiscoveryConfig(),
		Realtime:   DefaultRealtimeConfig(),
		Settlement: DefaultSettlementConfig(),
		StatusServer: StatusServerConfig{
			Listen: ":8980",
		},
		History: HistoryConfig{
			Path: "data/history.db",
		},
		LogLevel:   "info",
		LogFile:    "logs/diparb.log",
		LogByCycle: true,
	}

	if filePath != "" {
		if err := mergeConfigFile(config, filePath); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	// 代理写入环境变量，HTTP 客户端统一走 ProxyFromEnvironment
	if proxyURL := config.Proxy.URL(); proxyURL != "" {
		os.Setenv("HTTP_PROXY", proxyURL)
		os.Setenv("HTTPS_PROXY", proxyURL)
		os.Setenv("http_proxy", proxyURL)
		os.Setenv("https_proxy", proxyURL)
		if config.Realtime.ProxyURL == "" {
			config.Realtime.ProxyURL = proxyURL
		}
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// mergeConfigFile 把配置文件内容覆盖到默认值之上（支持 YAML 和 JSON）
func mergeConfigFile(config *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnvOverrides 环境变量覆盖（只覆盖运维上需要随环境变化的字段）
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		config.Wallet.PrivateKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("WALLET_FUNDER_ADDRESS"); v != "" {
		config.Wallet.FunderAddress = strings.TrimSpace(v)
	}
	config.Wallet.SignatureType = parseIntEnv("WALLET_SIGNATURE_TYPE", config.Wallet.SignatureType)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		config.LogFile = v
	}
	config.LogByCycle = parseBoolEnv("LOG_BY_CYCLE", config.LogByCycle)
	config.DryRun = parseBoolEnv("DRY_RUN", config.DryRun)

	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		config.Settlement.RPCURL = v
	}
	if v := os.Getenv("GAMMA_API_URL"); v != "" {
		config.Discovery.GammaURL = v
	}
	if v := os.Getenv("REALTIME_WS_URL"); v != "" {
		config.Realtime.URL = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("WALLET_PRIVATE_KEY 未配置（dry_run 模式可以不配）")
		}
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Orderbook.Validate(); err != nil {
		return err
	}
	if err := c.Rotation.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	for _, coin := range c.Discovery.Coins {
		if _, ok := c.Realtime.OracleSymbol(coin); !ok {
			return fmt.Errorf("realtime.oracle_symbols 缺少币种 %s 的行情符号", coin)
		}
	}
	if c.StatusServer.Enabled && c.StatusServer.Listen == "" {
		return fmt.Errorf("status_server.listen 不能为空")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path 不能为空")
	}
	return nil
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var parsed int
	if _, err := fmt.Sscanf(value, "%d", &parsed); err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}
