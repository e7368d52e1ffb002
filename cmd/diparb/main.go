package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/discovery"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/execution"
	"github.com/betbot/diparb/internal/history"
	"github.com/betbot/diparb/internal/metrics"
	"github.com/betbot/diparb/internal/orderbook"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/internal/rotation"
	"github.com/betbot/diparb/internal/settlement"
	"github.com/betbot/diparb/internal/statusserver"
	"github.com/betbot/diparb/pkg/config"
	"github.com/betbot/diparb/pkg/logger"
	"github.com/betbot/diparb/pkg/marketspec"
	"github.com/betbot/diparb/pkg/persistence"
	"github.com/betbot/diparb/pkg/ratelimit"
	"github.com/betbot/diparb/pkg/sdk/api"
	"github.com/betbot/diparb/pkg/sdk/realtime"
	"github.com/betbot/diparb/pkg/secretstore"
	"github.com/betbot/diparb/pkg/shutdown"
)

const gracefulShutdownPeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml/.json）")
	flag.Parse()

	_ = godotenv.Load()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	// 先查密钥库再加载配置，配置校验依赖 WALLET_PRIVATE_KEY 是否就位
	loadPrivateKeyFromSecretStore()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	tf, err := marketspec.ParseTimeframe(cfg.Discovery.Timeframe)
	if err != nil {
		logrus.Errorf("discovery.timeframe 非法: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:         cfg.LogLevel,
		OutputFile:    cfg.LogFile,
		MaxSize:       100,
		MaxBackups:    10,
		MaxAge:        7,
		LogByCycle:    cfg.LogByCycle,
		CycleDuration: tf.Duration(),
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	privateKey := cfg.Wallet.PrivateKey
	if privateKey == "" {
		// dry_run 下没有钱包也要能只读访问 CLOB，临时生成一把
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			logrus.Errorf("生成临时密钥失败: %v", err)
			os.Exit(1)
		}
		privateKey = hex.EncodeToString(ethcrypto.FromECDSA(key))
		logrus.Warn("⚠️ 未配置钱包私钥，使用临时密钥（只读，无法下真实订单）")
	}

	auth, err := api.NewAuthFromKey(privateKey)
	if err != nil {
		logrus.Errorf("解析钱包私钥失败: %v", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewRateLimitManager()
	clobClient, err := api.NewClobClient(os.Getenv("CLOB_API_URL"), auth)
	if err != nil {
		logrus.Errorf("创建 CLOB 客户端失败: %v", err)
		os.Exit(1)
	}
	clobClient.WithRateLimiter(limiter)
	if cfg.Wallet.FunderAddress != "" {
		clobClient.SetFunder(cfg.Wallet.FunderAddress)
	}
	if cfg.Wallet.SignatureType != 0 {
		clobClient.SetSignatureType(cfg.Wallet.SignatureType)
	}

	gamma := api.NewGammaClient(cfg.Discovery.GammaURL, limiter)
	finder := discovery.NewService(gamma, clobClient)
	books := orderbook.NewService(clobClient, cfg.Orderbook.ArbThreshold)

	rtCfg := realtime.DefaultClientConfig()
	if cfg.Realtime.URL != "" {
		rtCfg.URL = cfg.Realtime.URL
	}
	rtCfg.ProxyURL = cfg.Realtime.ProxyURL
	transport := realtime.NewTransport(rtCfg)
	if err := transport.Start(); err != nil {
		logrus.Errorf("启动实时行情连接失败: %v", err)
		os.Exit(1)
	}

	var exec ports.ExecutionAdapter
	var settle ports.SettlementAdapter
	if cfg.DryRun {
		logrus.Info("🧪 纸交易模式：订单与链上结算均为模拟")
		exec = execution.NewDryRunAdapter()
		settle = settlement.NewDryRunAdapter(clobClient)
	} else {
		exec = execution.NewClobAdapter(clobClient)
		chain, err := settlement.NewChain(cfg.Settlement.RPCURL, privateKey, settlement.PolygonContracts)
		if err != nil {
			logrus.Errorf("连接 Polygon 节点失败: %v", err)
			os.Exit(1)
		}
		settle = settlement.NewCTFAdapter(chain, clobClient)
		logrus.Infof("✅ 链上结算就绪 wallet=%s rpc=%s", chain.Address().Hex(), cfg.Settlement.RPCURL)
	}

	emitter := events.NewEmitter()
	if cfg.LogByCycle {
		emitter.Subscribe(func(ev events.Event) {
			if p, ok := ev.Payload.(*events.StartedPayload); ok {
				logger.SetMarketCycle(p.MarketSlug, p.EndTime.Unix())
			}
		})
	}

	eng, err := engine.New(transport, exec, settle, cfg.Engine, emitter)
	if err != nil {
		logrus.Errorf("创建引擎失败: %v", err)
		os.Exit(1)
	}
	eng.SetOracleSymbols(cfg.Realtime.OracleSymbols)

	stateDir := cfg.Rotation.StateDir
	if stateDir == "" {
		stateDir = "data/state"
	}
	store := persistence.NewJSONFileService(stateDir).NewStore("rotation", "default", "redemptions")
	supervisor := rotation.New(eng, finder, books, exec, settle, emitter, cfg.Rotation, cfg.Discovery, store)

	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Open(cfg.History.Path)
		if err != nil {
			logrus.Errorf("打开历史数据库失败: %v", err)
			os.Exit(1)
		}
		recorder.Attach(emitter)
	}

	var statusSrv *statusserver.Server
	if cfg.StatusServer.Enabled {
		var roundStore statusserver.RoundStore
		if recorder != nil {
			roundStore = recorder
		}
		statusSrv = statusserver.New(eng, supervisor, roundStore)
		go func() {
			if err := statusSrv.Start(cfg.StatusServer.Listen); err != nil {
				logrus.Errorf("状态接口退出: %v", err)
			}
		}()
	}

	ctx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	if addr := os.Getenv("DEBUG_LISTEN"); addr != "" {
		if _, err := metrics.StartAsync(ctx, addr); err != nil {
			logrus.Warnf("⚠️ debug 服务启动失败: %v", err)
		} else {
			logrus.Infof("✅ debug 服务监听 %s（expvar/pprof）", addr)
		}
	}

	if cfg.Rotation.Enabled {
		if err := supervisor.Enable(); err != nil {
			logrus.Errorf("启动自动换盘失败: %v", err)
			os.Exit(1)
		}
	} else {
		market, err := finder.Next(ctx, discovery.Query{
			Coins:       cfg.Discovery.Coins,
			Timeframes:  []marketspec.Timeframe{tf},
			MinUntilEnd: time.Duration(cfg.Discovery.MinMinutesUntilEnd) * time.Minute,
			MaxUntilEnd: time.Duration(cfg.Discovery.MaxMinutesUntilEnd) * time.Minute,
			SortBy:      cfg.Discovery.SortBy,
		})
		if err != nil {
			logrus.Errorf("未找到可监控市场: %v", err)
			os.Exit(1)
		}
		if err := eng.Start(market); err != nil {
			logrus.Errorf("启动引擎失败: %v", err)
			os.Exit(1)
		}
	}

	manager := shutdown.NewManager()
	manager.OnShutdown(func(ctx context.Context) {
		cancelApp()
		supervisor.Disable()
		eng.Stop()
	})
	manager.OnShutdown(func(ctx context.Context) {
		if statusSrv != nil {
			_ = statusSrv.Shutdown(ctx)
		}
		_ = transport.Stop()
		if recorder != nil {
			_ = recorder.Close()
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("🛑 收到信号 %s，开始优雅停机", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	logrus.Info("✅ 已退出")
}

// loadPrivateKeyFromSecretStore 钱包私钥的密钥库兜底：
// 环境变量未配时尝试从加密 badger 读 env/WALLET_PRIVATE_KEY。
func loadPrivateKeyFromSecretStore() {
	if os.Getenv("WALLET_PRIVATE_KEY") != "" {
		return
	}
	dbPath := strings.TrimSpace(os.Getenv("DIPARB_SECRET_DB"))
	rawKey := strings.TrimSpace(os.Getenv("DIPARB_SECRET_KEY"))
	if dbPath == "" || rawKey == "" {
		return
	}

	keyBytes, err := secretstore.ParseKey(rawKey)
	if err != nil || keyBytes == nil {
		logrus.Warnf("⚠️ DIPARB_SECRET_KEY 解析失败，跳过密钥库: %v", err)
		return
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      true,
	})
	if err != nil {
		logrus.Warnf("⚠️ 打开密钥库失败，跳过: %v", err)
		return
	}
	defer ss.Close()

	val, ok, err := ss.GetString("env/WALLET_PRIVATE_KEY")
	if err != nil || !ok {
		return
	}
	os.Setenv("WALLET_PRIVATE_KEY", val)
	logrus.Info("✅ 已从密钥库加载钱包私钥")
}
