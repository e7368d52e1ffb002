package engine

import (
	"testing"
	"time"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/pkg/config"
)

// 直接摆好引擎内部状态跑检测器，不走传输层
func newDetectorEngine(cfg config.EngineConfig, base time.Time) *Engine {
	eng, _ := New(&fakeStream{}, &fakeExec{}, &fakeSettle{}, cfg, nil)
	eng.market = testMarket(base)
	eng.round = domain.NewRound(eng.market.Slug, base)
	eng.history = newPriceHistory()
	return eng
}

func TestDetectSurgeBuysOppositeSide(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	// UP 在窗口内从 0.30 涨到 0.36（+20%），应该买 DOWN；
	// DOWN 自身只回落 11%，不够闪跌
	eng.history.Append(base, 0.30, 0.45)
	eng.upAsk, eng.downAsk = 0.36, 0.40
	eng.history.Append(base.Add(2*time.Second), 0.36, 0.40)

	sig := eng.detectLeg1Locked(base.Add(2 * time.Second))
	if sig == nil {
		t.Fatal("expected surge signal")
	}
	if sig.Kind != domain.SignalSurge {
		t.Fatalf("expected surge, got %s", sig.Kind)
	}
	if sig.Side != domain.SideDown {
		t.Fatalf("expected buy side DOWN, got %s", sig.Side)
	}
	// 参考价记对侧（DOWN）的窗口值
	if sig.OpenPrice != 0.45 {
		t.Fatalf("expected openPrice 0.45, got %v", sig.OpenPrice)
	}
	if sig.CurrentPrice != 0.40 {
		t.Fatalf("expected currentPrice 0.40, got %v", sig.CurrentPrice)
	}
}

func TestDetectSurgeDisabled(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.EnableSurge = false
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	eng.history.Append(base, 0.30, 0.45)
	eng.upAsk, eng.downAsk = 0.36, 0.40
	eng.history.Append(base.Add(2*time.Second), 0.36, 0.40)

	if sig := eng.detectLeg1Locked(base.Add(2 * time.Second)); sig != nil {
		t.Fatalf("surge disabled, got signal %+v", sig)
	}
}

func TestDetectMispricingUp(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	// oracle 涨 2% => p_up = 0.5 + 10*0.02 = 0.70，盘口 0.50，边际 0.20
	eng.priceToBeat, eng.lastOracle = 100, 102
	eng.upAsk, eng.downAsk = 0.50, 0.40
	eng.roundUpOpen, eng.roundDownOpen = 0.52, 0.42
	eng.history.Append(base, 0.52, 0.42)
	eng.history.Append(base.Add(time.Second), 0.50, 0.40)

	sig := eng.detectLeg1Locked(base.Add(time.Second))
	if sig == nil {
		t.Fatal("expected mispricing signal")
	}
	if sig.Kind != domain.SignalMispricing || sig.Side != domain.SideUp {
		t.Fatalf("expected mispricing UP, got %s %s", sig.Kind, sig.Side)
	}
	// 错价信号的参考价记轮次开盘价
	if sig.OpenPrice != 0.52 {
		t.Fatalf("expected openPrice 0.52, got %v", sig.OpenPrice)
	}
}

func TestDetectMispricingDown(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	// oracle 跌 2% => p_up = 0.30，p_down = 0.70，DOWN 盘口 0.50
	eng.priceToBeat, eng.lastOracle = 100, 98
	eng.upAsk, eng.downAsk = 0.25, 0.50
	eng.roundUpOpen, eng.roundDownOpen = 0.26, 0.52
	eng.history.Append(base, 0.26, 0.52)
	eng.history.Append(base.Add(time.Second), 0.25, 0.50)

	sig := eng.detectLeg1Locked(base.Add(time.Second))
	if sig == nil {
		t.Fatal("expected mispricing signal")
	}
	if sig.Kind != domain.SignalMispricing || sig.Side != domain.SideDown {
		t.Fatalf("expected mispricing DOWN, got %s %s", sig.Kind, sig.Side)
	}
}

func TestDetectMispricingClamped(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	// oracle 暴涨 20% => 未钳制 p_up=2.5，钳到 0.95
	eng.priceToBeat, eng.lastOracle = 100, 120
	eng.upAsk, eng.downAsk = 0.70, 0.20
	eng.roundUpOpen, eng.roundDownOpen = 0.70, 0.21
	eng.history.Append(base, 0.70, 0.21)
	eng.history.Append(base.Add(time.Second), 0.70, 0.20)

	sig := eng.detectLeg1Locked(base.Add(time.Second))
	if sig == nil {
		t.Fatal("expected mispricing signal")
	}
	// 边际 = 0.95 - 0.70 = 0.25
	if sig.DropPercent < 0.249 || sig.DropPercent > 0.251 {
		t.Fatalf("expected edge 0.25, got %v", sig.DropPercent)
	}
}

func TestDetectMispricingNeedsOracle(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	eng.priceToBeat, eng.lastOracle = 0, 0
	eng.upAsk, eng.downAsk = 0.10, 0.40
	eng.history.Append(base, 0.10, 0.40)
	eng.history.Append(base.Add(time.Second), 0.10, 0.40)

	if sig := eng.detectLeg1Locked(base.Add(time.Second)); sig != nil {
		t.Fatalf("no oracle price, got signal %+v", sig)
	}
}

func TestDetectLeg1WindowClosed(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	eng.history.Append(base.Add(150*time.Second), 0.50, 0.50)
	eng.upAsk, eng.downAsk = 0.30, 0.50
	eng.history.Append(base.Add(151*time.Second), 0.30, 0.50)

	// 开盘 2 分钟后不再准入
	if sig := eng.detectLeg1Locked(base.Add(151 * time.Second)); sig != nil {
		t.Fatalf("window closed, got signal %+v", sig)
	}
}

func TestDetectLeg1LatchBlocksSecondEmission(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	eng.history.Append(base, 0.50, 0.50)
	eng.upAsk, eng.downAsk = 0.35, 0.55
	eng.history.Append(base.Add(2*time.Second), 0.35, 0.55)

	if sig := eng.detectLeg1Locked(base.Add(2 * time.Second)); sig == nil {
		t.Fatal("expected dip signal")
	}
	eng.round.Leg1SignalEmitted = true
	if sig := eng.detectLeg1Locked(base.Add(2 * time.Second)); sig != nil {
		t.Fatalf("latch set, got second signal %+v", sig)
	}
}

func TestDetectLeg1MinProfitRate(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.MinProfitRate = 0.10
	base := time.Now()
	eng := newDetectorEngine(cfg, base)

	// 跌幅够但两腿预估成本 0.357+0.60=0.957，利润率 4.5% 不到 10%
	eng.history.Append(base, 0.50, 0.60)
	eng.upAsk, eng.downAsk = 0.35, 0.60
	eng.history.Append(base.Add(2*time.Second), 0.35, 0.60)

	if sig := eng.detectLeg1Locked(base.Add(2 * time.Second)); sig != nil {
		t.Fatalf("profit rate below floor, got signal %+v", sig)
	}
}

func TestDetectLeg2SumTarget(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	base := time.Now()
	eng := newDetectorEngine(cfg, base)
	eng.round.CompleteLeg1(&domain.FillRecord{
		TokenID: "tok-up", Side: domain.SideUp, Price: 0.40, Size: 20, FilledAt: base,
	})

	// 0.40+0.60 > 0.95 压住
	eng.upAsk, eng.downAsk = 0.40, 0.60
	if sig := eng.detectLeg2Locked(base.Add(time.Second)); sig != nil {
		t.Fatalf("sum above target, got signal %+v", sig)
	}

	// 0.40+0.54 = 0.94 过门槛
	eng.downAsk = 0.54
	sig := eng.detectLeg2Locked(base.Add(2 * time.Second))
	if sig == nil {
		t.Fatal("expected leg2 signal")
	}
	if sig.Side != domain.SideDown || sig.Leg != 2 {
		t.Fatalf("expected leg2 DOWN, got leg%d %s", sig.Leg, sig.Side)
	}
	if sig.EstimatedTotalCost != 0.94 {
		t.Fatalf("expected totalCost 0.94, got %v", sig.EstimatedTotalCost)
	}
	want := (1 - 0.94) / 0.94
	if diff := sig.ExpectedProfitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected profit rate %v, got %v", want, sig.ExpectedProfitRate)
	}
	// 对冲腿份额跟第一腿实际成交份额走
	if sig.Shares != 20 {
		t.Fatalf("expected shares 20, got %v", sig.Shares)
	}
}
