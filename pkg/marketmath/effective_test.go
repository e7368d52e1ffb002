package marketmath

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGetEffectivePrices(t *testing.T) {
	tob := TopOfBook{
		YesBid: 0.55,
		YesAsk: 0.56,
		NoBid:  0.47,
		NoAsk:  0.48,
	}
	eff, err := GetEffectivePrices(tob)
	if err != nil {
		t.Fatalf("GetEffectivePrices error: %v", err)
	}
	// effectiveBuyYes = min(0.56, 1-0.47=0.53) => 0.53
	if !almostEqual(eff.EffectiveBuyYes, 0.53) {
		t.Fatalf("EffectiveBuyYes got=%v want=%v", eff.EffectiveBuyYes, 0.53)
	}
	// effectiveBuyNo = min(0.48, 1-0.55=0.45) => 0.45
	if !almostEqual(eff.EffectiveBuyNo, 0.45) {
		t.Fatalf("EffectiveBuyNo got=%v want=%v", eff.EffectiveBuyNo, 0.45)
	}
	// effectiveSellYes = max(0.55, 1-0.48=0.52) => 0.55
	if !almostEqual(eff.EffectiveSellYes, 0.55) {
		t.Fatalf("EffectiveSellYes got=%v want=%v", eff.EffectiveSellYes, 0.55)
	}
	// effectiveSellNo = max(0.47, 1-0.56=0.44) => 0.47
	if !almostEqual(eff.EffectiveSellNo, 0.47) {
		t.Fatalf("EffectiveSellNo got=%v want=%v", eff.EffectiveSellNo, 0.47)
	}
}

func TestGetEffectivePrices_MissingSide(t *testing.T) {
	// NO 侧完全缺失时走 YES 侧原价
	tob := TopOfBook{YesBid: 0.40, YesAsk: 0.45}
	eff, err := GetEffectivePrices(tob)
	if err != nil {
		t.Fatalf("GetEffectivePrices error: %v", err)
	}
	if !almostEqual(eff.EffectiveBuyYes, 0.45) {
		t.Fatalf("EffectiveBuyYes got=%v want=%v", eff.EffectiveBuyYes, 0.45)
	}
}

func TestCheckArbitrage_Long(t *testing.T) {
	// 构造 long arb：有效买价之和 < 1。
	// yesAsk 0.49, noAsk 0.49，bid 侧镜像更优：
	tob := TopOfBook{
		YesBid: 0.52, // mirror for buy NO => 0.48
		YesAsk: 0.49,
		NoBid:  0.52, // mirror for buy YES => 0.48
		NoAsk:  0.49,
	}
	arb, err := CheckArbitrage(tob, DefaultArbThreshold)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb == nil || arb.Type != "long" {
		t.Fatalf("expected long arb, got %+v", arb)
	}
	// effective buys: 0.48 + 0.48 = 0.96 => profit 0.04
	if !almostEqual(arb.Profit, 0.04) {
		t.Fatalf("profit got=%v want=%v", arb.Profit, 0.04)
	}
}

func TestCheckArbitrage_Example(t *testing.T) {
	// yesAsk=0.45 yesBid=0.40 noAsk=0.50 noBid=0.45
	// effBuyYes=min(0.45, 0.55)=0.45, effBuyNo=min(0.50, 0.60)=0.50
	// longArbProfit = 1 - 0.95 = 0.05 > 0.005 => long
	tob := TopOfBook{YesBid: 0.40, YesAsk: 0.45, NoBid: 0.45, NoAsk: 0.50}
	arb, err := CheckArbitrage(tob, DefaultArbThreshold)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb == nil || arb.Type != "long" {
		t.Fatalf("expected long arb, got %+v", arb)
	}
	if !almostEqual(arb.Profit, 0.05) {
		t.Fatalf("profit got=%v want=%v", arb.Profit, 0.05)
	}
	if !almostEqual(arb.BuyYes, 0.45) || !almostEqual(arb.BuyNo, 0.50) {
		t.Fatalf("effective buys got=(%v,%v)", arb.BuyYes, arb.BuyNo)
	}
}

func TestCheckArbitrage_MirrorNoOpportunity(t *testing.T) {
	// yesAsk=0.60 yesBid=0.45 noAsk=0.50 noBid=0.35
	// effBuyYes=min(0.60, 0.65)=0.60, effBuyNo=min(0.50, 0.55)=0.50 => 1.10，无套利
	tob := TopOfBook{YesBid: 0.45, YesAsk: 0.60, NoBid: 0.35, NoAsk: 0.50}
	arb, err := CheckArbitrage(tob, DefaultArbThreshold)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb != nil {
		t.Fatalf("expected no arb, got %+v", arb)
	}
}
