package api

import (
	"math"
	"testing"
)

// 测试用私钥，不对应任何真实资金
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClient(t *testing.T) *ClobClient {
	t.Helper()
	auth, err := NewAuthFromKey(testPrivateKey)
	if err != nil {
		t.Fatalf("NewAuthFromKey: %v", err)
	}
	client, err := NewClobClient("", auth)
	if err != nil {
		t.Fatalf("NewClobClient: %v", err)
	}
	return client
}

func TestCreateSignedOrder_BuyAmounts(t *testing.T) {
	c := newTestClient(t)

	order, err := c.createSignedOrder("123456789", SideBuy, 20, 0.35, false)
	if err != nil {
		t.Fatalf("createSignedOrder: %v", err)
	}

	// BUY: makerAmount=USDC (20*0.35=7.00), takerAmount=份额
	if order.MakerAmount != "7000000" {
		t.Errorf("makerAmount = %s, want 7000000", order.MakerAmount)
	}
	if order.TakerAmount != "20000000" {
		t.Errorf("takerAmount = %s, want 20000000", order.TakerAmount)
	}
	if order.SideInt != 0 || order.Side != "BUY" {
		t.Errorf("side = %s/%d, want BUY/0", order.Side, order.SideInt)
	}
	if order.Signature == "" {
		t.Error("signature is empty")
	}
}

func TestCreateSignedOrder_SellAmounts(t *testing.T) {
	c := newTestClient(t)

	order, err := c.createSignedOrder("123456789", SideSell, 20, 0.58, false)
	if err != nil {
		t.Fatalf("createSignedOrder: %v", err)
	}

	// SELL: makerAmount=份额, takerAmount=USDC
	if order.MakerAmount != "20000000" {
		t.Errorf("makerAmount = %s, want 20000000", order.MakerAmount)
	}
	if order.TakerAmount != "11600000" {
		t.Errorf("takerAmount = %s, want 11600000", order.TakerAmount)
	}
	if order.SideInt != 1 {
		t.Errorf("sideInt = %d, want 1", order.SideInt)
	}
}

func TestCreateSignedOrder_MinimumBuyBump(t *testing.T) {
	c := newTestClient(t)

	// 0.5 份额 * 0.40 = $0.20，低于 $1 下限，份额应被抬高
	order, err := c.createSignedOrder("123456789", SideBuy, 0.5, 0.40, false)
	if err != nil {
		t.Fatalf("createSignedOrder: %v", err)
	}
	if order.MakerAmount != "1000000" {
		t.Errorf("makerAmount = %s, want 1000000 ($1 minimum)", order.MakerAmount)
	}
	if order.TakerAmount != "2500000" {
		t.Errorf("takerAmount = %s, want 2500000 (2.5 tokens)", order.TakerAmount)
	}
}

func TestCreateSignedOrder_RejectsBadPrice(t *testing.T) {
	c := newTestClient(t)

	for _, price := range []float64{0, -0.1, 1.0, 1.5} {
		if _, err := c.createSignedOrder("1", SideBuy, 10, price, false); err == nil {
			t.Errorf("price %.2f accepted, want error", price)
		}
	}
}

func TestCalculateOptimalFill(t *testing.T) {
	book := &OrderBook{
		Asks: []OrderBookLevel{
			{Price: "0.50", Size: "10"},
			{Price: "0.55", Size: "20"},
		},
	}

	// $5 吃光第一档
	size, avg, filled := CalculateOptimalFill(book, SideBuy, 5.0)
	if math.Abs(size-10) > 1e-9 || math.Abs(avg-0.50) > 1e-9 || math.Abs(filled-5.0) > 1e-9 {
		t.Errorf("got size=%.4f avg=%.4f filled=%.4f", size, avg, filled)
	}

	// $10.5 吃完第一档再吃第二档一半
	size, avg, filled = CalculateOptimalFill(book, SideBuy, 10.5)
	wantSize := 10 + 5.5/0.55
	if math.Abs(size-wantSize) > 1e-9 {
		t.Errorf("size = %.4f, want %.4f", size, wantSize)
	}
	if math.Abs(filled-10.5) > 1e-9 {
		t.Errorf("filled = %.4f, want 10.5", filled)
	}
	wantAvg := 10.5 / wantSize
	if math.Abs(avg-wantAvg) > 1e-9 {
		t.Errorf("avg = %.4f, want %.4f", avg, wantAvg)
	}
}

func TestSellProceeds(t *testing.T) {
	book := &OrderBook{
		Bids: []OrderBookLevel{
			{Price: "0.60", Size: "15"},
			{Price: "0.58", Size: "100"},
		},
	}

	proceeds, avg, filled := SellProceeds(book, 20)
	want := 15*0.60 + 5*0.58
	if math.Abs(proceeds-want) > 1e-9 {
		t.Errorf("proceeds = %.4f, want %.4f", proceeds, want)
	}
	if math.Abs(filled-20) > 1e-9 {
		t.Errorf("filled = %.4f, want 20", filled)
	}
	if math.Abs(avg-want/20) > 1e-9 {
		t.Errorf("avg = %.4f, want %.4f", avg, want/20)
	}

	// 流动性不足时只按实际吃到的量计算
	proceeds, _, filled = SellProceeds(book, 200)
	if math.Abs(filled-115) > 1e-9 {
		t.Errorf("filled = %.4f, want 115", filled)
	}
	if math.Abs(proceeds-(15*0.60+100*0.58)) > 1e-9 {
		t.Errorf("proceeds = %.4f", proceeds)
	}
}

func TestOrderBookBest(t *testing.T) {
	book := &OrderBook{
		Bids: []OrderBookLevel{{Price: "0.48", Size: "100"}},
		Asks: []OrderBookLevel{{Price: "0.52", Size: "50"}},
	}
	if book.BestBid() != 0.48 {
		t.Errorf("BestBid = %v", book.BestBid())
	}
	if book.BestAsk() != 0.52 {
		t.Errorf("BestAsk = %v", book.BestAsk())
	}

	empty := &OrderBook{}
	if empty.BestBid() != 0 || empty.BestAsk() != 0 {
		t.Error("empty book should return 0")
	}
}

func TestGammaMarket_TokenIDs(t *testing.T) {
	m := &GammaMarket{ClobTokenIds: `["111","222"]`}
	ids := m.TokenIDs()
	if len(ids) != 2 || ids[0] != "111" || ids[1] != "222" {
		t.Errorf("TokenIDs = %v", ids)
	}

	m = &GammaMarket{ClobTokenIds: "111, 222"}
	ids = m.TokenIDs()
	if len(ids) != 2 || ids[0] != "111" || ids[1] != "222" {
		t.Errorf("comma-separated TokenIDs = %v", ids)
	}

	if ids := (&GammaMarket{}).TokenIDs(); ids != nil {
		t.Errorf("empty TokenIDs = %v, want nil", ids)
	}
}

func TestGammaMarket_EndTime(t *testing.T) {
	m := &GammaMarket{EndDateISO: "2026-08-26T12:15:00Z"}
	ts, ok := m.EndTime()
	if !ok || ts.Unix() != 1787746500 {
		t.Errorf("EndTime = %v ok=%v", ts, ok)
	}
}
