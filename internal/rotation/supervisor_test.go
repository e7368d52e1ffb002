package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/diparb/internal/discovery"
	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/orderbook"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/pkg/config"
)

type fakeEngine struct {
	mu      sync.Mutex
	market  *domain.Market
	round   *domain.Round
	running bool
	starts  []string
	stops   int
}

func (f *fakeEngine) Market() *domain.Market {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.market
}

func (f *fakeEngine) CurrentRound() *domain.Round {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) Start(m *domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.market, f.running = m, true
	f.round = nil
	f.starts = append(f.starts, m.Slug)
	return nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

type fakeFinder struct {
	mu      sync.Mutex
	next    *domain.Market
	err     error
	calls   int
	queries []discovery.Query
}

func (f *fakeFinder) Next(_ context.Context, q discovery.Query) (*domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, q)
	return f.next, f.err
}

type fakeBooks struct {
	up, down *orderbook.Book
	err      error
}

func (f *fakeBooks) PairBooks(context.Context, *domain.Market) (*orderbook.Book, *orderbook.Book, error) {
	return f.up, f.down, f.err
}

type fakeSellExec struct {
	mu     sync.Mutex
	orders []ports.OrderRequest
}

func (f *fakeSellExec) MarketOrder(_ context.Context, req *ports.OrderRequest) (*ports.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, *req)
	return &ports.OrderResult{Success: true, FilledShares: req.Shares, AvgPrice: req.LimitPrice}, nil
}

type fakeSettleAdapter struct {
	resolved  bool
	winner    string
	resErr    error
	redeemErr error
	redeems   int
}

func (f *fakeSettleAdapter) Merge(context.Context, string, float64, bool) (*ports.MergeResult, error) {
	return &ports.MergeResult{Success: true}, nil
}

func (f *fakeSettleAdapter) RedeemByTokenIDs(context.Context, string, string, string, bool) (*ports.RedeemResult, error) {
	f.redeems++
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	return &ports.RedeemResult{Success: true, USDCReceived: 20, TxHash: "0xredeem"}, nil
}

func (f *fakeSettleAdapter) MarketResolution(context.Context, string) (*ports.Resolution, error) {
	if f.resErr != nil {
		return nil, f.resErr
	}
	return &ports.Resolution{IsResolved: f.resolved, Winner: f.winner}, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) record(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) byKind(kind events.Kind) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func rotationMarket(slug string, end time.Time) *domain.Market {
	return &domain.Market{
		Slug:        slug,
		ConditionID: "0xcond-" + slug,
		Coin:        "btc",
		EndTime:     end,
		UpTokenID:   "up-" + slug,
		DownTokenID: "down-" + slug,
	}
}

type supervisorFixture struct {
	sup    *Supervisor
	eng    *fakeEngine
	finder *fakeFinder
	exec   *fakeSellExec
	settle *fakeSettleAdapter
	sink   *eventSink
}

func newFixture(t *testing.T, rotCfg config.RotationConfig) *supervisorFixture {
	t.Helper()
	eng := &fakeEngine{}
	finder := &fakeFinder{}
	exec := &fakeSellExec{}
	settle := &fakeSettleAdapter{}
	books := &fakeBooks{
		up:   &orderbook.Book{Bids: []orderbook.Level{{Price: 0.45, Size: 100}}},
		down: &orderbook.Book{Bids: []orderbook.Level{{Price: 0.52, Size: 100}}},
	}
	emitter := events.NewEmitter()
	sink := &eventSink{}
	emitter.Subscribe(sink.record)

	sup := New(eng, finder, books, exec, settle, emitter, rotCfg, config.DefaultDiscoveryConfig(), nil)
	return &supervisorFixture{sup: sup, eng: eng, finder: finder, exec: exec, settle: settle, sink: sink}
}

// 场景：市场结束时引擎卡在 leg1_filled，redeem 策略下入队、换盘、
// 等待期过后赎回成功并出队。
func TestMarketEndRedeemThenRotate(t *testing.T) {
	now := time.Now()
	fx := newFixture(t, config.DefaultRotationConfig())

	ended := rotationMarket("btc-updown-5m-100", now.Add(-time.Second))
	fx.eng.market = ended
	fx.eng.running = true
	fx.eng.round = &domain.Round{
		Phase: domain.PhaseLeg1Filled,
		Leg1:  &domain.FillRecord{TokenID: ended.UpTokenID, Side: domain.SideUp, Price: 0.40, Size: 20},
	}
	fx.finder.next = rotationMarket("btc-updown-5m-400", now.Add(5*time.Minute))

	fx.sup.rotateTick()

	require.Equal(t, 1, fx.eng.stops)
	require.Equal(t, []string{"btc-updown-5m-400"}, fx.eng.starts)

	pending := fx.sup.PendingRedemptions()
	require.Len(t, pending, 1)
	require.Equal(t, "btc-updown-5m-100", pending[0].MarketSlug)
	require.InDelta(t, 20.0, pending[0].Shares, 1e-9)
	require.Equal(t, []string{ended.UpTokenID, ended.DownTokenID}, pending[0].TokenIDs)
	require.Equal(t, ended.EndTime.Add(5*time.Minute).Unix(), pending[0].NotBefore.Unix())

	rotates := fx.sink.byKind(events.KindRotate)
	require.Len(t, rotates, 1)
	rp := rotates[0].Payload.(*events.RotatePayload)
	require.Equal(t, "marketEnded", rp.Reason)
	require.Equal(t, "btc-updown-5m-100", rp.PreviousMarket)
	require.Equal(t, "btc-updown-5m-400", rp.NewMarket)

	// 等待期未到：tick 不动队列
	fx.sup.redeemTick()
	require.Len(t, fx.sup.PendingRedemptions(), 1)
	require.Zero(t, fx.settle.redeems)

	// 6 分钟后预言机已出结果
	fx.settle.resolved = true
	fx.settle.winner = "UP"
	fx.sup.now = func() time.Time { return now.Add(6 * time.Minute) }
	fx.sup.redeemTick()

	require.Empty(t, fx.sup.PendingRedemptions())
	require.Equal(t, 1, fx.settle.redeems)

	settled := fx.sink.byKind(events.KindSettled)
	require.Len(t, settled, 1)
	sp := settled[0].Payload.(*events.SettledPayload)
	require.True(t, sp.Success)
	require.Equal(t, "redeem", sp.Strategy)
	require.InDelta(t, 20.0, sp.AmountReceived, 1e-9)
}

func TestRedeemGivesUpAfterRetryCap(t *testing.T) {
	now := time.Now()
	cfg := config.DefaultRotationConfig()
	cfg.RedeemMaxRetries = 2
	fx := newFixture(t, cfg)

	ended := rotationMarket("btc-updown-5m-100", now.Add(-10*time.Minute))
	fx.eng.market = ended
	fx.eng.running = true
	fx.eng.round = &domain.Round{
		Phase: domain.PhaseLeg1Filled,
		Leg1:  &domain.FillRecord{TokenID: ended.UpTokenID, Side: domain.SideUp, Price: 0.40, Size: 20},
	}
	fx.finder.next = rotationMarket("btc-updown-5m-400", now.Add(5*time.Minute))
	fx.sup.rotateTick()
	require.Len(t, fx.sup.PendingRedemptions(), 1)

	// 一直不解析：超过重试上限后放弃并报失败
	fx.sup.now = func() time.Time { return now.Add(time.Hour) }
	fx.sup.redeemTick()
	fx.sup.redeemTick()
	require.Len(t, fx.sup.PendingRedemptions(), 1)

	fx.sup.redeemTick()
	require.Empty(t, fx.sup.PendingRedemptions())

	settled := fx.sink.byKind(events.KindSettled)
	require.Len(t, settled, 1)
	sp := settled[0].Payload.(*events.SettledPayload)
	require.False(t, sp.Success)
	require.Equal(t, "redeem", sp.Strategy)
	require.Zero(t, fx.settle.redeems)
}

func TestSellStrategyLiquidatesBothLegs(t *testing.T) {
	now := time.Now()
	cfg := config.DefaultRotationConfig()
	cfg.SettleStrategy = config.SettleStrategySell
	fx := newFixture(t, cfg)

	ended := rotationMarket("btc-updown-5m-100", now.Add(-time.Second))
	fx.eng.market = ended
	fx.eng.running = true
	fx.eng.round = &domain.Round{
		Phase: domain.PhaseLeg1Filled,
		Leg1:  &domain.FillRecord{TokenID: ended.UpTokenID, Side: domain.SideUp, Price: 0.40, Size: 20},
		Leg2:  &domain.FillRecord{TokenID: ended.DownTokenID, Side: domain.SideDown, Price: 0.54, Size: 20},
	}
	fx.finder.next = rotationMarket("btc-updown-5m-400", now.Add(5*time.Minute))

	fx.sup.rotateTick()

	require.Len(t, fx.exec.orders, 2)
	require.Equal(t, ports.SideSell, fx.exec.orders[0].Side)
	// UP 侧 best bid 0.45，卖价让 0.02
	require.InDelta(t, 0.43, fx.exec.orders[0].LimitPrice, 1e-9)
	require.InDelta(t, 0.50, fx.exec.orders[1].LimitPrice, 1e-9)
	require.Empty(t, fx.sup.PendingRedemptions())

	settled := fx.sink.byKind(events.KindSettled)
	require.Len(t, settled, 2)
	for _, ev := range settled {
		sp := ev.Payload.(*events.SettledPayload)
		require.True(t, sp.Success)
		require.Equal(t, "sell", sp.Strategy)
		require.Greater(t, sp.AmountReceived, 0.0)
	}
}

func TestPreloadCachesNextMarket(t *testing.T) {
	now := time.Now()
	fx := newFixture(t, config.DefaultRotationConfig())

	fx.eng.market = rotationMarket("btc-updown-5m-100", now.Add(time.Minute))
	fx.eng.running = true
	fx.finder.next = rotationMarket("btc-updown-5m-400", now.Add(6*time.Minute))

	fx.sup.rotateTick()
	fx.sup.rotateTick()
	require.Equal(t, 1, fx.finder.calls)
	require.Equal(t, "btc-updown-5m-100", fx.finder.queries[0].Exclude)
	// 还没到点，不换盘
	require.Zero(t, fx.eng.stops)
}

func TestRotateNowSwapsMidMarket(t *testing.T) {
	now := time.Now()
	fx := newFixture(t, config.DefaultRotationConfig())

	fx.eng.market = rotationMarket("btc-updown-5m-100", now.Add(4*time.Minute))
	fx.eng.running = true
	fx.finder.next = rotationMarket("btc-updown-5m-400", now.Add(9*time.Minute))

	require.NoError(t, fx.sup.RotateNow(context.Background()))
	require.Equal(t, 1, fx.eng.stops)
	require.Equal(t, []string{"btc-updown-5m-400"}, fx.eng.starts)

	rotates := fx.sink.byKind(events.KindRotate)
	require.Len(t, rotates, 1)
	require.Equal(t, "manual", rotates[0].Payload.(*events.RotatePayload).Reason)
}

func TestRotateNowNoCandidate(t *testing.T) {
	fx := newFixture(t, config.DefaultRotationConfig())
	fx.finder.err = errors.New("gamma down")
	require.Error(t, fx.sup.RotateNow(context.Background()))
	require.Empty(t, fx.eng.starts)
}

func TestEnableTwiceFails(t *testing.T) {
	cfg := config.DefaultRotationConfig()
	cfg.TickSeconds = 3600
	cfg.RedeemRetryIntervalSeconds = 3600
	fx := newFixture(t, cfg)
	fx.eng.market = rotationMarket("btc-updown-5m-100", time.Now().Add(10*time.Minute))
	fx.eng.running = true

	require.NoError(t, fx.sup.Enable())
	require.Error(t, fx.sup.Enable())
	fx.sup.Disable()
	fx.sup.Disable()
}

func TestMarketEndWithoutNextRetriesLater(t *testing.T) {
	now := time.Now()
	fx := newFixture(t, config.DefaultRotationConfig())

	fx.eng.market = rotationMarket("btc-updown-5m-100", now.Add(-time.Second))
	fx.eng.running = true
	fx.finder.next = nil

	fx.sup.rotateTick()
	require.Equal(t, 1, fx.eng.stops)
	require.Empty(t, fx.eng.starts)
	require.Empty(t, fx.sink.byKind(events.KindRotate))
}

type blockingSettle struct {
	fakeSettleAdapter
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (b *blockingSettle) MarketResolution(context.Context, string) (*ports.Resolution, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.gate
	return &ports.Resolution{IsResolved: true, Winner: "UP"}, nil
}

// 赎回 RPC 挂起时，状态快照不能跟着被锁卡住
func TestRedeemTickReleasesLockDuringSettlement(t *testing.T) {
	now := time.Now()
	eng := &fakeEngine{}
	settle := &blockingSettle{entered: make(chan struct{}), gate: make(chan struct{})}
	emitter := events.NewEmitter()
	sink := &eventSink{}
	emitter.Subscribe(sink.record)

	sup := New(eng, &fakeFinder{}, &fakeBooks{}, &fakeSellExec{}, settle, emitter,
		config.DefaultRotationConfig(), config.DefaultDiscoveryConfig(), nil)

	sup.mu.Lock()
	sup.queue.enqueue(&domain.PendingRedemption{
		MarketSlug:  "btc-updown-5m-700",
		ConditionID: "0xcond-700",
		TokenIDs:    []string{"up-700", "down-700"},
		Shares:      20,
		NotBefore:   now.Add(-time.Minute),
	})
	sup.mu.Unlock()

	tickDone := make(chan struct{})
	go func() {
		sup.redeemTick()
		close(tickDone)
	}()
	<-settle.entered

	snapDone := make(chan struct{})
	go func() {
		sup.PendingRedemptions()
		close(snapDone)
	}()
	select {
	case <-snapDone:
	case <-time.After(time.Second):
		t.Fatal("PendingRedemptions blocked while settlement RPC was in flight")
	}

	close(settle.gate)
	select {
	case <-tickDone:
	case <-time.After(2 * time.Second):
		t.Fatal("redeemTick did not finish")
	}

	require.Empty(t, sup.PendingRedemptions())
	require.Equal(t, 1, settle.redeems)
	settled := sink.byKind(events.KindSettled)
	require.Len(t, settled, 1)
	require.True(t, settled[0].Payload.(*events.SettledPayload).Success)
}
