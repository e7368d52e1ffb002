package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/diparb/pkg/marketspec"
	"github.com/betbot/diparb/pkg/sdk/api"
)

func boolPtr(b bool) *bool { return &b }

type fakeGamma struct {
	markets    map[string]api.GammaMarket
	batchSizes []int
}

func (f *fakeGamma) MarketsBySlugs(_ context.Context, slugs []string) ([]api.GammaMarket, error) {
	f.batchSizes = append(f.batchSizes, len(slugs))
	var out []api.GammaMarket
	for _, slug := range slugs {
		if gm, ok := f.markets[slug]; ok {
			out = append(out, gm)
		}
	}
	return out, nil
}

type fakeClob struct {
	failures int // 前 N 次调用返回传输错误
	calls    int
	info     *api.MarketInfo
}

func (f *fakeClob) GetMarket(context.Context, string) (*api.MarketInfo, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("connection reset")
	}
	return f.info, nil
}

// 生成一个落在查询窗口内的 gamma 市场
func gammaMarketAt(coin string, tf marketspec.Timeframe, end time.Time, tokens string) api.GammaMarket {
	start := end.Add(-tf.Duration())
	slot := (start.Unix() / tf.IntervalSeconds()) * tf.IntervalSeconds()
	return api.GammaMarket{
		ConditionID:  "0xcond-" + coin,
		Slug:         fmt.Sprintf("%s-updown-%s-%d", coin, tf, slot),
		Active:       boolPtr(true),
		Closed:       boolPtr(false),
		EndDateISO:   end.UTC().Format(time.RFC3339),
		ClobTokenIds: tokens,
		Outcomes:     `["Up","Down"]`,
	}
}

func TestScanFindsUpcomingMarket(t *testing.T) {
	now := time.Now()
	gm := gammaMarketAt("btc", marketspec.Timeframe5m, now.Add(10*time.Minute), `["111","222"]`)

	gamma := &fakeGamma{markets: map[string]api.GammaMarket{gm.Slug: gm}}
	svc := NewService(gamma, &fakeClob{})

	markets, err := svc.Scan(context.Background(), Query{
		Coins:       []string{"btc"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
		Limit:       5,
	})
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	require.Equal(t, gm.Slug, m.Slug)
	require.Equal(t, "btc", m.Coin)
	require.Equal(t, "111", m.UpTokenID)
	require.Equal(t, "222", m.DownTokenID)
	require.True(t, m.IsValid())
}

func TestScanBatchesOfTen(t *testing.T) {
	gamma := &fakeGamma{markets: map[string]api.GammaMarket{}}
	svc := NewService(gamma, &fakeClob{})

	// 4 币 × 5m/15m，槽位够多，必然分批
	_, err := svc.Scan(context.Background(), Query{
		Coins:       []string{"btc", "eth", "sol", "xrp"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m, marketspec.Timeframe15m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, gamma.batchSizes)
	for _, size := range gamma.batchSizes {
		require.LessOrEqual(t, size, slugBatchSize)
	}
}

func TestScanFiltersClosedAndOutOfWindow(t *testing.T) {
	now := time.Now()
	tooSoon := gammaMarketAt("btc", marketspec.Timeframe5m, now.Add(2*time.Minute), `["1","2"]`)
	closed := gammaMarketAt("eth", marketspec.Timeframe5m, now.Add(10*time.Minute), `["3","4"]`)
	closed.Closed = boolPtr(true)

	gamma := &fakeGamma{markets: map[string]api.GammaMarket{
		tooSoon.Slug: tooSoon,
		closed.Slug:  closed,
	}}
	svc := NewService(gamma, &fakeClob{})

	markets, err := svc.Scan(context.Background(), Query{
		Coins:       []string{"btc", "eth"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.Empty(t, markets)
}

func TestScanExcludesCurrentMarket(t *testing.T) {
	now := time.Now()
	gm := gammaMarketAt("btc", marketspec.Timeframe5m, now.Add(10*time.Minute), `["1","2"]`)

	gamma := &fakeGamma{markets: map[string]api.GammaMarket{gm.Slug: gm}}
	svc := NewService(gamma, &fakeClob{})

	markets, err := svc.Scan(context.Background(), Query{
		Coins:       []string{"btc"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
		Exclude:     gm.Slug,
	})
	require.NoError(t, err)
	require.Empty(t, markets)
}

// gamma 缺 token 时走 CLOB 详情，前两次传输失败后第三次成功
func TestResolveRetriesOnTransportFailure(t *testing.T) {
	now := time.Now()
	gm := gammaMarketAt("btc", marketspec.Timeframe5m, now.Add(10*time.Minute), "")

	clob := &fakeClob{
		failures: 2,
		info: &api.MarketInfo{
			ConditionID: gm.ConditionID,
			NegRisk:     true,
			Tokens: []api.ClobTokenInfo{
				{TokenID: "111", Outcome: "Up"},
				{TokenID: "222", Outcome: "Down"},
			},
		},
	}
	gamma := &fakeGamma{markets: map[string]api.GammaMarket{gm.Slug: gm}}
	svc := NewService(gamma, clob)
	svc.backoff = time.Millisecond

	markets, err := svc.Scan(context.Background(), Query{
		Coins:       []string{"btc"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Equal(t, 3, clob.calls)
	require.True(t, markets[0].NegRisk)
	require.Equal(t, "111", markets[0].UpTokenID)
}

// 重试耗尽后该 slug 被跳过，不影响其他候选
func TestResolveGivesUpAfterRetries(t *testing.T) {
	now := time.Now()
	gm := gammaMarketAt("btc", marketspec.Timeframe5m, now.Add(10*time.Minute), "")

	clob := &fakeClob{failures: 99}
	gamma := &fakeGamma{markets: map[string]api.GammaMarket{gm.Slug: gm}}
	svc := NewService(gamma, clob)
	svc.backoff = time.Millisecond

	markets, err := svc.Scan(context.Background(), Query{
		Coins:       []string{"btc"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.Empty(t, markets)
	require.Equal(t, resolveRetries, clob.calls)
}

func TestSortByEndDate(t *testing.T) {
	now := time.Now()
	later := gammaMarketAt("btc", marketspec.Timeframe5m, now.Add(20*time.Minute), `["1","2"]`)
	sooner := gammaMarketAt("eth", marketspec.Timeframe5m, now.Add(10*time.Minute), `["3","4"]`)

	gamma := &fakeGamma{markets: map[string]api.GammaMarket{
		later.Slug:  later,
		sooner.Slug: sooner,
	}}
	svc := NewService(gamma, &fakeClob{})

	next, err := svc.Next(context.Background(), Query{
		Coins:       []string{"btc", "eth"},
		Timeframes:  []marketspec.Timeframe{marketspec.Timeframe5m},
		MinUntilEnd: 5 * time.Minute,
		MaxUntilEnd: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, sooner.Slug, next.Slug)
}
