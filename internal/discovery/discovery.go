package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/pkg/marketspec"
	"github.com/betbot/diparb/pkg/sdk/api"
	"github.com/betbot/diparb/pkg/syncgroup"
)

const (
	// slugBatchSize gamma 每批查询的 slug 数
	slugBatchSize = 10
	// resolveRetries token 解析的重试次数
	resolveRetries = 3
	// resolveBackoff 重试间隔
	resolveBackoff = time.Second
)

// MarketSource gamma 市场查询源
type MarketSource interface {
	MarketsBySlugs(ctx context.Context, slugs []string) ([]api.GammaMarket, error)
}

// TokenResolver CLOB 市场详情源，gamma 缺 token 时兜底
type TokenResolver interface {
	GetMarket(ctx context.Context, conditionID string) (*api.MarketInfo, error)
}

// Query 候选市场的筛选条件
type Query struct {
	Coins       []string
	Timeframes  []marketspec.Timeframe
	MinUntilEnd time.Duration
	MaxUntilEnd time.Duration
	Limit       int
	SortBy      string // endDate | volume | liquidity
	Exclude     string // 排除的 slug（当前正在交易的市场）
}

// Service 按 slug 模板枚举即将结束的 updown 市场
type Service struct {
	gamma   MarketSource
	clob    TokenResolver
	backoff time.Duration
	log     *logrus.Entry
}

// NewService 创建市场发现服务
func NewService(gamma MarketSource, clob TokenResolver) *Service {
	return &Service{
		gamma:   gamma,
		clob:    clob,
		backoff: resolveBackoff,
		log:     logrus.WithField("component", "discovery"),
	}
}

// Scan 枚举槽位、批量查询、过滤排序，返回已解析 token 的候选市场
func (s *Service) Scan(ctx context.Context, q Query) ([]*domain.Market, error) {
	if len(q.Coins) == 0 || len(q.Timeframes) == 0 {
		return nil, fmt.Errorf("discovery 查询缺少 coins 或 timeframes")
	}

	now := time.Now()
	slugs := enumerateSlugs(now, q)
	if len(slugs) == 0 {
		return nil, nil
	}

	raw, err := s.fetchBatches(ctx, slugs)
	if err != nil {
		return nil, err
	}

	candidates := s.filter(now, raw, q)
	sortCandidates(candidates, q.SortBy)
	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	out := make([]*domain.Market, 0, len(candidates))
	for _, c := range candidates {
		market, err := s.resolve(ctx, c)
		if err != nil {
			// 单个 slug 解析失败跳过，不拖垮整批
			s.log.WithField("slug", c.gm.Slug).Warnf("⚠️ token 解析失败: %v", err)
			continue
		}
		out = append(out, market)
	}
	return out, nil
}

// Next 返回最快结束的一个候选
func (s *Service) Next(ctx context.Context, q Query) (*domain.Market, error) {
	q.SortBy = "endDate"
	q.Limit = 1
	markets, err := s.Scan(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, nil
	}
	return markets[0], nil
}

// enumerateSlugs 槽位起点 × 币种 的笛卡尔积
func enumerateSlugs(now time.Time, q Query) []string {
	var slugs []string
	seen := make(map[string]bool)
	for _, tf := range q.Timeframes {
		for _, coin := range q.Coins {
			spec, err := marketspec.New(coin, tf.String(), "updown")
			if err != nil {
				continue
			}
			for _, ts := range spec.SlotStarts(now, q.MinUntilEnd, q.MaxUntilEnd) {
				slug := spec.Slug(ts)
				if slug == q.Exclude || seen[slug] {
					continue
				}
				seen[slug] = true
				slugs = append(slugs, slug)
			}
		}
	}
	return slugs
}

// fetchBatches 每 10 个 slug 一批并发查询 gamma
func (s *Service) fetchBatches(ctx context.Context, slugs []string) ([]api.GammaMarket, error) {
	var mu sync.Mutex
	var all []api.GammaMarket
	var firstErr error

	sg := syncgroup.NewSyncGroup()
	for start := 0; start < len(slugs); start += slugBatchSize {
		end := start + slugBatchSize
		if end > len(slugs) {
			end = len(slugs)
		}
		batch := slugs[start:end]
		sg.Add(func() {
			markets, err := s.gamma.MarketsBySlugs(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			all = append(all, markets...)
		})
	}
	sg.Run()
	sg.WaitAndClear()

	if len(all) == 0 && firstErr != nil {
		return nil, domain.NewError(domain.ErrTransport, "gamma 批量查询失败", firstErr)
	}
	return all, nil
}

type candidate struct {
	gm      api.GammaMarket
	spec    marketspec.MarketSpec
	startTS int64
	endTime time.Time
}

// filter 去掉不可交易或结束时间不在窗口内的市场
func (s *Service) filter(now time.Time, raw []api.GammaMarket, q Query) []candidate {
	minEnd := now.Add(q.MinUntilEnd)
	maxEnd := now.Add(q.MaxUntilEnd)

	var out []candidate
	for _, gm := range raw {
		if gm.Slug == "" || gm.Slug == q.Exclude || !gm.IsTradable() {
			continue
		}
		spec, startTS, err := marketspec.ParseSlug(gm.Slug)
		if err != nil {
			continue
		}

		endTime, ok := gm.EndTime()
		if !ok {
			// gamma 缺结束时间时按 slug 槽位推算
			endTime = time.Unix(startTS, 0).Add(spec.Duration())
		}
		if endTime.Before(minEnd) || endTime.After(maxEnd) {
			continue
		}
		out = append(out, candidate{gm: gm, spec: spec, startTS: startTS, endTime: endTime})
	}
	return out
}

func sortCandidates(cs []candidate, sortBy string) {
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "volume":
		sort.Slice(cs, func(i, j int) bool { return cs[i].gm.Volume24Hr.Float64() > cs[j].gm.Volume24Hr.Float64() })
	case "liquidity":
		sort.Slice(cs, func(i, j int) bool { return cs[i].gm.Liquidity.Float64() > cs[j].gm.Liquidity.Float64() })
	default: // endDate：最快结束的在前
		sort.Slice(cs, func(i, j int) bool { return cs[i].endTime.Before(cs[j].endTime) })
	}
}

// resolve 补齐两侧 token：gamma 自带的优先，缺了走 CLOB 详情，
// 传输失败重试 3 次、间隔 1 秒。
func (s *Service) resolve(ctx context.Context, c candidate) (*domain.Market, error) {
	market := &domain.Market{
		Slug:        c.gm.Slug,
		ConditionID: c.gm.ConditionID,
		Coin:        c.spec.Symbol,
		Timeframe:   c.spec.Timeframe,
		StartTime:   time.Unix(c.startTS, 0).UTC(),
		EndTime:     c.endTime,
		NegRisk:     c.gm.NegRisk,
		Volume:      c.gm.Volume.Float64(),
		Liquidity:   c.gm.Liquidity.Float64(),
	}

	if ids := c.gm.TokenIDs(); len(ids) >= 2 {
		market.AssignTokens(ids, c.gm.OutcomeNames())
	}
	if market.IsValid() {
		return market, nil
	}
	if market.ConditionID == "" {
		return nil, domain.NewError(domain.ErrInvalidResponse, fmt.Sprintf("市场 %s 缺 conditionId", c.gm.Slug), nil)
	}

	var lastErr error
	for attempt := 0; attempt < resolveRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
		info, err := s.clob.GetMarket(ctx, market.ConditionID)
		if err != nil {
			lastErr = err
			continue
		}
		if info == nil || len(info.Tokens) < 2 {
			return nil, domain.NewError(domain.ErrInvalidResponse, fmt.Sprintf("市场 %s 的 CLOB 详情缺 token", c.gm.Slug), nil)
		}
		ids := make([]string, 0, len(info.Tokens))
		outcomes := make([]string, 0, len(info.Tokens))
		for _, tok := range info.Tokens {
			ids = append(ids, tok.TokenID)
			outcomes = append(outcomes, tok.Outcome)
		}
		market.AssignTokens(ids, outcomes)
		market.NegRisk = info.NegRisk
		if market.IsValid() {
			return market, nil
		}
		return nil, domain.NewError(domain.ErrInvalidResponse, fmt.Sprintf("市场 %s token 不完整", c.gm.Slug), nil)
	}
	return nil, domain.NewError(domain.ErrTransport, fmt.Sprintf("市场 %s token 解析重试耗尽", c.gm.Slug), lastErr)
}
