package api

import (
	"context"
	"fmt"
	"net/http"

	httpx "github.com/betbot/diparb/pkg/sdk/http"

	"github.com/betbot/diparb/pkg/ratelimit"
)

const DefaultGammaURL = "https://gamma-api.polymarket.com"

// GammaClient gamma 接口客户端，市场发现用（无需鉴权）
type GammaClient struct {
	http *httpx.Client
}

// NewGammaClient 创建 gamma 客户端，limiter 可为 nil
func NewGammaClient(baseURL string, limiter *ratelimit.RateLimitManager) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}

	client := httpx.NewClient(baseURL)
	if limiter != nil {
		client.WithRateLimiter(limiter)
	}
	return &GammaClient{http: client}
}

// MarketsBySlugs 按 slug 批量查询市场，slug 参数可重复传。
// 不存在的 slug 直接缺席结果，不报错。
func (g *GammaClient) MarketsBySlugs(ctx context.Context, slugs []string) ([]GammaMarket, error) {
	if len(slugs) == 0 {
		return nil, nil
	}

	var markets []GammaMarket
	resp, err := g.http.DoRequestCtx(ctx, http.MethodGet, "/markets", &httpx.RequestOptions{
		Params:   map[string]any{"slug": slugs},
		Endpoint: "gamma:markets:get",
	}, &markets)
	if _, err = httpx.ParseHTTPError(resp, err); err != nil {
		return nil, fmt.Errorf("gamma markets query: %w", err)
	}
	return markets, nil
}

// MarketBySlug 按单个 slug 查询市场，未找到返回 nil
func (g *GammaClient) MarketBySlug(ctx context.Context, slug string) (*GammaMarket, error) {
	markets, err := g.MarketsBySlugs(ctx, []string{slug})
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if markets[i].Slug == slug {
			return &markets[i], nil
		}
	}
	return nil, nil
}
