package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/pkg/cache"
	"github.com/betbot/diparb/pkg/sdk/api"
	"github.com/betbot/diparb/pkg/syncgroup"
)

// metricsTTL 指标缓存时长，避免状态接口高频打 CLOB
const metricsTTL = time.Second

// BookSource 订单簿数据源，*api.ClobClient 天然满足
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (*api.OrderBook, error)
}

// Service 按市场拉取双边订单簿并计算派生指标
type Service struct {
	source    BookSource
	threshold float64
	metrics   *cache.InMemoryCache[string, *PairMetrics]
	log       *logrus.Entry
}

// NewService 创建订单簿服务。threshold <= 0 用默认套利阈值。
func NewService(source BookSource, threshold float64) *Service {
	return &Service{
		source:    source,
		threshold: threshold,
		metrics:   cache.NewInMemoryCache[string, *PairMetrics](metricsTTL),
		log:       logrus.WithField("component", "orderbook"),
	}
}

// PairBooks 并发拉取 UP/DOWN 两侧订单簿并归一化
func (s *Service) PairBooks(ctx context.Context, market *domain.Market) (yes, no *Book, err error) {
	if market == nil || !market.IsValid() {
		return nil, nil, fmt.Errorf("市场缺少 token，无法拉取订单簿")
	}

	var yesErr, noErr error
	sg := syncgroup.NewSyncGroup()
	sg.Add(func() {
		raw, e := s.source.GetOrderBook(ctx, market.UpTokenID)
		if e != nil {
			yesErr = e
			return
		}
		yes = Normalize(raw)
	})
	sg.Add(func() {
		raw, e := s.source.GetOrderBook(ctx, market.DownTokenID)
		if e != nil {
			noErr = e
			return
		}
		no = Normalize(raw)
	})
	sg.Run()
	sg.WaitAndClear()

	if yesErr != nil {
		return nil, nil, fmt.Errorf("拉取 UP 侧订单簿失败: %w", yesErr)
	}
	if noErr != nil {
		return nil, nil, fmt.Errorf("拉取 DOWN 侧订单簿失败: %w", noErr)
	}
	return yes, no, nil
}

// Metrics 返回该市场的点差与套利指标，短 TTL 缓存
func (s *Service) Metrics(ctx context.Context, market *domain.Market) (*PairMetrics, error) {
	if market != nil {
		if cached, ok := s.metrics.Get(market.Slug); ok {
			return cached, nil
		}
	}

	yes, no, err := s.PairBooks(ctx, market)
	if err != nil {
		return nil, err
	}
	m, err := ComputePairMetrics(market.Slug, yes, no, s.threshold)
	if err != nil {
		return nil, err
	}

	if m.Arb != nil {
		s.log.WithFields(logrus.Fields{
			"market": market.Slug, "type": m.Arb.Type, "profit": m.Arb.Profit,
		}).Infof("💰 %s", m.Arb.Action)
	}

	s.metrics.Set(market.Slug, m, metricsTTL)
	return m, nil
}
