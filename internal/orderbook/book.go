package orderbook

import (
	"sort"
	"strconv"
	"time"

	"github.com/betbot/diparb/pkg/sdk/api"
)

// Level 解析后的价格档位
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Book 归一化后的单 token 订单簿：bids 降序、asks 升序，坏档位已滤掉
type Book struct {
	TokenID   string    `json:"tokenId"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// BestBid 最优买价，空簿返回 0
func (b *Book) BestBid() (price, size float64) {
	if len(b.Bids) == 0 {
		return 0, 0
	}
	return b.Bids[0].Price, b.Bids[0].Size
}

// BestAsk 最优卖价，空簿返回 0
func (b *Book) BestAsk() (price, size float64) {
	if len(b.Asks) == 0 {
		return 0, 0
	}
	return b.Asks[0].Price, b.Asks[0].Size
}

// BidDepth 买侧累计深度（Σ price*size）
func (b *Book) BidDepth() float64 { return depth(b.Bids) }

// AskDepth 卖侧累计深度
func (b *Book) AskDepth() float64 { return depth(b.Asks) }

func depth(levels []Level) float64 {
	total := 0.0
	for _, l := range levels {
		total += l.Price * l.Size
	}
	return total
}

// Normalize 把 CLOB 返回的字符串档位转成归一化订单簿。
// 解析失败或非正的档位直接忽略；时间戳缺失用本地时钟。
func Normalize(raw *api.OrderBook) *Book {
	if raw == nil {
		return nil
	}

	parse := func(src []api.OrderBookLevel) []Level {
		out := make([]Level, 0, len(src))
		for _, l := range src {
			price, err := strconv.ParseFloat(l.Price, 64)
			if err != nil || price <= 0 {
				continue
			}
			size, err := strconv.ParseFloat(l.Size, 64)
			if err != nil || size <= 0 {
				continue
			}
			out = append(out, Level{Price: price, Size: size})
		}
		return out
	}

	bids := parse(raw.Bids)
	asks := parse(raw.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	ts := time.Now()
	if raw.Timestamp != "" {
		if ms, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil && ms > 0 {
			ts = time.UnixMilli(ms)
		}
	}

	return &Book{TokenID: raw.AssetID, Bids: bids, Asks: asks, Timestamp: ts}
}
