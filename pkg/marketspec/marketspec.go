package marketspec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timeframe 表示市场周期（用于 polymarket updown market slug）。
// 支持：5m / 15m
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
)

// Coins 支持的标的币种（slug 里的小写形式）
var Coins = []string{"btc", "eth", "sol", "xrp"}

func ParseTimeframe(v string) (Timeframe, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "5m", "5min", "5mins", "5-minute", "5minutes":
		return Timeframe5m, nil
	case "15m", "15min", "15mins", "15-minute", "15minutes":
		return Timeframe15m, nil
	default:
		return "", fmt.Errorf("不支持的 timeframe: %q（支持: 5m/15m）", v)
	}
}

func (t Timeframe) String() string { return string(t) }

func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	default:
		// 未知值按 5m 处理，避免 panic（Validate 会兜底）
		return 5 * time.Minute
	}
}

func (t Timeframe) IntervalSeconds() int64 {
	return int64(t.Duration().Seconds())
}

// IsSupportedCoin 判断是否为支持的标的
func IsSupportedCoin(coin string) bool {
	c := strings.ToLower(strings.TrimSpace(coin))
	for _, v := range Coins {
		if v == c {
			return true
		}
	}
	return false
}

// MarketSpec 表示要交易/订阅的 polymarket updown 市场规格。
type MarketSpec struct {
	Symbol    string // e.g. "btc", "eth"
	Kind      string // e.g. "updown"
	Timeframe Timeframe
}

var symbolRe = regexp.MustCompile(`^[a-z0-9]+$`)

func New(symbol, timeframe, kind string) (MarketSpec, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return MarketSpec{}, err
	}
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		s = "btc"
	}
	if !symbolRe.MatchString(s) {
		return MarketSpec{}, fmt.Errorf("无效的 symbol: %q（仅允许小写字母/数字）", symbol)
	}
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		k = "updown"
	}
	return MarketSpec{Symbol: s, Kind: k, Timeframe: tf}, nil
}

func (m MarketSpec) Duration() time.Duration { return m.Timeframe.Duration() }

// CurrentPeriodStartUnix 返回当前周期起点（slug 的时间戳部分，UTC 秒对齐）。
func (m MarketSpec) CurrentPeriodStartUnix(now time.Time) int64 {
	interval := m.Timeframe.IntervalSeconds()
	return (now.Unix() / interval) * interval
}

func (m MarketSpec) Slug(periodStartUnix int64) string {
	// 约定：polymarket slug 使用小写 symbol / kind / timeframe
	return fmt.Sprintf("%s-%s-%s-%d", m.Symbol, m.Kind, m.Timeframe.String(), periodStartUnix)
}

func (m MarketSpec) SlugPrefix() string {
	return fmt.Sprintf("%s-%s-%s-", m.Symbol, m.Kind, m.Timeframe.String())
}

func (m MarketSpec) NextPeriodStartUnix(periodStartUnix int64) int64 {
	return periodStartUnix + m.Timeframe.IntervalSeconds()
}

func (m MarketSpec) NextSlugs(count int) []string {
	if count <= 0 {
		return nil
	}
	start := m.CurrentPeriodStartUnix(time.Now())
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ts := start + int64(i)*m.Timeframe.IntervalSeconds()
		out = append(out, m.Slug(ts))
	}
	return out
}

// SlotStarts 枚举 [now+minUntilEnd, now+maxUntilEnd] 区间内可能结束的
// 周期起点时间戳。周期在起点 + interval 时结束，所以起点范围向前回推一个周期。
func (m MarketSpec) SlotStarts(now time.Time, minUntilEnd, maxUntilEnd time.Duration) []int64 {
	interval := m.Timeframe.IntervalSeconds()
	minEnd := now.Add(minUntilEnd).Unix()
	maxEnd := now.Add(maxUntilEnd).Unix()

	lo := ((minEnd - interval) / interval) * interval
	hi := ((maxEnd + interval - 1) / interval) * interval

	var out []int64
	for ts := lo; ts <= hi; ts += interval {
		out = append(out, ts)
	}
	return out
}

// ParseSlug 解析 {coin}-{kind}-{timeframe}-{unix} 形式的 slug。
func ParseSlug(slug string) (MarketSpec, int64, error) {
	parts := strings.Split(strings.TrimSpace(slug), "-")
	if len(parts) != 4 {
		return MarketSpec{}, 0, fmt.Errorf("无效的市场 slug: %q", slug)
	}
	spec, err := New(parts[0], parts[2], parts[1])
	if err != nil {
		return MarketSpec{}, 0, err
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || ts <= 0 {
		return MarketSpec{}, 0, fmt.Errorf("无效的 slug 时间戳: %q", slug)
	}
	return spec, ts, nil
}
