package domain

import (
	"strings"
	"time"

	"github.com/betbot/diparb/pkg/marketspec"
)

// OutcomeSide 二元市场的方向
type OutcomeSide string

const (
	SideUp   OutcomeSide = "UP"
	SideDown OutcomeSide = "DOWN"
)

// Opposite 对侧方向
func (s OutcomeSide) Opposite() OutcomeSide {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// NormalizeOutcome 把市场返回的 outcome 名字归一化成 UP/DOWN。
// 兼容 Up/Down 和 Yes/No 两种命名，大小写不敏感；认不出来时返回 false。
func NormalizeOutcome(name string) (OutcomeSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "UP", "YES":
		return SideUp, true
	case "DOWN", "NO":
		return SideDown, true
	default:
		return "", false
	}
}

// Market 一个 updown 二元市场周期
type Market struct {
	Slug        string               // 市场 slug（btc-updown-5m-xxxx）
	ConditionID string               // 链上条件 ID
	Coin        string               // 标的币种（btc/eth/...）
	Timeframe   marketspec.Timeframe // 周期时长
	StartTime   time.Time            // 周期起点
	EndTime     time.Time            // 周期终点
	UpTokenID   string               // UP 侧 token
	DownTokenID string               // DOWN 侧 token
	NegRisk     bool                 // 是否走 NegRisk 交易所合约
	Volume      float64
	Liquidity   float64
}

// IsValid 两侧 token 都齐才能交易
func (m *Market) IsValid() bool {
	return m.Slug != "" && m.ConditionID != "" && m.UpTokenID != "" && m.DownTokenID != ""
}

// TokenID 按方向取 token
func (m *Market) TokenID(side OutcomeSide) string {
	if side == SideUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// SideOfToken 反查 token 属于哪一侧
func (m *Market) SideOfToken(tokenID string) (OutcomeSide, bool) {
	switch tokenID {
	case m.UpTokenID:
		return SideUp, true
	case m.DownTokenID:
		return SideDown, true
	default:
		return "", false
	}
}

// Ended 市场周期是否已结束
func (m *Market) Ended(now time.Time) bool {
	return !m.EndTime.IsZero() && !now.Before(m.EndTime)
}

// MinutesUntilEnd 距结束的分钟数，可为负
func (m *Market) MinutesUntilEnd(now time.Time) float64 {
	return m.EndTime.Sub(now).Minutes()
}

// AssignTokens 按 outcome 名字把 token 分配到 UP/DOWN 两侧。
// 名字认不出来时按下标兜底：第 0 个是 UP，第 1 个是 DOWN。
func (m *Market) AssignTokens(tokenIDs, outcomes []string) bool {
	if len(tokenIDs) < 2 {
		return false
	}

	m.UpTokenID, m.DownTokenID = "", ""
	for i, name := range outcomes {
		if i >= len(tokenIDs) {
			break
		}
		side, ok := NormalizeOutcome(name)
		if !ok {
			continue
		}
		if side == SideUp {
			m.UpTokenID = tokenIDs[i]
		} else {
			m.DownTokenID = tokenIDs[i]
		}
	}

	if m.UpTokenID == "" || m.DownTokenID == "" {
		m.UpTokenID = tokenIDs[0]
		m.DownTokenID = tokenIDs[1]
	}
	return true
}
