package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Numeric 兼容 Polymarket 接口里字符串或数字两种形态的数值字段。
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || strings.EqualFold(string(data), "null") {
		*n = 0
		return nil
	}

	if data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Numeric(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Numeric(f)
	return nil
}

func (n Numeric) Float64() float64 {
	return float64(n)
}

// GammaMarket gamma 接口返回的市场信息
type GammaMarket struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	ConditionID  string  `json:"conditionId"`
	Slug         string  `json:"slug"`
	Active       *bool   `json:"active"`
	Closed       *bool   `json:"closed"`
	Volume       Numeric `json:"volumeNum"`
	Volume24Hr   Numeric `json:"volume24hr"`
	Liquidity    Numeric `json:"liquidityNum"`
	StartDateISO string  `json:"startDateIso"`
	EndDateISO   string  `json:"endDateIso"`
	EndDate      string  `json:"endDate"`
	NegRisk      bool    `json:"negRisk"`
	ClobTokenIds string  `json:"clobTokenIds"` // JSON 数组字符串或逗号分隔
	Outcomes     string  `json:"outcomes"`     // JSON 数组字符串，如 "[\"Up\",\"Down\"]"
}

// IsTradable 市场处于可交易状态（active 且未 closed）
func (m *GammaMarket) IsTradable() bool {
	if m.Closed != nil && *m.Closed {
		return false
	}
	if m.Active != nil && !*m.Active {
		return false
	}
	return true
}

// TokenIDs 解析 clobTokenIds 字段，兼容 JSON 数组和逗号分隔两种格式
func (m *GammaMarket) TokenIDs() []string {
	raw := strings.TrimSpace(m.ClobTokenIds)
	if raw == "" {
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		ids = strings.Split(raw, ",")
	}

	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// OutcomeNames 解析 outcomes 字段，与 TokenIDs 按下标一一对应
func (m *GammaMarket) OutcomeNames() []string {
	var names []string
	if err := json.Unmarshal([]byte(m.Outcomes), &names); err != nil {
		return nil
	}
	return names
}

// EndTime 按优先级解析结束时间字段
func (m *GammaMarket) EndTime() (time.Time, bool) {
	for _, raw := range []string{m.EndDateISO, m.EndDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
