package engine

import (
	"time"
)

// historyCapacity 价格历史环形容量，满了淘汰最旧的
const historyCapacity = 100

// pricePoint 一次双边盘口采样
type pricePoint struct {
	at      time.Time
	upAsk   float64
	downAsk float64
}

// priceHistory 单轮内的价格历史环。每轮开始时清空。
type priceHistory struct {
	points []pricePoint
}

func newPriceHistory() *priceHistory {
	return &priceHistory{points: make([]pricePoint, 0, historyCapacity)}
}

// Reset 清空，复用底层数组
func (h *priceHistory) Reset() {
	h.points = h.points[:0]
}

// Append 追加一次采样，超出容量时先淘汰最旧的
func (h *priceHistory) Append(at time.Time, upAsk, downAsk float64) {
	if len(h.points) >= historyCapacity {
		copy(h.points, h.points[1:])
		h.points = h.points[:len(h.points)-1]
	}
	h.points = append(h.points, pricePoint{at: at, upAsk: upAsk, downAsk: downAsk})
}

func (h *priceHistory) Len() int { return len(h.points) }

// RefAt 取 cutoff 时刻的参考价：cutoff 之前（含）最近的一条。
// 窗口比整段历史还长时退回最旧的一条，但至少要有两条采样，
// 避免拿当前 tick 自己当参考造成零跌幅误判。
func (h *priceHistory) RefAt(cutoff time.Time) (pricePoint, bool) {
	for i := len(h.points) - 1; i >= 0; i-- {
		if !h.points[i].at.After(cutoff) {
			return h.points[i], true
		}
	}
	if len(h.points) >= 2 {
		return h.points[0], true
	}
	return pricePoint{}, false
}
