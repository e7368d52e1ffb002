package engine

import "time"

// Stats 引擎单调计数器快照
type Stats struct {
	RoundsMonitored  int64   `json:"roundsMonitored"`
	RoundsCompleted  int64   `json:"roundsCompleted"`
	RoundsSuccessful int64   `json:"roundsSuccessful"`
	RoundsExpired    int64   `json:"roundsExpired"`
	SignalsDetected  int64   `json:"signalsDetected"`
	Leg1Filled       int64   `json:"leg1Filled"`
	Leg2Filled       int64   `json:"leg2Filled"`
	TotalSpent       float64 `json:"totalSpent"`
	TotalProfit      float64 `json:"totalProfit"`
	RunningSeconds   float64 `json:"runningSeconds"`
}

// Statistics 返回计数器快照
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	if !e.startedAt.IsZero() {
		s.RunningSeconds = time.Since(e.startedAt).Seconds()
	}
	return s
}
