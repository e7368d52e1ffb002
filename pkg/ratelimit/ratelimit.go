package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 端点级限流器
type Limiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// TokenBucket 令牌桶：容量封顶，按秒匀速补充。下单这类突发型端点用它。
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillRate int // 每秒补充数
	windowSize time.Duration
	lastRefill time.Time
}

func NewTokenBucket(capacity, refillRate int, windowSize time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		windowSize: windowSize,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refillLocked() {
	elapsed := time.Since(tb.lastRefill)
	add := int(elapsed.Seconds()) * tb.refillRate
	if add > 0 {
		tb.tokens += add
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = time.Now()
	}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := tb.windowSize
		if tb.refillRate > 0 {
			wait = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// SlidingWindow 滑动窗口：窗口内请求数封顶。查询型端点用它。
type SlidingWindow struct {
	mu         sync.Mutex
	limit      int
	windowSize time.Duration
	requests   []time.Time
}

func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, windowSize: windowSize}
}

func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-sw.windowSize)
	kept := sw.requests[:0]
	for _, req := range sw.requests {
		if req.After(cutoff) {
			kept = append(kept, req)
		}
	}
	sw.requests = kept

	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > wait {
				wait = d
			}
		}
		sw.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimitManager 按端点名路由到对应限流器，未知端点走宽松默认桶
type RateLimitManager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

func NewRateLimitManager() *RateLimitManager {
	m := &RateLimitManager{
		limiters: map[string]Limiter{
			// CLOB 官方限额
			"clob:order:post": NewTokenBucket(2400, 240, 10*time.Second),
			"clob:book:get":   NewSlidingWindow(200, 10*time.Second),
			"clob:market:get": NewSlidingWindow(200, 10*time.Second),

			// Gamma：市场发现按 slug 批量拉取走这个桶
			"gamma:markets:get": NewSlidingWindow(125, 10*time.Second),
			"gamma:general":     NewSlidingWindow(750, 10*time.Second),
		},
		fallback: NewSlidingWindow(5000, 10*time.Second),
	}
	return m
}

func (m *RateLimitManager) limiter(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait 阻塞到端点限额放行或 ctx 取消
func (m *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return m.limiter(endpoint).Wait(ctx)
}

// Allow 非阻塞检查
func (m *RateLimitManager) Allow(endpoint string) bool {
	return m.limiter(endpoint).Allow()
}
