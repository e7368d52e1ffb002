package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler 事件回调。回调里不要做阻塞操作。
type Handler func(Event)

// Emitter 显式观察者集合。订阅返回退订函数，退订幂等。
// 回调只收纯数据负载，不会拿到引擎实例。
type Emitter struct {
	mu       sync.RWMutex
	seq      int
	handlers map[int]Handler

	log *logrus.Entry
}

// NewEmitter 创建事件分发器
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[int]Handler),
		log:      logrus.WithField("component", "events"),
	}
}

// Subscribe 注册回调，返回退订函数
func (e *Emitter) Subscribe(h Handler) func() {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.handlers[id] = h
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

// Emit 分发一条事件。回调 panic 只记日志，不打断其他订阅者。
func (e *Emitter) Emit(kind Kind, payload any) {
	e.mu.RLock()
	targets := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		targets = append(targets, h)
	}
	e.mu.RUnlock()

	ev := Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
	for _, h := range targets {
		e.dispatch(h, ev)
	}
}

func (e *Emitter) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("kind", ev.Kind).Errorf("⚠️ 事件回调 panic: %v", r)
		}
	}()
	h(ev)
}
