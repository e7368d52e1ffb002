package syncgroup

import "sync"

// SyncGroup 收集一批函数后统一并发执行，Add/Done 配对由组内代劳。
// 适合「攒一批任务、一次放行、等全部收尾」的扇出场景。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个待执行函数。上一批还有协程在跑时拒绝登记，
// 调用方须先 WaitAndClear 再复用。
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run 把已登记的函数全部放到协程里跑，并清空登记列表
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.fns
	g.fns = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do func()) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait 等待当前批次全部完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitAndClear 等待完成并复位，之后组可以装新一批任务
func (g *SyncGroup) WaitAndClear() {
	g.wg.Wait()
	g.mu.Lock()
	g.fns = nil
	g.running = 0
	g.mu.Unlock()
}
