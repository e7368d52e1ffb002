package sigchan

// Chan 是缓冲为 1 时可合并重复事件的非阻塞信号 channel。
// 只通知"发生过"，不携带数据；连接层用它把多次重连合并成一次就绪通知。
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel，bufferSize 为 1 时重复 Emit 会被合并
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号，channel 已满时直接丢弃
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回只读 channel 供 select 使用
func (c *Chan) C() <-chan struct{} {
	return c.c
}
