package channel

import (
	"netsync/pkg/tick"
)

// delivered 已完成重组、等待投递裁决的消息
type delivered struct {
	id      MessageID
	tick    tick.Tick
	payload []byte
}

// receiver 通道接收端，决定一条完整消息是否投递、何时投递
type receiver interface {
	bufferRecv(m delivered)
	readMessage() ([]byte, bool)
	setCurrentTick(t tick.Tick)
}

// ========== 无序接收端 ==========

// unorderedReceiver 按到达顺序投递
// dedupe 打开时（可靠通道）记录已见序号，丢弃重发造成的重复。
type unorderedReceiver struct {
	queue  []delivered
	dedupe bool
	seen   map[MessageID]struct{}
	newest MessageID
	primed bool
}

func newUnorderedReceiver(dedupe bool) *unorderedReceiver {
	r := &unorderedReceiver{dedupe: dedupe}
	if dedupe {
		r.seen = make(map[MessageID]struct{})
	}
	return r
}

func (r *unorderedReceiver) bufferRecv(m delivered) {
	if r.dedupe {
		if _, dup := r.seen[m.id]; dup {
			return
		}
		r.seen[m.id] = struct{}{}
		if !r.primed || m.id.After(r.newest) {
			r.newest = m.id
			r.primed = true
		}
		// 窗口裁剪，防止已见集合无限增长
		if len(r.seen) > 4096 {
			for id := range r.seen {
				if r.newest.Diff(id) > 8192 {
					delete(r.seen, id)
				}
			}
		}
	}
	r.queue = append(r.queue, m)
}

func (r *unorderedReceiver) readMessage() ([]byte, bool) {
	if len(r.queue) == 0 {
		return nil, false
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m.payload, true
}

func (r *unorderedReceiver) setCurrentTick(tick.Tick) {}

// ========== 时序接收端 ==========

// sequencedReceiver 丢弃旧消息：任何序号不大于已见最高序号的到达都被
// 静默丢弃，其余乱序到达照常投递
type sequencedReceiver struct {
	queue   []delivered
	highest MessageID
	primed  bool
}

func (r *sequencedReceiver) bufferRecv(m delivered) {
	if r.primed && !m.id.After(r.highest) {
		return
	}
	r.highest = m.id
	r.primed = true
	r.queue = append(r.queue, m)
}

func (r *sequencedReceiver) readMessage() ([]byte, bool) {
	if len(r.queue) == 0 {
		return nil, false
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m.payload, true
}

func (r *sequencedReceiver) setCurrentTick(tick.Tick) {}

// ========== 有序接收端 ==========

// orderedReceiver 缺口等待：乱序到达缓存在序号索引表里，
// 只释放从下一个期望序号开始的连续前缀
type orderedReceiver struct {
	nextExpected MessageID
	pending      map[MessageID]delivered
	ready        []delivered
}

func newOrderedReceiver() *orderedReceiver {
	return &orderedReceiver{pending: make(map[MessageID]delivered)}
}

func (r *orderedReceiver) bufferRecv(m delivered) {
	// 已经释放过的序号直接丢弃（重发造成的重复）
	if m.id.Diff(r.nextExpected) < 0 {
		return
	}
	if _, dup := r.pending[m.id]; dup {
		return
	}
	r.pending[m.id] = m
	r.release()
}

func (r *orderedReceiver) release() {
	for {
		m, ok := r.pending[r.nextExpected]
		if !ok {
			return
		}
		delete(r.pending, r.nextExpected)
		r.ready = append(r.ready, m)
		r.nextExpected++
	}
}

func (r *orderedReceiver) readMessage() ([]byte, bool) {
	if len(r.ready) == 0 {
		return nil, false
	}
	m := r.ready[0]
	r.ready = r.ready[1:]
	return m.payload, true
}

func (r *orderedReceiver) setCurrentTick(tick.Tick) {}

// ========== tick 缓冲接收端 ==========

// tickBufferedReceiver 消息按发送方 tick 打戳
// 本地仿真越过某个 tick 后，寄往该 tick 的消息全部丢弃；
// 寄往未来 tick 的消息留在缓冲区等待。
type tickBufferedReceiver struct {
	buffer  []delivered
	current tick.Tick
	primed  bool
}

func (r *tickBufferedReceiver) bufferRecv(m delivered) {
	if r.primed && m.tick.Before(r.current) {
		return
	}
	r.buffer = append(r.buffer, m)
}

func (r *tickBufferedReceiver) setCurrentTick(t tick.Tick) {
	r.current = t
	r.primed = true

	live := r.buffer[:0]
	for _, m := range r.buffer {
		if !m.tick.Before(t) {
			live = append(live, m)
		}
	}
	r.buffer = live
}

// readMessage 只投递寄往当前 tick 的消息
func (r *tickBufferedReceiver) readMessage() ([]byte, bool) {
	for i, m := range r.buffer {
		if m.tick == r.current {
			r.buffer = append(r.buffer[:i], r.buffer[i+1:]...)
			return m.payload, true
		}
	}
	return nil, false
}
