package prediction

import (
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

// historyWindow 各历史缓冲的保留窗口（tick 数）
// 远小于 tick 回绕周期，Diff 比较在窗口内恒正确。
const historyWindow = 128

type compKey struct {
	entity world.EntityID
	comp   world.ComponentID
}

// historyBuffer 按 tick 索引的单组件预测值历史
type historyBuffer struct {
	values map[tick.Tick]any
	latest tick.Tick
	seeded bool
}

func newHistoryBuffer() *historyBuffer {
	return &historyBuffer{values: make(map[tick.Tick]any)}
}

func (h *historyBuffer) put(t tick.Tick, v any) {
	h.values[t] = v
	if !h.seeded || t.After(h.latest) {
		h.latest = t
		h.seeded = true
	}
	for old := range h.values {
		if h.latest.Diff(old) > historyWindow {
			delete(h.values, old)
		}
	}
}

func (h *historyBuffer) get(t tick.Tick) (any, bool) {
	v, ok := h.values[t]
	return v, ok
}

// InputBuffer 按 tick 索引的本地输入历史，回滚重演的素材
type InputBuffer struct {
	inputs map[tick.Tick]any
	latest tick.Tick
	seeded bool
}

// NewInputBuffer 创建空输入缓冲
func NewInputBuffer() *InputBuffer {
	return &InputBuffer{inputs: make(map[tick.Tick]any)}
}

// Record 登记某 tick 的本地输入，同 tick 重复登记以后者为准
func (b *InputBuffer) Record(t tick.Tick, input any) {
	b.inputs[t] = input
	if !b.seeded || t.After(b.latest) {
		b.latest = t
		b.seeded = true
	}
	for old := range b.inputs {
		if b.latest.Diff(old) > historyWindow {
			delete(b.inputs, old)
		}
	}
}

// Get 取某 tick 的输入，缺失返回 nil
func (b *InputBuffer) Get(t tick.Tick) any {
	return b.inputs[t]
}
