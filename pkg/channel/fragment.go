package channel

import (
	"time"

	"netsync/pkg/wire"
)

// fragmentConstructor 一条未完成消息的瞬态重组状态
// 完成或超时后即销毁。
type fragmentConstructor struct {
	total    int
	received []bool // 已到达分片位图
	chunks   [][]byte
	count    int
	lastRecv time.Time
}

// fragmentTable 按消息 id 索引的重组表
type fragmentTable struct {
	timeout time.Duration
	pending map[MessageID]*fragmentConstructor
}

func newFragmentTable(timeout time.Duration) *fragmentTable {
	return &fragmentTable{
		timeout: timeout,
		pending: make(map[MessageID]*fragmentConstructor),
	}
}

// add 收纳一个分片，集齐全部分片时返回拼好的完整载荷
func (ft *fragmentTable) add(m wire.Message, now time.Time) ([]byte, bool) {
	id := MessageID(m.ID)
	fc, ok := ft.pending[id]
	if !ok {
		fc = &fragmentConstructor{
			total:    int(m.FragTotal),
			received: make([]bool, m.FragTotal),
			chunks:   make([][]byte, m.FragTotal),
		}
		ft.pending[id] = fc
	}

	// 与首个分片宣称的总数不符，视为损坏，丢掉重来
	if int(m.FragTotal) != fc.total {
		delete(ft.pending, id)
		return nil, false
	}

	fc.lastRecv = now
	if fc.received[m.FragIndex] {
		return nil, false
	}
	fc.received[m.FragIndex] = true
	fc.chunks[m.FragIndex] = append([]byte(nil), m.Payload...)
	fc.count++

	if fc.count < fc.total {
		return nil, false
	}

	size := 0
	for _, c := range fc.chunks {
		size += len(c)
	}
	payload := make([]byte, 0, size)
	for _, c := range fc.chunks {
		payload = append(payload, c...)
	}

	delete(ft.pending, id)
	return payload, true
}

// gc 回收停滞超时的重组状态，返回丢弃的消息条数
// 丢弃是非致命的：可靠通道的发送方迟早会重发这些分片。
func (ft *fragmentTable) gc(now time.Time) int {
	dropped := 0
	for id, fc := range ft.pending {
		if now.Sub(fc.lastRecv) > ft.timeout {
			delete(ft.pending, id)
			dropped++
		}
	}
	return dropped
}

// splitFragments 把超长载荷拆成共享同一消息 id 的分片序列
func splitFragments(id MessageID, payload []byte, fragmentSize int) []wire.Message {
	total := (len(payload) + fragmentSize - 1) / fragmentSize
	msgs := make([]wire.Message, 0, total)
	for i := 0; i < total; i++ {
		start := i * fragmentSize
		end := start + fragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		msgs = append(msgs, wire.Message{
			Kind:      wire.KindFragment,
			ID:        uint16(id),
			FragIndex: uint16(i),
			FragTotal: uint16(total),
			Payload:   payload[start:end],
		})
	}
	return msgs
}
