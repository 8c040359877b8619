package channel

import (
	"time"

	"netsync/pkg/wire"
)

// sender 通道发送端
// bufferSend 接收同一条消息拆出的全部线格式片段（未分片时只有一条）。
type sender interface {
	bufferSend(id MessageID, msgs []wire.Message, now time.Time)
	update(now time.Time)
	collectOutgoing() [][]byte
	ack(id MessageID, fragIndex uint16)
}

// ========== 不可靠发送端 ==========

// unreliableSender 发出即忘，从不重发，也从不上报失败
type unreliableSender struct {
	outgoing [][]byte
}

func (s *unreliableSender) bufferSend(_ MessageID, msgs []wire.Message, _ time.Time) {
	for _, m := range msgs {
		s.outgoing = append(s.outgoing, wire.AppendMessage(nil, m))
	}
}

func (s *unreliableSender) update(time.Time) {}

func (s *unreliableSender) collectOutgoing() [][]byte {
	out := s.outgoing
	s.outgoing = nil
	return out
}

func (s *unreliableSender) ack(MessageID, uint16) {}

// ========== 可靠发送端 ==========

// pendingMessage 未完全确认的消息
// 分片发送时逐片跟踪确认，全部分片确认后整条消息才算送达。
type pendingMessage struct {
	fragments [][]byte // 已编码的线格式片段
	acked     []bool
	remaining int
	lastSent  time.Time
}

// reliableSender 保留未确认载荷并按定时器重发，直到确认或连接判死
type reliableSender struct {
	resendInterval time.Duration
	pending        map[MessageID]*pendingMessage
	order          []MessageID // 重发检查按发送顺序进行
	outgoing       [][]byte
}

func newReliableSender(resendInterval time.Duration) *reliableSender {
	return &reliableSender{
		resendInterval: resendInterval,
		pending:        make(map[MessageID]*pendingMessage),
	}
}

func (s *reliableSender) bufferSend(id MessageID, msgs []wire.Message, now time.Time) {
	pm := &pendingMessage{
		fragments: make([][]byte, len(msgs)),
		acked:     make([]bool, len(msgs)),
		remaining: len(msgs),
		lastSent:  now,
	}
	for i, m := range msgs {
		pm.fragments[i] = wire.AppendMessage(nil, m)
	}

	s.pending[id] = pm
	s.order = append(s.order, id)
	s.outgoing = append(s.outgoing, pm.fragments...)
}

// update 重新排队超过重发间隔仍未确认的片段
func (s *reliableSender) update(now time.Time) {
	for _, id := range s.order {
		pm, ok := s.pending[id]
		if !ok {
			continue
		}
		if now.Sub(pm.lastSent) < s.resendInterval {
			continue
		}
		for i, data := range pm.fragments {
			if !pm.acked[i] {
				s.outgoing = append(s.outgoing, data)
			}
		}
		pm.lastSent = now
	}

	// 清理已确认的序号
	live := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.pending[id]; ok {
			live = append(live, id)
		}
	}
	s.order = live
}

func (s *reliableSender) collectOutgoing() [][]byte {
	out := s.outgoing
	s.outgoing = nil
	return out
}

// ack 标记一个片段已确认，全部片段确认后删除整条消息
func (s *reliableSender) ack(id MessageID, fragIndex uint16) {
	pm, ok := s.pending[id]
	if !ok {
		return
	}

	if fragIndex == wire.WholeMessage {
		delete(s.pending, id)
		return
	}

	if int(fragIndex) >= len(pm.acked) || pm.acked[fragIndex] {
		return
	}
	pm.acked[fragIndex] = true
	pm.remaining--
	if pm.remaining == 0 {
		delete(s.pending, id)
	}
}

// pendingCount 未确认的消息数（测试与诊断用）
func (s *reliableSender) pendingCount() int {
	return len(s.pending)
}
