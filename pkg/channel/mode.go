// Package channel 实现多模式可靠消息通道
// 每个通道按注册时分配的稳定整数 id 标识，携带一种投递语义（Mode）、
// 优先级和可选的重发/确认配置。超过分片大小的载荷自动拆分重组。
package channel

// Mode 通道的投递语义
type Mode uint8

const (
	// UnorderedUnreliable 不保证到达也不保证顺序，发出即忘
	UnorderedUnreliable Mode = iota
	// SequencedUnreliable 不保证到达，但丢弃晚到的旧消息
	SequencedUnreliable
	// UnorderedReliable 保证到达，不保证顺序
	UnorderedReliable
	// SequencedReliable 保证到达，丢弃晚到的旧消息
	SequencedReliable
	// OrderedReliable 保证到达且严格按序投递，缺口等待
	OrderedReliable
	// TickBuffered 不可靠，消息按发送方 tick 打戳，过期即弃
	TickBuffered
)

// Reliable 判断该模式是否需要重发直到确认
func (m Mode) Reliable() bool {
	switch m {
	case UnorderedReliable, SequencedReliable, OrderedReliable:
		return true
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case UnorderedUnreliable:
		return "UnorderedUnreliable"
	case SequencedUnreliable:
		return "SequencedUnreliable"
	case UnorderedReliable:
		return "UnorderedReliable"
	case SequencedReliable:
		return "SequencedReliable"
	case OrderedReliable:
		return "OrderedReliable"
	case TickBuffered:
		return "TickBuffered"
	default:
		return "Unknown"
	}
}

// MessageID 回绕的消息序号，每通道每发送方唯一
type MessageID uint16

// Diff 返回 m - o 的有符号模差值
func (m MessageID) Diff(o MessageID) int {
	return int(int16(uint16(m) - uint16(o)))
}

// After 判断 m 是否比 o 新（模比较）
func (m MessageID) After(o MessageID) bool {
	return m.Diff(o) > 0
}
