// Package wire 实现手写的二进制线格式
// 数据包 = 一串按通道分组的记录；每条记录 = [通道 id + 续传标志][长度][消息字节]。
// 消息内部使用 protobuf varint 编码，但不依赖任何生成代码。
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"

	"netsync/pkg/tick"
)

var (
	ErrMalformed      = errors.New("线格式损坏")
	ErrPacketTooLarge = errors.New("数据包超过 MTU")
)

// 消息种类
type Kind uint8

const (
	KindSingle   Kind = iota // 完整消息：id + tick + 载荷
	KindFragment             // 分片：message id + 分片序号 + 分片总数 + 数据块
	KindAck                  // 确认：message id + 分片序号
)

// WholeMessage 表示确认整条消息（非分片发送）的分片序号
const WholeMessage = 0xffff

// Message 通道间传输的最小单元
type Message struct {
	Kind    Kind
	ID      uint16 // 回绕序号，每通道每发送方唯一
	Tick    tick.Tick
	Payload []byte

	// 分片字段，仅 KindFragment / KindAck 使用
	FragIndex uint16
	FragTotal uint16
}

// AppendMessage 把消息编码追加到 dst
func AppendMessage(dst []byte, m Message) []byte {
	dst = protowire.AppendVarint(dst, uint64(m.Kind))
	switch m.Kind {
	case KindSingle:
		dst = protowire.AppendVarint(dst, uint64(m.ID))
		dst = protowire.AppendVarint(dst, uint64(m.Tick))
		dst = append(dst, m.Payload...)
	case KindFragment:
		dst = protowire.AppendVarint(dst, uint64(m.ID))
		dst = protowire.AppendVarint(dst, uint64(m.FragIndex))
		dst = protowire.AppendVarint(dst, uint64(m.FragTotal))
		dst = append(dst, m.Payload...)
	case KindAck:
		dst = protowire.AppendVarint(dst, uint64(m.ID))
		dst = protowire.AppendVarint(dst, uint64(m.FragIndex))
	}
	return dst
}

// DecodeMessage 解析一条完整的消息记录
func DecodeMessage(b []byte) (Message, error) {
	var m Message

	kind, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return m, ErrMalformed
	}
	b = b[n:]
	m.Kind = Kind(kind)

	switch m.Kind {
	case KindSingle:
		id, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		b = b[n:]
		t, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		b = b[n:]
		m.ID = uint16(id)
		m.Tick = tick.Tick(t)
		m.Payload = b

	case KindFragment:
		id, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		b = b[n:]
		index, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		b = b[n:]
		total, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		b = b[n:]
		if total == 0 || index >= total || total > 0xffff {
			return m, ErrMalformed
		}
		m.ID = uint16(id)
		m.FragIndex = uint16(index)
		m.FragTotal = uint16(total)
		m.Payload = b

	case KindAck:
		id, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		b = b[n:]
		index, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, ErrMalformed
		}
		m.ID = uint16(id)
		m.FragIndex = uint16(index)

	default:
		return m, ErrMalformed
	}

	return m, nil
}
