package session

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"netsync/pkg/tick"
)

var errMalformedPing = errors.New("对时消息损坏")

// Ping 对时探测，SentAt 为发送方本地时钟的纳秒时间戳
// 只用来算往返时延，双方时钟无需对齐。
type Ping struct {
	SentAt int64
}

// Pong 对时应答：回显探测时间戳，附带应答方的当前时间点
type Pong struct {
	SentAt int64
	Remote tick.Instant
}

// 探测与应答走同一条通道，用首字节区分
const (
	kindPing = 0x00
	kindPong = 0x01
)

// EncodePing 编码探测
func EncodePing(p Ping) []byte {
	b := []byte{kindPing}
	return protowire.AppendFixed64(b, uint64(p.SentAt))
}

// DecodePing 解码探测，应答或损坏数据返回错误
func DecodePing(b []byte) (Ping, error) {
	if len(b) == 0 || b[0] != kindPing {
		return Ping{}, errMalformedPing
	}
	v, n := protowire.ConsumeFixed64(b[1:])
	if n < 0 {
		return Ping{}, errMalformedPing
	}
	return Ping{SentAt: int64(v)}, nil
}

// EncodePong 编码应答
func EncodePong(p Pong) []byte {
	b := []byte{kindPong}
	b = protowire.AppendFixed64(b, uint64(p.SentAt))
	b = protowire.AppendVarint(b, uint64(p.Remote.Tick))
	b = protowire.AppendFixed64(b, math.Float64bits(p.Remote.Overstep))
	return b
}

// DecodePong 解码应答，探测或损坏数据返回错误
func DecodePong(b []byte) (Pong, error) {
	var p Pong
	if len(b) == 0 || b[0] != kindPong {
		return p, errMalformedPing
	}
	b = b[1:]
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return p, errMalformedPing
	}
	b = b[n:]
	t, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return p, errMalformedPing
	}
	b = b[n:]
	o, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return p, errMalformedPing
	}
	p.SentAt = int64(v)
	p.Remote = tick.Instant{Tick: tick.Tick(t), Overstep: math.Float64frombits(o)}
	return p, nil
}
