// Package session 服务端与客户端共用的会话装配
// 约定标准通道集、协议校验和与握手/对时的通道收发封装。
package session

import (
	"fmt"
	"log"
	"time"

	"github.com/zeebo/xxh3"

	"netsync/internal/transport"
	"netsync/pkg/channel"
	"netsync/pkg/tick"
	"netsync/pkg/wire"
	"netsync/pkg/world"
)

// 标准通道名
const (
	ChHandshake = "handshake" // 入场请求与回执，客户端重发直到被接纳
	ChPing      = "ping"      // 对时探测
	ChActions   = "actions"   // 结构性复制，按组有序可靠
	ChUpdates   = "updates"   // 值更新，不可靠、靠确认抑制重发
	ChAcks      = "acks"      // 更新回执
	ChInput     = "input"     // 客户端输入，按 tick 缓冲
)

// RegisterChannels 注册标准通道集
// 双方以完全相同的顺序注册，否则协议校验和不会一致。
func RegisterChannels(reg *channel.Registry) error {
	channels := []channel.Settings{
		{Name: ChHandshake, Mode: channel.UnorderedUnreliable, Priority: 100},
		{Name: ChPing, Mode: channel.UnorderedUnreliable, Priority: 90},
		{Name: ChActions, Mode: channel.OrderedReliable, Priority: 50},
		{Name: ChUpdates, Mode: channel.UnorderedUnreliable, Priority: 10},
		{Name: ChAcks, Mode: channel.UnorderedUnreliable, Priority: 20},
		{Name: ChInput, Mode: channel.TickBuffered, Priority: 60},
	}
	for _, s := range channels {
		if _, err := reg.Register(s); err != nil {
			return fmt.Errorf("注册通道 %s 失败: %w", s.Name, err)
		}
	}
	return nil
}

// Checksum 组合协议校验和：通道集与组件集各自的校验和再混合
// 任何一侧不一致都视为协议不兼容。
func Checksum(chans *channel.Registry, comps *world.Registry) uint64 {
	var b [16]byte
	sum := chans.Checksum()
	for i := 0; i < 8; i++ {
		b[i] = byte(sum >> (8 * i))
	}
	sum = comps.Checksum()
	for i := 0; i < 8; i++ {
		b[8+i] = byte(sum >> (8 * i))
	}
	return xxh3.Hash(b[:])
}

// Endpoint 把一个通道注册表绑定到一条传输上
// Drain 在每 tick 开头把传输里的字节拆包进通道，
// Flush 在每 tick 结尾把通道待发消息拼包发出。
type Endpoint struct {
	Chans *channel.Registry
	Tr    transport.Transport
	mtu   int
}

// NewEndpoint 创建会话端点
func NewEndpoint(chans *channel.Registry, tr transport.Transport) *Endpoint {
	return &Endpoint{Chans: chans, Tr: tr, mtu: wire.DefaultMTU}
}

// Drain 排空传输入站队列，把每条记录路由到对应通道
// 单条损坏的消息只记录日志并丢弃，连接照常运转。返回排空的包数。
func (e *Endpoint) Drain() int {
	drained := 0
	for {
		buf, src, ok := e.Tr.Receive()
		if !ok {
			return drained
		}
		drained++
		reader := wire.NewPacketReader(buf)
		for {
			channelID, msg, ok, err := reader.Next()
			if err != nil {
				log.Printf("对端 %s: 数据包损坏，丢弃剩余部分: %v", src, err)
				break
			}
			if !ok {
				break
			}
			c, found := e.Chans.Get(channel.ID(channelID))
			if !found {
				log.Printf("对端 %s: 未知通道 %d，丢弃消息", src, channelID)
				continue
			}
			m, err := wire.DecodeMessage(msg)
			if err != nil {
				log.Printf("对端 %s: 消息损坏，丢弃: %v", src, err)
				continue
			}
			if err := c.BufferRecv(m); err != nil {
				log.Printf("对端 %s: 通道 %s 拒收消息: %v", src, c.Name(), err)
			}
		}
	}
}

// Flush 收集全部通道的待发消息，按优先级从高到低、按 MTU 拼包后发出
// 返回是否真的发出过数据包。
func (e *Endpoint) Flush() (bool, error) {
	builder := wire.NewPacketBuilder(e.mtu)
	sent := false

	flush := func() error {
		if builder.Empty() {
			return nil
		}
		if err := e.Tr.Send(builder.Bytes(), ""); err != nil {
			return err
		}
		sent = true
		return nil
	}

	var sendErr error
	e.Chans.EachByPriority(func(c *channel.Channel) {
		if sendErr != nil {
			return
		}
		for _, msg := range c.CollectOutgoing() {
			if !builder.Fits(msg) {
				if sendErr = flush(); sendErr != nil {
					return
				}
			}
			if !builder.Append(uint8(c.ID()), msg) {
				log.Printf("通道 %s: 消息超过 MTU，丢弃 %d 字节", c.Name(), len(msg))
			}
		}
	})
	if sendErr != nil {
		return sent, sendErr
	}
	return sent, flush()
}

// SendOn 把一条负载送进指定通道的发送缓冲
func (e *Endpoint) SendOn(name string, payload []byte, t tick.Tick) error {
	c, ok := e.Chans.ByName(name)
	if !ok {
		return channel.ErrUnknownChannel
	}
	_, err := c.BufferSend(payload, t)
	return err
}

// ReadAll 排空指定通道的全部已投递消息
func (e *Endpoint) ReadAll(name string) [][]byte {
	c, ok := e.Chans.ByName(name)
	if !ok {
		return nil
	}
	var out [][]byte
	for {
		payload, ok := c.ReadMessage()
		if !ok {
			return out
		}
		out = append(out, payload)
	}
}

// Update 推进全部通道的定时逻辑
func (e *Endpoint) Update(now time.Time, current tick.Tick) {
	e.Chans.UpdateAll(now, current)
}
