package channel

import (
	"errors"
	"time"

	"netsync/pkg/tick"
	"netsync/pkg/wire"
)

const (
	// DefaultFragmentSize 超过该大小的载荷自动分片
	DefaultFragmentSize = 1024
	// DefaultResendInterval 可靠通道的重发间隔
	DefaultResendInterval = 100 * time.Millisecond
	// DefaultFragmentTimeout 停滞分片的回收期限
	DefaultFragmentTimeout = 3 * time.Second
)

var (
	ErrUnknownChannel = errors.New("未知通道")
	ErrPayloadTooLong = errors.New("载荷超过分片数量上限")
)

// ID 通道的稳定整数标识，注册时分配
type ID uint8

// Settings 通道注册配置
type Settings struct {
	Name            string
	Mode            Mode
	Priority        int           // 出站预算不足时，优先级高的通道先被打包
	ResendInterval  time.Duration // 仅可靠模式
	FragmentSize    int
	FragmentTimeout time.Duration
}

// withDefaults 填充零值配置
func (s Settings) withDefaults() Settings {
	if s.ResendInterval <= 0 {
		s.ResendInterval = DefaultResendInterval
	}
	if s.FragmentSize <= 0 {
		s.FragmentSize = DefaultFragmentSize
	}
	if s.FragmentTimeout <= 0 {
		s.FragmentTimeout = DefaultFragmentTimeout
	}
	return s
}

// Channel 一条具备特定可靠性/顺序契约的逻辑流
// 核心契约：BufferSend 入队 → Update 驱动重发与回收 → CollectOutgoing 取出
// 待发线格式消息；BufferRecv 收纳到达消息 → ReadMessage 按模式裁决后读出。
type Channel struct {
	id       ID
	settings Settings

	nextID   MessageID
	sender   sender
	receiver receiver

	frag        *fragmentTable
	pendingAcks [][]byte

	fragmentDrops int
}

func newChannel(id ID, s Settings) *Channel {
	c := &Channel{
		id:       id,
		settings: s,
		frag:     newFragmentTable(s.FragmentTimeout),
	}

	if s.Mode.Reliable() {
		c.sender = newReliableSender(s.ResendInterval)
	} else {
		c.sender = &unreliableSender{}
	}

	switch s.Mode {
	case UnorderedUnreliable:
		c.receiver = newUnorderedReceiver(false)
	case UnorderedReliable:
		c.receiver = newUnorderedReceiver(true)
	case SequencedUnreliable, SequencedReliable:
		c.receiver = &sequencedReceiver{}
	case OrderedReliable:
		c.receiver = newOrderedReceiver()
	case TickBuffered:
		c.receiver = &tickBufferedReceiver{}
	}

	return c
}

// ID 返回通道 id
func (c *Channel) ID() ID { return c.id }

// Mode 返回通道模式
func (c *Channel) Mode() Mode { return c.settings.Mode }

// Name 返回通道名
func (c *Channel) Name() string { return c.settings.Name }

// Priority 返回通道优先级
func (c *Channel) Priority() int { return c.settings.Priority }

// BufferSend 把载荷排入发送队列，返回分配的消息序号
// TickBuffered 模式的消息必须在单个分片内放得下。
func (c *Channel) BufferSend(payload []byte, t tick.Tick) (MessageID, error) {
	id := c.nextID
	c.nextID++

	var msgs []wire.Message
	if len(payload) > c.settings.FragmentSize {
		if c.settings.Mode == TickBuffered {
			return 0, ErrPayloadTooLong
		}
		total := (len(payload) + c.settings.FragmentSize - 1) / c.settings.FragmentSize
		if total > 0xffff {
			return 0, ErrPayloadTooLong
		}
		msgs = splitFragments(id, payload, c.settings.FragmentSize)
	} else {
		msgs = []wire.Message{{
			Kind:    wire.KindSingle,
			ID:      uint16(id),
			Tick:    t,
			Payload: payload,
		}}
	}

	c.sender.bufferSend(id, msgs, time.Now())
	return id, nil
}

// Update 每 tick 调用一次：驱动重发定时器、回收停滞分片、推进接收端 tick
func (c *Channel) Update(now time.Time, current tick.Tick) {
	c.sender.update(now)
	c.receiver.setCurrentTick(current)
	c.fragmentDrops += c.frag.gc(now)
}

// CollectOutgoing 取出全部待发线格式消息（含确认）
func (c *Channel) CollectOutgoing() [][]byte {
	out := c.sender.collectOutgoing()
	if len(c.pendingAcks) > 0 {
		out = append(out, c.pendingAcks...)
		c.pendingAcks = nil
	}
	return out
}

// BufferRecv 收纳一条到达的线格式消息
func (c *Channel) BufferRecv(m wire.Message) error {
	switch m.Kind {
	case wire.KindAck:
		c.sender.ack(MessageID(m.ID), m.FragIndex)
		return nil

	case wire.KindSingle:
		if c.settings.Mode.Reliable() {
			c.queueAck(m.ID, wire.WholeMessage)
		}
		c.receiver.bufferRecv(delivered{
			id:      MessageID(m.ID),
			tick:    m.Tick,
			payload: m.Payload,
		})
		return nil

	case wire.KindFragment:
		if c.settings.Mode.Reliable() {
			c.queueAck(m.ID, m.FragIndex)
		}
		payload, complete := c.frag.add(m, time.Now())
		if complete {
			c.receiver.bufferRecv(delivered{
				id:      MessageID(m.ID),
				payload: payload,
			})
		}
		return nil

	default:
		return wire.ErrMalformed
	}
}

func (c *Channel) queueAck(id uint16, fragIndex uint16) {
	ack := wire.Message{Kind: wire.KindAck, ID: id, FragIndex: fragIndex}
	c.pendingAcks = append(c.pendingAcks, wire.AppendMessage(nil, ack))
}

// ReadMessage 按通道模式裁决后读出下一条应用层载荷
func (c *Channel) ReadMessage() ([]byte, bool) {
	return c.receiver.readMessage()
}

// FragmentDrops 分片超时丢弃的累计条数（非致命错误，仅供诊断）
func (c *Channel) FragmentDrops() int {
	return c.fragmentDrops
}

// PendingReliable 未确认的可靠消息条数（诊断用）
func (c *Channel) PendingReliable() int {
	if rs, ok := c.sender.(*reliableSender); ok {
		return rs.pendingCount()
	}
	return 0
}
