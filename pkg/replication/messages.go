// Package replication 把世界变更投影成线上消息，再把线上消息投影回世界
// 结构性变更（spawn/despawn/insert/remove）走按组有序的可靠通道；
// 组件值更新走独立的不可靠通道，按"距上次确认"策略重发与抑制。
package replication

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"netsync/pkg/tick"
	"netsync/pkg/world"
)

var ErrMalformedMessage = errors.New("复制消息损坏")

// GroupID 复制组标识
// 同组实体在一条消息里原子复制、一起排序：组才是线上排序的单位。
type GroupID uint16

// PeerID 对端标识
type PeerID int32

// MsgKind 复制消息种类
type MsgKind uint8

const (
	// MsgActions 结构性变更（按组打包）
	MsgActions MsgKind = iota
	// MsgUpdates 组件值更新
	MsgUpdates
	// MsgAck 更新确认（接收方回执）
	MsgAck
)

// ActionKind 结构性变更种类
type ActionKind uint8

const (
	ActionSpawn ActionKind = iota
	ActionDespawn
	ActionInsert
	ActionRemove
)

// ComponentValue 一个组件的编码值
type ComponentValue struct {
	ID       world.ComponentID
	Diff     bool      // true 表示 Data 是相对确认基准的差分
	BaseTick tick.Tick // 仅 Diff，差分基准对应的 tick
	Data     []byte
}

// EntityAction 一条结构性变更
type EntityAction struct {
	Kind       ActionKind
	Entity     world.EntityID // 发送方实体 id，对接收方而言是远端 id
	Components []ComponentValue
	Removed    []world.ComponentID // 仅 ActionRemove
	Hash       uint64              // 仅 ActionSpawn，预生成匹配哈希，0 表示无
}

// EntityUpdate 一个实体的组件值更新
type EntityUpdate struct {
	Entity     world.EntityID
	Components []ComponentValue
}

// EntityAck 接收方确认某实体在某 tick 实际应用到的组件
// 被跳过的组件（基准缺失、解码失败）不出现在列表里，发送端继续重发。
type EntityAck struct {
	Entity     world.EntityID
	Tick       tick.Tick
	Components []world.ComponentID
}

// Message 复制消息的封闭标签联合
type Message struct {
	Kind    MsgKind
	Group   GroupID
	Tick    tick.Tick
	Actions []EntityAction // MsgActions
	Updates []EntityUpdate // MsgUpdates
	Acks    []EntityAck    // MsgAck
}

// ========== 编码 ==========

// Encode 编码复制消息
func Encode(m Message) []byte {
	b := protowire.AppendVarint(nil, uint64(m.Kind))
	b = protowire.AppendVarint(b, uint64(m.Group))
	b = protowire.AppendVarint(b, uint64(m.Tick))

	switch m.Kind {
	case MsgActions:
		b = protowire.AppendVarint(b, uint64(len(m.Actions)))
		for _, a := range m.Actions {
			b = protowire.AppendVarint(b, uint64(a.Kind))
			b = protowire.AppendVarint(b, uint64(a.Entity))
			if a.Kind == ActionSpawn {
				b = protowire.AppendVarint(b, a.Hash)
			}
			if a.Kind == ActionRemove {
				b = protowire.AppendVarint(b, uint64(len(a.Removed)))
				for _, id := range a.Removed {
					b = protowire.AppendVarint(b, uint64(id))
				}
			} else {
				b = appendComponents(b, a.Components)
			}
		}

	case MsgUpdates:
		b = protowire.AppendVarint(b, uint64(len(m.Updates)))
		for _, u := range m.Updates {
			b = protowire.AppendVarint(b, uint64(u.Entity))
			b = appendComponents(b, u.Components)
		}

	case MsgAck:
		b = protowire.AppendVarint(b, uint64(len(m.Acks)))
		for _, a := range m.Acks {
			b = protowire.AppendVarint(b, uint64(a.Entity))
			b = protowire.AppendVarint(b, uint64(a.Tick))
			b = protowire.AppendVarint(b, uint64(len(a.Components)))
			for _, id := range a.Components {
				b = protowire.AppendVarint(b, uint64(id))
			}
		}
	}

	return b
}

func appendComponents(b []byte, comps []ComponentValue) []byte {
	b = protowire.AppendVarint(b, uint64(len(comps)))
	for _, c := range comps {
		flag := uint64(c.ID) << 1
		if c.Diff {
			flag |= 1
		}
		b = protowire.AppendVarint(b, flag)
		if c.Diff {
			b = protowire.AppendVarint(b, uint64(c.BaseTick))
		}
		b = protowire.AppendBytes(b, c.Data)
	}
	return b
}

// ========== 解码 ==========

type decoder struct {
	b []byte
}

func (d *decoder) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		return 0, ErrMalformedMessage
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		return nil, ErrMalformedMessage
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) components() ([]ComponentValue, error) {
	count, err := d.varint()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(d.b)) {
		return nil, ErrMalformedMessage
	}
	comps := make([]ComponentValue, 0, count)
	for i := uint64(0); i < count; i++ {
		flag, err := d.varint()
		if err != nil {
			return nil, err
		}
		c := ComponentValue{
			ID:   world.ComponentID(flag >> 1),
			Diff: flag&1 == 1,
		}
		if c.Diff {
			base, err := d.varint()
			if err != nil {
				return nil, err
			}
			c.BaseTick = tick.Tick(base)
		}
		if c.Data, err = d.bytes(); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// Decode 解码复制消息
func Decode(b []byte) (Message, error) {
	d := &decoder{b: b}
	var m Message

	kind, err := d.varint()
	if err != nil {
		return m, err
	}
	group, err := d.varint()
	if err != nil {
		return m, err
	}
	t, err := d.varint()
	if err != nil {
		return m, err
	}
	m.Kind = MsgKind(kind)
	m.Group = GroupID(group)
	m.Tick = tick.Tick(t)

	switch m.Kind {
	case MsgActions:
		count, err := d.varint()
		if err != nil {
			return m, err
		}
		if count > uint64(len(d.b))+1 {
			return m, ErrMalformedMessage
		}
		for i := uint64(0); i < count; i++ {
			var a EntityAction
			k, err := d.varint()
			if err != nil {
				return m, err
			}
			e, err := d.varint()
			if err != nil {
				return m, err
			}
			a.Kind = ActionKind(k)
			a.Entity = world.EntityID(e)

			if a.Kind == ActionSpawn {
				if a.Hash, err = d.varint(); err != nil {
					return m, err
				}
			}
			if a.Kind == ActionRemove {
				n, err := d.varint()
				if err != nil {
					return m, err
				}
				if n > uint64(len(d.b))+1 {
					return m, ErrMalformedMessage
				}
				for j := uint64(0); j < n; j++ {
					id, err := d.varint()
					if err != nil {
						return m, err
					}
					a.Removed = append(a.Removed, world.ComponentID(id))
				}
			} else {
				if a.Components, err = d.components(); err != nil {
					return m, err
				}
			}
			m.Actions = append(m.Actions, a)
		}

	case MsgUpdates:
		count, err := d.varint()
		if err != nil {
			return m, err
		}
		if count > uint64(len(d.b))+1 {
			return m, ErrMalformedMessage
		}
		for i := uint64(0); i < count; i++ {
			var u EntityUpdate
			e, err := d.varint()
			if err != nil {
				return m, err
			}
			u.Entity = world.EntityID(e)
			if u.Components, err = d.components(); err != nil {
				return m, err
			}
			m.Updates = append(m.Updates, u)
		}

	case MsgAck:
		count, err := d.varint()
		if err != nil {
			return m, err
		}
		if count > uint64(len(d.b))+1 {
			return m, ErrMalformedMessage
		}
		for i := uint64(0); i < count; i++ {
			e, err := d.varint()
			if err != nil {
				return m, err
			}
			t, err := d.varint()
			if err != nil {
				return m, err
			}
			a := EntityAck{Entity: world.EntityID(e), Tick: tick.Tick(t)}
			n, err := d.varint()
			if err != nil {
				return m, err
			}
			if n > uint64(len(d.b))+1 {
				return m, ErrMalformedMessage
			}
			for j := uint64(0); j < n; j++ {
				id, err := d.varint()
				if err != nil {
					return m, err
				}
				a.Components = append(a.Components, world.ComponentID(id))
			}
			m.Acks = append(m.Acks, a)
		}

	default:
		return m, fmt.Errorf("%w: 未知种类 %d", ErrMalformedMessage, kind)
	}

	return m, nil
}
