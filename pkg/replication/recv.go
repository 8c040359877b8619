package replication

import (
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

// appliedWindow 差分基准历史的保留窗口（tick 数）
const appliedWindow = 128

// Hooks 接收端回调，全部可选
type Hooks struct {
	// MatchPrespawn 收到带哈希的 spawn 时查找本地预生成实体
	// 返回其本地 id 表示合并，返回 NoEntity 表示正常生成。
	MatchPrespawn func(hash uint64) world.EntityID
	// OnSpawn 远端实体落地后调用，hash 为随 spawn 下发的匹配哈希
	OnSpawn func(remote, local world.EntityID, hash uint64)
	// OnDespawn 远端实体销毁前调用，用于级联清理预测/插值副本
	OnDespawn func(local world.EntityID)
	// OnInsert 实体落地后新插入组件时调用，副本需要跟着扩展
	OnInsert func(remote, local world.EntityID, comp world.ComponentID, v any)
	// OnRemove 组件被远端移除后调用
	OnRemove func(remote, local world.EntityID, comp world.ComponentID)
	// OnUpdate 值更新应用后调用，供预测比对与插值投喂
	OnUpdate func(remote, local world.EntityID, comp world.ComponentID, t tick.Tick, v any)
}

// compHistory 某 (实体, 组件) 已应用值的按 tick 历史，差分解码的基准来源
type compHistory struct {
	applied map[tick.Tick]any
	latest  tick.Tick
}

// Receiver 复制引擎的接收侧
// 把线上消息投影进本地世界：结构性变更建立/拆除实体映射，
// 值更新按基准 tick 解差分，每批更新生成一条回执。
type Receiver struct {
	reg      *world.Registry
	dst      world.World
	entities *world.EntityMap
	hooks    Hooks

	history map[compKey]*compHistory
	acks    []EntityAck
}

// NewReceiver 创建接收端
func NewReceiver(reg *world.Registry, dst world.World, hooks Hooks) *Receiver {
	return &Receiver{
		reg:      reg,
		dst:      dst,
		entities: world.NewEntityMap(),
		hooks:    hooks,
		history:  make(map[compKey]*compHistory),
	}
}

// Entities 远端 id 到本地 id 的映射表
func (r *Receiver) Entities() *world.EntityMap { return r.entities }

// ApplyMessage 把一条复制消息应用到本地世界
// MsgAck 不属于接收侧，原样忽略。
func (r *Receiver) ApplyMessage(m Message) error {
	switch m.Kind {
	case MsgActions:
		for _, a := range m.Actions {
			if err := r.applyAction(a); err != nil {
				return err
			}
		}
	case MsgUpdates:
		for _, u := range m.Updates {
			r.applyUpdate(u, m.Tick)
		}
	}
	return nil
}

// CollectAcks 取出累积的更新回执，编码为一条 MsgAck
func (r *Receiver) CollectAcks() ([]byte, bool) {
	if len(r.acks) == 0 {
		return nil, false
	}
	payload := Encode(Message{Kind: MsgAck, Acks: r.acks})
	r.acks = nil
	return payload, true
}

// ========== 内部 ==========

func (r *Receiver) applyAction(a EntityAction) error {
	switch a.Kind {
	case ActionSpawn:
		// 可靠通道重传去重后仍可能重复投递 spawn，幂等处理
		if _, ok := r.entities.Local(a.Entity); ok {
			return nil
		}
		local := world.NoEntity
		if a.Hash != 0 && r.hooks.MatchPrespawn != nil {
			local = r.hooks.MatchPrespawn(a.Hash)
		}
		if local == world.NoEntity {
			local = r.dst.Spawn()
		}
		r.entities.Insert(a.Entity, local)
		for _, c := range a.Components {
			v, err := r.reg.Deserialize(c.ID, c.Data)
			if err != nil {
				return err
			}
			r.dst.Insert(local, c.ID, v)
		}
		if r.hooks.OnSpawn != nil {
			r.hooks.OnSpawn(a.Entity, local, a.Hash)
		}

	case ActionDespawn:
		local, ok := r.entities.RemoveByRemote(a.Entity)
		if !ok {
			return nil
		}
		if r.hooks.OnDespawn != nil {
			r.hooks.OnDespawn(local)
		}
		r.dst.Despawn(local)
		for key := range r.history {
			if key.entity == a.Entity {
				delete(r.history, key)
			}
		}

	case ActionInsert:
		local, ok := r.entities.Local(a.Entity)
		if !ok {
			return nil
		}
		for _, c := range a.Components {
			v, err := r.reg.Deserialize(c.ID, c.Data)
			if err != nil {
				return err
			}
			r.dst.Insert(local, c.ID, v)
			if r.hooks.OnInsert != nil {
				r.hooks.OnInsert(a.Entity, local, c.ID, v)
			}
		}

	case ActionRemove:
		local, ok := r.entities.Local(a.Entity)
		if !ok {
			return nil
		}
		for _, id := range a.Removed {
			r.dst.Remove(local, id)
			delete(r.history, compKey{entity: a.Entity, comp: id})
			if r.hooks.OnRemove != nil {
				r.hooks.OnRemove(a.Entity, local, id)
			}
		}
	}
	return nil
}

// applyUpdate 应用一个实体的值更新
// 未映射实体与未插入组件一律跳过：更新从不创建任何东西。
// 回执只列出实际应用到的组件，被跳过的留给发送端重发。
func (r *Receiver) applyUpdate(u EntityUpdate, t tick.Tick) {
	local, ok := r.entities.Local(u.Entity)
	if !ok {
		return
	}

	var applied []world.ComponentID
	for _, c := range u.Components {
		key := compKey{entity: u.Entity, comp: c.ID}
		// 不可靠通道会乱序：比已应用值更旧的更新直接丢弃
		if h, ok := r.history[key]; ok && h.latest.After(t) {
			continue
		}

		var v any
		if c.Diff {
			h, ok := r.history[key]
			if !ok {
				continue
			}
			base, ok := h.applied[c.BaseTick]
			if !ok {
				// 基准已裁剪或未到达，等发送端重发
				continue
			}
			next, err := r.reg.ApplyDiff(c.ID, base, c.Data)
			if err != nil {
				continue
			}
			v = next
		} else {
			next, err := r.reg.Deserialize(c.ID, c.Data)
			if err != nil {
				continue
			}
			v = next
		}

		if !r.dst.Set(local, c.ID, v) {
			continue
		}
		r.record(u.Entity, c.ID, t, v)
		if r.hooks.OnUpdate != nil {
			r.hooks.OnUpdate(u.Entity, local, c.ID, t, v)
		}
		applied = append(applied, c.ID)
	}

	if len(applied) > 0 {
		r.acks = append(r.acks, EntityAck{Entity: u.Entity, Tick: t, Components: applied})
	}
}

// record 登记已应用的值，供后续差分解码取基准
func (r *Receiver) record(entity world.EntityID, comp world.ComponentID, t tick.Tick, v any) {
	key := compKey{entity: entity, comp: comp}
	h, ok := r.history[key]
	if !ok {
		h = &compHistory{applied: make(map[tick.Tick]any)}
		r.history[key] = h
	}
	h.applied[t] = v
	if t.After(h.latest) {
		h.latest = t
	}
	for old := range h.applied {
		if h.latest.Diff(old) > appliedWindow {
			delete(h.applied, old)
		}
	}
}
