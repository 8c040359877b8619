package replication

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"netsync/pkg/tick"
	"netsync/pkg/world"
)

// SenderConfig 发送端配置
type SenderConfig struct {
	// BytesPerSecond 对单个对端的出站字节预算，0 表示不限
	BytesPerSecond int
	// Burst 预算的突发上限
	Burst int
}

// group 复制组：同组实体的结构性变更在一条消息里原子下发
type group struct {
	id       GroupID
	priority int
	entities map[world.EntityID]struct{}
}

// compState 某对端视角下一个 (实体, 组件) 的确认状态
type compState struct {
	changeTick tick.Tick // 最近一次变更的 tick
	dirty      bool      // 变更尚未被确认覆盖
	ackTick    tick.Tick // 对端最近确认的 tick
	acked      bool
	ackBase    any                    // 对端在 ackTick 时刻持有的值，差分基准
	inflight   map[tick.Tick]any      // 各 tick 已发送的值，确认后裁剪
}

type compKey struct {
	entity world.EntityID
	comp   world.ComponentID
}

// peerState 单个对端的发送状态
type peerState struct {
	visible        map[world.EntityID]struct{}
	pendingActions []pendingAction
	comps          map[compKey]*compState
	limiter        *rate.Limiter
}

type pendingAction struct {
	group  GroupID
	action EntityAction
}

// Sender 复制引擎的发送侧
// 跟踪每个对端的可见性与确认状态，把世界变更按组、按优先级打包下发。
type Sender struct {
	reg   *world.Registry
	src   world.World
	cfg   SenderConfig
	local tick.Tick

	groups  map[GroupID]*group
	groupOf map[world.EntityID]GroupID
	hashes  map[world.EntityID]uint64 // 预生成匹配哈希
	peers   map[PeerID]*peerState
}

// NewSender 创建发送端
func NewSender(reg *world.Registry, src world.World, cfg SenderConfig) *Sender {
	return &Sender{
		reg:     reg,
		src:     src,
		cfg:     cfg,
		groups:  make(map[GroupID]*group),
		groupOf: make(map[world.EntityID]GroupID),
		hashes:  make(map[world.EntityID]uint64),
		peers:   make(map[PeerID]*peerState),
	}
}

// AddGroup 登记复制组
func (s *Sender) AddGroup(id GroupID, priority int) {
	if _, exists := s.groups[id]; exists {
		return
	}
	s.groups[id] = &group{
		id:       id,
		priority: priority,
		entities: make(map[world.EntityID]struct{}),
	}
}

// AddPeer 登记对端
func (s *Sender) AddPeer(peer PeerID) {
	if _, exists := s.peers[peer]; exists {
		return
	}
	ps := &peerState{
		visible: make(map[world.EntityID]struct{}),
		comps:   make(map[compKey]*compState),
	}
	if s.cfg.BytesPerSecond > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = s.cfg.BytesPerSecond
		}
		ps.limiter = rate.NewLimiter(rate.Limit(s.cfg.BytesPerSecond), burst)
	}
	s.peers[peer] = ps
}

// RemovePeer 对端断开：立即废弃其全部发送状态
func (s *Sender) RemovePeer(peer PeerID) {
	delete(s.peers, peer)
}

// AddEntity 把实体纳入复制，归入指定组
// hash 非零时作为预生成匹配哈希随 spawn 消息下发。
func (s *Sender) AddEntity(entity world.EntityID, groupID GroupID, hash uint64) {
	g, ok := s.groups[groupID]
	if !ok {
		s.AddGroup(groupID, 0)
		g = s.groups[groupID]
	}
	g.entities[entity] = struct{}{}
	s.groupOf[entity] = groupID
	if hash != 0 {
		s.hashes[entity] = hash
	}
}

// DespawnEntity 实体真正销毁：给所有看得见它的对端排队 despawn
func (s *Sender) DespawnEntity(entity world.EntityID) {
	groupID, ok := s.groupOf[entity]
	if !ok {
		return
	}

	for _, ps := range s.peers {
		if _, sees := ps.visible[entity]; !sees {
			continue
		}
		delete(ps.visible, entity)
		ps.pendingActions = append(ps.pendingActions, pendingAction{
			group:  groupID,
			action: EntityAction{Kind: ActionDespawn, Entity: entity},
		})
		ps.dropEntity(entity)
	}

	if g, ok := s.groups[groupID]; ok {
		delete(g.entities, entity)
	}
	delete(s.groupOf, entity)
	delete(s.hashes, entity)
}

// SetVisibility 切换某对端对某实体的可见性
// 获得可见性会向该对端（且仅该对端）合成一条 spawn；
// 失去可见性会向该对端合成一条 despawn，实体本身不受影响。
func (s *Sender) SetVisibility(peer PeerID, entity world.EntityID, visible bool) {
	ps, ok := s.peers[peer]
	if !ok {
		return
	}
	groupID, ok := s.groupOf[entity]
	if !ok {
		return
	}

	_, sees := ps.visible[entity]
	switch {
	case visible && !sees:
		ps.visible[entity] = struct{}{}
		ps.pendingActions = append(ps.pendingActions, pendingAction{
			group: groupID,
			action: EntityAction{
				Kind:       ActionSpawn,
				Entity:     entity,
				Components: s.snapshotComponents(entity),
				Hash:       s.hashes[entity],
			},
		})
		// 新可见的对端从零开始：全部组件都视为未确认
		for _, comp := range s.src.Components(entity) {
			ps.compState(entity, comp).markChanged(s.local)
		}

	case !visible && sees:
		delete(ps.visible, entity)
		ps.pendingActions = append(ps.pendingActions, pendingAction{
			group:  groupID,
			action: EntityAction{Kind: ActionDespawn, Entity: entity},
		})
		ps.dropEntity(entity)
	}
}

// MarkInserted 组件插入：通知所有看得见的对端
func (s *Sender) MarkInserted(entity world.EntityID, comp world.ComponentID) {
	groupID, ok := s.groupOf[entity]
	if !ok {
		return
	}
	data, err := s.serialize(entity, comp)
	if err != nil {
		return
	}
	for _, ps := range s.peers {
		if _, sees := ps.visible[entity]; !sees {
			continue
		}
		ps.pendingActions = append(ps.pendingActions, pendingAction{
			group: groupID,
			action: EntityAction{
				Kind:       ActionInsert,
				Entity:     entity,
				Components: []ComponentValue{{ID: comp, Data: data}},
			},
		})
		ps.compState(entity, comp).markChanged(s.local)
	}
}

// MarkRemoved 组件移除：通知所有看得见的对端
func (s *Sender) MarkRemoved(entity world.EntityID, comp world.ComponentID) {
	groupID, ok := s.groupOf[entity]
	if !ok {
		return
	}
	for _, ps := range s.peers {
		if _, sees := ps.visible[entity]; !sees {
			continue
		}
		ps.pendingActions = append(ps.pendingActions, pendingAction{
			group: groupID,
			action: EntityAction{
				Kind:    ActionRemove,
				Entity:  entity,
				Removed: []world.ComponentID{comp},
			},
		})
		delete(ps.comps, compKey{entity: entity, comp: comp})
	}
}

// MarkChanged 组件值变更：进入"重发直到确认"状态
func (s *Sender) MarkChanged(entity world.EntityID, comp world.ComponentID) {
	if _, ok := s.groupOf[entity]; !ok {
		return
	}
	for _, ps := range s.peers {
		if _, sees := ps.visible[entity]; !sees {
			continue
		}
		ps.compState(entity, comp).markChanged(s.local)
	}
}

// Advance 进入新的本地 tick
func (s *Sender) Advance(t tick.Tick) {
	s.local = t
}

// CollectActions 取出发给某对端的结构性变更消息，按组打包、组间按优先级排序
func (s *Sender) CollectActions(peer PeerID) [][]byte {
	ps, ok := s.peers[peer]
	if !ok || len(ps.pendingActions) == 0 {
		return nil
	}

	byGroup := make(map[GroupID][]EntityAction)
	for _, pa := range ps.pendingActions {
		byGroup[pa.group] = append(byGroup[pa.group], pa.action)
	}
	ps.pendingActions = nil

	var out [][]byte
	for _, g := range s.groupsByPriority() {
		actions, ok := byGroup[g.id]
		if !ok {
			continue
		}
		out = append(out, Encode(Message{
			Kind:    MsgActions,
			Group:   g.id,
			Tick:    s.local,
			Actions: actions,
		}))
	}
	return out
}

// CollectUpdates 取出发给某对端的组件值更新
// 变更在确认覆盖之前每 tick 重发一次；出站预算不足时高优先级组优先。
func (s *Sender) CollectUpdates(peer PeerID, now time.Time) [][]byte {
	ps, ok := s.peers[peer]
	if !ok {
		return nil
	}

	var out [][]byte
	for _, g := range s.groupsByPriority() {
		var updates []EntityUpdate
		for entity := range g.entities {
			if _, sees := ps.visible[entity]; !sees {
				continue
			}
			comps := s.pendingComponents(ps, entity)
			if len(comps) > 0 {
				updates = append(updates, EntityUpdate{Entity: entity, Components: comps})
			}
		}
		if len(updates) == 0 {
			continue
		}
		// 实体遍历来自 map，排序保证编码确定性
		sort.Slice(updates, func(i, j int) bool { return updates[i].Entity < updates[j].Entity })

		payload := Encode(Message{
			Kind:    MsgUpdates,
			Group:   g.id,
			Tick:    s.local,
			Updates: updates,
		})

		// 预算不足时本组让路，更低优先级的组也不再尝试
		if ps.limiter != nil && !ps.limiter.AllowN(now, len(payload)) {
			break
		}
		out = append(out, payload)
	}
	return out
}

// OnAck 收到对端的更新确认，只推进回执里列出的组件
func (s *Sender) OnAck(peer PeerID, acks []EntityAck) {
	ps, ok := s.peers[peer]
	if !ok {
		return
	}
	for _, a := range acks {
		for _, comp := range a.Components {
			cs, ok := ps.comps[compKey{entity: a.Entity, comp: comp}]
			if !ok {
				continue
			}
			cs.onAck(a.Tick)
		}
	}
}

// ========== 内部 ==========

func (s *Sender) groupsByPriority() []*group {
	out := make([]*group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].id < out[j].id
	})
	return out
}

// pendingComponents 收集某实体尚未被确认覆盖的组件值
func (s *Sender) pendingComponents(ps *peerState, entity world.EntityID) []ComponentValue {
	var comps []ComponentValue
	for _, comp := range s.src.Components(entity) {
		key := compKey{entity: entity, comp: comp}
		cs, ok := ps.comps[key]
		if !ok || !cs.dirty {
			continue
		}
		// 对端确认的 tick 已覆盖该变更，抑制重发
		if cs.acked && !cs.changeTick.After(cs.ackTick) {
			cs.dirty = false
			continue
		}

		value, ok := s.src.Get(entity, comp)
		if !ok {
			continue
		}

		// 有确认基准时优先差分编码，失败退回全量。在途记录存的是
		// 对端解码后重建出的值：量化有损时双方的差分基准才保持一致。
		var cv ComponentValue
		var sent any
		if cs.acked {
			if diff, ok := s.reg.Diff(comp, cs.ackBase, value); ok {
				if next, err := s.reg.ApplyDiff(comp, cs.ackBase, diff); err == nil {
					cv = ComponentValue{ID: comp, Diff: true, BaseTick: cs.ackTick, Data: diff}
					sent = next
				}
			}
		}
		if sent == nil {
			data, err := s.reg.Serialize(comp, value)
			if err != nil {
				continue
			}
			cv = ComponentValue{ID: comp, Data: data}
			sent = value
			if next, err := s.reg.Deserialize(comp, data); err == nil {
				sent = next
			}
		}
		cs.inflight[s.local] = sent
		cs.pruneInflight(s.local)
		comps = append(comps, cv)
	}
	return comps
}

func (s *Sender) snapshotComponents(entity world.EntityID) []ComponentValue {
	var comps []ComponentValue
	for _, comp := range s.src.Components(entity) {
		data, err := s.serialize(entity, comp)
		if err != nil {
			continue
		}
		comps = append(comps, ComponentValue{ID: comp, Data: data})
	}
	return comps
}

func (s *Sender) serialize(entity world.EntityID, comp world.ComponentID) ([]byte, error) {
	value, ok := s.src.Get(entity, comp)
	if !ok {
		return nil, ErrMalformedMessage
	}
	return s.reg.Serialize(comp, value)
}

func (ps *peerState) compState(entity world.EntityID, comp world.ComponentID) *compState {
	key := compKey{entity: entity, comp: comp}
	cs, ok := ps.comps[key]
	if !ok {
		cs = &compState{inflight: make(map[tick.Tick]any)}
		ps.comps[key] = cs
	}
	return cs
}

func (ps *peerState) dropEntity(entity world.EntityID) {
	for key := range ps.comps {
		if key.entity == entity {
			delete(ps.comps, key)
		}
	}
}

func (cs *compState) markChanged(t tick.Tick) {
	cs.changeTick = t
	cs.dirty = true
}

// pruneInflight 裁剪落在对端基准保留窗口之外的在途记录
// 对端早已裁掉这些 tick 的历史，它们的回执不会再来。
func (cs *compState) pruneInflight(t tick.Tick) {
	for sent := range cs.inflight {
		if t.Diff(sent) > appliedWindow {
			delete(cs.inflight, sent)
		}
	}
}

// onAck 推进确认点，裁剪在途历史，必要时刷新差分基准
func (cs *compState) onAck(t tick.Tick) {
	if cs.acked && !t.After(cs.ackTick) {
		return
	}
	value, ok := cs.inflight[t]
	if !ok {
		return
	}
	cs.acked = true
	cs.ackTick = t
	cs.ackBase = value

	for sent := range cs.inflight {
		if !sent.After(t) {
			delete(cs.inflight, sent)
		}
	}
	if !cs.changeTick.After(t) {
		cs.dirty = false
	}
}
