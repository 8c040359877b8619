package replication

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"netsync/pkg/components"
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

type pair struct {
	reg *world.Registry
	ids components.IDs
	src *world.MemWorld
	dst *world.MemWorld
	snd *Sender
	rcv *Receiver
}

func newPair(t *testing.T, cfg SenderConfig, hooks Hooks) *pair {
	t.Helper()
	reg := world.NewRegistry()
	ids, err := components.Register(reg, components.Thresholds{PositionEpsilon: 0.01, RotationEpsilon: 0.001})
	if err != nil {
		t.Fatalf("注册组件失败: %v", err)
	}
	reg.Seal()

	p := &pair{
		reg: reg,
		ids: ids,
		src: world.NewMemWorld(),
		dst: world.NewMemWorld(),
	}
	p.snd = NewSender(reg, p.src, cfg)
	p.rcv = NewReceiver(reg, p.dst, hooks)
	return p
}

// pump 把发给某对端的全部消息应用到接收端，再把回执送回发送端
func (p *pair) pump(t *testing.T, peer PeerID, now time.Time) {
	t.Helper()
	for _, payload := range p.snd.CollectActions(peer) {
		m, err := Decode(payload)
		if err != nil {
			t.Fatalf("解码结构消息失败: %v", err)
		}
		if err := p.rcv.ApplyMessage(m); err != nil {
			t.Fatalf("应用结构消息失败: %v", err)
		}
	}
	for _, payload := range p.snd.CollectUpdates(peer, now) {
		m, err := Decode(payload)
		if err != nil {
			t.Fatalf("解码更新消息失败: %v", err)
		}
		if err := p.rcv.ApplyMessage(m); err != nil {
			t.Fatalf("应用更新消息失败: %v", err)
		}
	}
	if payload, ok := p.rcv.CollectAcks(); ok {
		m, err := Decode(payload)
		if err != nil {
			t.Fatalf("解码回执失败: %v", err)
		}
		p.snd.OnAck(peer, m.Acks)
	}
}

func TestSpawnDeliveredOnce(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{1, 2}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(10)
	p.snd.SetVisibility(1, e, true)

	actions := p.snd.CollectActions(1)
	if len(actions) != 1 {
		t.Fatalf("期望一条结构消息，得到 %d", len(actions))
	}
	m, err := Decode(actions[0])
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if len(m.Actions) != 1 || m.Actions[0].Kind != ActionSpawn {
		t.Fatalf("期望 spawn，得到 %+v", m.Actions)
	}
	if err := p.rcv.ApplyMessage(m); err != nil {
		t.Fatalf("应用失败: %v", err)
	}

	local, ok := p.rcv.Entities().Local(e)
	if !ok {
		t.Fatal("实体未落地")
	}
	got, ok := p.dst.Get(local, p.ids.Position)
	if !ok {
		t.Fatal("位置组件缺失")
	}
	if got.(components.Position).V != (mgl32.Vec2{1, 2}) {
		t.Fatalf("位置不符: %v", got)
	}

	// 重复应用同一条 spawn 必须幂等
	if err := p.rcv.ApplyMessage(m); err != nil {
		t.Fatalf("重复应用失败: %v", err)
	}
	if p.rcv.Entities().Len() != 1 {
		t.Fatalf("映射数不符: %d", p.rcv.Entities().Len())
	}

	// 再收一次不应产生新消息
	if extra := p.snd.CollectActions(1); len(extra) != 0 {
		t.Fatalf("不应有多余结构消息: %d", len(extra))
	}
}

func TestVisibilityLossDespawnsOnlyThatPeer(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.AddPeer(2)
	p.snd.SetVisibility(1, e, true)
	p.snd.SetVisibility(2, e, true)
	p.snd.CollectActions(1)
	p.snd.CollectActions(2)

	// 仅对 1 号对端失去可见性
	p.snd.SetVisibility(1, e, false)

	m1 := p.snd.CollectActions(1)
	if len(m1) != 1 {
		t.Fatalf("1 号应收到一条消息，得到 %d", len(m1))
	}
	d, _ := Decode(m1[0])
	if len(d.Actions) != 1 || d.Actions[0].Kind != ActionDespawn {
		t.Fatalf("1 号应收到 despawn，得到 %+v", d.Actions)
	}
	if len(p.snd.CollectActions(2)) != 0 {
		t.Fatal("2 号不应收到任何消息")
	}
	if !p.src.Exists(e) {
		t.Fatal("源实体不应被销毁")
	}
}

func TestUpdateRetransmitUntilAck(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{3, 4}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(5)
	p.snd.SetVisibility(1, e, true)
	for _, payload := range p.snd.CollectActions(1) {
		m, _ := Decode(payload)
		if err := p.rcv.ApplyMessage(m); err != nil {
			t.Fatalf("应用失败: %v", err)
		}
	}

	// 没有回执时每 tick 都重发
	for i := 0; i < 3; i++ {
		p.snd.Advance(tick.Tick(6 + i))
		if len(p.snd.CollectUpdates(1, now)) != 1 {
			t.Fatalf("第 %d 轮缺少重发", i)
		}
	}

	// 回执覆盖变更后停发
	p.snd.Advance(9)
	p.pump(t, 1, now)
	p.snd.Advance(10)
	if got := p.snd.CollectUpdates(1, now); len(got) != 0 {
		t.Fatalf("确认后不应重发，得到 %d 条", len(got))
	}
}

func TestDiffAfterAck(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{10, 10}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(20)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	// 有确认基准后，小幅变更走差分编码
	if !p.src.Set(e, p.ids.Position, components.Position{V: mgl32.Vec2{10.5, 9.5}}) {
		t.Fatal("设置失败")
	}
	p.snd.Advance(21)
	p.snd.MarkChanged(e, p.ids.Position)

	updates := p.snd.CollectUpdates(1, now)
	if len(updates) != 1 {
		t.Fatalf("期望一条更新，得到 %d", len(updates))
	}
	m, _ := Decode(updates[0])
	c := m.Updates[0].Components[0]
	if !c.Diff {
		t.Fatal("应为差分编码")
	}
	if c.BaseTick != 20 {
		t.Fatalf("基准 tick 不符: %d", c.BaseTick)
	}
	if err := p.rcv.ApplyMessage(m); err != nil {
		t.Fatalf("应用失败: %v", err)
	}

	local, _ := p.rcv.Entities().Local(e)
	got, _ := p.dst.Get(local, p.ids.Position)
	diff := got.(components.Position).V.Sub(mgl32.Vec2{10.5, 9.5}).Len()
	if diff > 1.0/128 {
		t.Fatalf("差分还原误差过大: %v", diff)
	}
}

func TestDiffFallbackOnLargeChange(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{0, 0}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(1)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	// 超出量化范围的跳变退回全量编码
	p.src.Set(e, p.ids.Position, components.Position{V: mgl32.Vec2{5000, 5000}})
	p.snd.Advance(2)
	p.snd.MarkChanged(e, p.ids.Position)

	updates := p.snd.CollectUpdates(1, now)
	if len(updates) != 1 {
		t.Fatalf("期望一条更新，得到 %d", len(updates))
	}
	m, _ := Decode(updates[0])
	if m.Updates[0].Components[0].Diff {
		t.Fatal("大跳变应退回全量")
	}
	if err := p.rcv.ApplyMessage(m); err != nil {
		t.Fatalf("应用失败: %v", err)
	}
	local, _ := p.rcv.Entities().Local(e)
	got, _ := p.dst.Get(local, p.ids.Position)
	if got.(components.Position).V != (mgl32.Vec2{5000, 5000}) {
		t.Fatalf("全量还原不符: %v", got)
	}
}

func TestUpdateNeverInserts(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(1)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	// 接收端主动移除组件后，后续更新不得把它插回来
	local, _ := p.rcv.Entities().Local(e)
	p.dst.Remove(local, p.ids.Position)

	p.src.Set(e, p.ids.Position, components.Position{V: mgl32.Vec2{7, 7}})
	p.snd.Advance(2)
	p.snd.MarkChanged(e, p.ids.Position)
	p.pump(t, 1, now)

	if _, ok := p.dst.Get(local, p.ids.Position); ok {
		t.Fatal("更新不应创建组件")
	}
}

func TestPriorityBudget(t *testing.T) {
	// 突发预算只够一条消息，高优先级组先行，低优先级让路
	p := newPair(t, SenderConfig{BytesPerSecond: 1, Burst: 24}, Hooks{})
	now := time.Now()

	e1 := p.src.Spawn()
	p.src.Insert(e1, p.ids.Position, components.Position{})
	e2 := p.src.Spawn()
	p.src.Insert(e2, p.ids.Position, components.Position{})

	p.snd.AddGroup(1, 10)
	p.snd.AddGroup(2, 1)
	p.snd.AddEntity(e1, 1, 0)
	p.snd.AddEntity(e2, 2, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(1)
	p.snd.SetVisibility(1, e1, true)
	p.snd.SetVisibility(1, e2, true)
	p.snd.CollectActions(1)

	updates := p.snd.CollectUpdates(1, now)
	if len(updates) != 1 {
		t.Fatalf("预算内应只发一条，得到 %d", len(updates))
	}
	m, _ := Decode(updates[0])
	if m.Group != 1 {
		t.Fatalf("应优先发送高优先级组，得到组 %d", m.Group)
	}
}

func TestPrespawnMatch(t *testing.T) {
	var pre world.EntityID
	p := newPair(t, SenderConfig{}, Hooks{
		MatchPrespawn: func(hash uint64) world.EntityID {
			if hash == 42 {
				return pre
			}
			return world.NoEntity
		},
	})

	pre = p.dst.Spawn()
	p.dst.Insert(pre, p.ids.Position, components.Position{V: mgl32.Vec2{9, 9}})

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{1, 1}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 42)
	p.snd.AddPeer(1)
	p.snd.SetVisibility(1, e, true)

	for _, payload := range p.snd.CollectActions(1) {
		m, _ := Decode(payload)
		if err := p.rcv.ApplyMessage(m); err != nil {
			t.Fatalf("应用失败: %v", err)
		}
	}

	local, ok := p.rcv.Entities().Local(e)
	if !ok || local != pre {
		t.Fatalf("应合并到预生成实体 %d，得到 %d", pre, local)
	}
	// 权威值覆盖预生成值
	got, _ := p.dst.Get(pre, p.ids.Position)
	if got.(components.Position).V != (mgl32.Vec2{1, 1}) {
		t.Fatalf("合并后应取权威值: %v", got)
	}
	if len(p.dst.Entities()) != 1 {
		t.Fatalf("不应新建实体: %d", len(p.dst.Entities()))
	}
}

func TestDespawnCascadeHook(t *testing.T) {
	var despawned []world.EntityID
	p := newPair(t, SenderConfig{}, Hooks{
		OnDespawn: func(local world.EntityID) { despawned = append(despawned, local) },
	})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	local, _ := p.rcv.Entities().Local(e)
	p.src.Despawn(e)
	p.snd.DespawnEntity(e)
	p.pump(t, 1, now)

	if len(despawned) != 1 || despawned[0] != local {
		t.Fatalf("级联回调不符: %v", despawned)
	}
	if p.dst.Exists(local) {
		t.Fatal("实体应已销毁")
	}
	if p.rcv.Entities().Len() != 0 {
		t.Fatal("映射应已清空")
	}
}

func TestInsertRemoveComponent(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)
	local, _ := p.rcv.Entities().Local(e)

	p.src.Insert(e, p.ids.Velocity, components.Velocity{V: mgl32.Vec2{1, 0}})
	p.snd.MarkInserted(e, p.ids.Velocity)
	p.pump(t, 1, now)
	if _, ok := p.dst.Get(local, p.ids.Velocity); !ok {
		t.Fatal("插入未同步")
	}

	p.src.Remove(e, p.ids.Velocity)
	p.snd.MarkRemoved(e, p.ids.Velocity)
	p.pump(t, 1, now)
	if _, ok := p.dst.Get(local, p.ids.Velocity); ok {
		t.Fatal("移除未同步")
	}
}

func TestDiffBaseMatchesReceiver(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{10, 10}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(20)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	// 连续多轮差分后，双方的基准必须保持逐字节一致，
	// 否则量化误差会随轮数累积
	local, _ := p.rcv.Entities().Local(e)
	key := compKey{entity: e, comp: p.ids.Position}
	for i := 0; i < 5; i++ {
		v := mgl32.Vec2{10 + 0.3*float32(i), 10 - 0.2*float32(i)}
		p.src.Set(e, p.ids.Position, components.Position{V: v})
		p.snd.Advance(tick.Tick(21 + i))
		p.snd.MarkChanged(e, p.ids.Position)
		p.pump(t, 1, now)

		held, _ := p.dst.Get(local, p.ids.Position)
		cs := p.snd.peers[1].comps[key]
		if cs.ackBase != held {
			t.Fatalf("第 %d 轮基准漂移: 发送端 %v, 接收端 %v", i, cs.ackBase, held)
		}
	}
}

func TestInflightBoundedWithoutAcks(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(1)
	p.snd.SetVisibility(1, e, true)
	p.snd.CollectActions(1)

	// 对端始终不回执，在途记录不得超出基准保留窗口
	for i := 2; i <= 400; i++ {
		p.snd.Advance(tick.Tick(i))
		p.snd.CollectUpdates(1, now)
	}
	cs := p.snd.peers[1].comps[compKey{entity: e, comp: p.ids.Position}]
	if len(cs.inflight) > appliedWindow+1 {
		t.Fatalf("在途记录未被裁剪: %d 条", len(cs.inflight))
	}
}

func TestStaleUpdateDropped(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{1, 1}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(5)
	p.snd.SetVisibility(1, e, true)
	for _, payload := range p.snd.CollectActions(1) {
		m, _ := Decode(payload)
		if err := p.rcv.ApplyMessage(m); err != nil {
			t.Fatalf("应用失败: %v", err)
		}
	}

	// 第 5 tick 的更新晚到，第 6 tick 的先被应用
	late := p.snd.CollectUpdates(1, now)
	if len(late) != 1 {
		t.Fatalf("期望一条更新，得到 %d", len(late))
	}
	p.src.Set(e, p.ids.Position, components.Position{V: mgl32.Vec2{9, 9}})
	p.snd.Advance(6)
	for _, payload := range p.snd.CollectUpdates(1, now) {
		m, _ := Decode(payload)
		if err := p.rcv.ApplyMessage(m); err != nil {
			t.Fatalf("应用失败: %v", err)
		}
	}
	if _, ok := p.rcv.CollectAcks(); !ok {
		t.Fatal("新更新应产生回执")
	}

	m, _ := Decode(late[0])
	if err := p.rcv.ApplyMessage(m); err != nil {
		t.Fatalf("应用失败: %v", err)
	}

	local, _ := p.rcv.Entities().Local(e)
	got, _ := p.dst.Get(local, p.ids.Position)
	if got.(components.Position).V != (mgl32.Vec2{9, 9}) {
		t.Fatalf("旧值不得覆盖新值: %v", got)
	}
	if _, ok := p.rcv.CollectAcks(); ok {
		t.Fatal("被丢弃的旧更新不应产生回执")
	}
}

func TestDiffWithMissingBaseNotAcked(t *testing.T) {
	p := newPair(t, SenderConfig{}, Hooks{})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{V: mgl32.Vec2{10, 10}})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.Advance(20)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	local, _ := p.rcv.Entities().Local(e)
	before, _ := p.dst.Get(local, p.ids.Position)

	// 基准从未到达的差分无法还原，必须按跳过处理且不回执
	m := Message{Kind: MsgUpdates, Tick: 21, Updates: []EntityUpdate{
		{Entity: e, Components: []ComponentValue{
			{ID: p.ids.Position, Diff: true, BaseTick: 5, Data: []byte{0, 0}},
		}},
	}}
	if err := p.rcv.ApplyMessage(m); err != nil {
		t.Fatalf("应用失败: %v", err)
	}
	if _, ok := p.rcv.CollectAcks(); ok {
		t.Fatal("未应用的更新不应产生回执")
	}
	after, _ := p.dst.Get(local, p.ids.Position)
	if after != before {
		t.Fatalf("跳过的更新不得改动本地值: %v -> %v", before, after)
	}
}

func TestInsertRemoveHooksFire(t *testing.T) {
	var inserted []world.ComponentID
	var insertedVals []any
	var removed []world.ComponentID
	p := newPair(t, SenderConfig{}, Hooks{
		OnInsert: func(remote, local world.EntityID, comp world.ComponentID, v any) {
			inserted = append(inserted, comp)
			insertedVals = append(insertedVals, v)
		},
		OnRemove: func(remote, local world.EntityID, comp world.ComponentID) {
			removed = append(removed, comp)
		},
	})
	now := time.Now()

	e := p.src.Spawn()
	p.src.Insert(e, p.ids.Position, components.Position{})
	p.snd.AddGroup(1, 0)
	p.snd.AddEntity(e, 1, 0)
	p.snd.AddPeer(1)
	p.snd.SetVisibility(1, e, true)
	p.pump(t, 1, now)

	// spawn 自带的组件走 OnSpawn，不触发插入回调
	if len(inserted) != 0 {
		t.Fatalf("生成阶段不应触发插入回调: %v", inserted)
	}

	p.src.Insert(e, p.ids.Velocity, components.Velocity{V: mgl32.Vec2{1, 0}})
	p.snd.MarkInserted(e, p.ids.Velocity)
	p.pump(t, 1, now)
	if len(inserted) != 1 || inserted[0] != p.ids.Velocity {
		t.Fatalf("插入回调不符: %v", inserted)
	}
	if insertedVals[0].(components.Velocity).V != (mgl32.Vec2{1, 0}) {
		t.Fatalf("插入回调值不符: %v", insertedVals[0])
	}

	p.src.Remove(e, p.ids.Velocity)
	p.snd.MarkRemoved(e, p.ids.Velocity)
	p.pump(t, 1, now)
	if len(removed) != 1 || removed[0] != p.ids.Velocity {
		t.Fatalf("移除回调不符: %v", removed)
	}
}

func TestMessageCodec(t *testing.T) {
	msgs := []Message{
		{Kind: MsgActions, Group: 3, Tick: 100, Actions: []EntityAction{
			{Kind: ActionSpawn, Entity: 7, Hash: 99, Components: []ComponentValue{{ID: 1, Data: []byte{1, 2}}}},
			{Kind: ActionDespawn, Entity: 8},
			{Kind: ActionRemove, Entity: 9, Removed: []world.ComponentID{2, 3}},
		}},
		{Kind: MsgUpdates, Group: 1, Tick: 65000, Updates: []EntityUpdate{
			{Entity: 4, Components: []ComponentValue{
				{ID: 2, Diff: true, BaseTick: 64990, Data: []byte{5}},
				{ID: 3, Data: []byte{6, 7}},
			}},
		}},
		{Kind: MsgAck, Acks: []EntityAck{
			{Entity: 4, Tick: 65000, Components: []world.ComponentID{2, 3}},
			{Entity: 5, Tick: 12},
		}},
	}

	for i, want := range msgs {
		b := Encode(want)
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("第 %d 条解码失败: %v", i, err)
		}
		if got.Kind != want.Kind || got.Group != want.Group || got.Tick != want.Tick {
			t.Fatalf("第 %d 条头部不符: %+v", i, got)
		}
		if len(got.Actions) != len(want.Actions) || len(got.Updates) != len(want.Updates) || len(got.Acks) != len(want.Acks) {
			t.Fatalf("第 %d 条长度不符: %+v", i, got)
		}

		// 任意截断都不得崩溃
		for cut := 0; cut < len(b); cut++ {
			_, _ = Decode(b[:cut])
		}
	}

	ack, err := Decode(Encode(msgs[2]))
	if err != nil {
		t.Fatalf("回执解码失败: %v", err)
	}
	if len(ack.Acks[0].Components) != 2 || ack.Acks[0].Components[1] != 3 {
		t.Fatalf("回执组件列表不符: %+v", ack.Acks[0])
	}

	if _, err := Decode([]byte{200}); err == nil {
		t.Error("未知种类应报错")
	}
}
