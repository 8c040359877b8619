// Package client 预测端装配
// 维护确认/预测/插值三个世界与它们之间的三元组映射：
// 确认世界只被复制写入；预测世界用本地输入超前推进并按权威确认回滚；
// 插值世界落后于权威 tick，在相邻快照间平滑。
package client

import (
	"errors"
	"fmt"
	"log"
	"time"

	"netsync/internal/session"
	"netsync/internal/transport"
	"netsync/pkg/channel"
	"netsync/pkg/interp"
	"netsync/pkg/netcode"
	"netsync/pkg/prediction"
	"netsync/pkg/replication"
	"netsync/pkg/tick"
	"netsync/pkg/timesync"
	"netsync/pkg/world"
)

// helloInterval 入场请求的重发间隔
const helloInterval = 200 * time.Millisecond

// State 客户端连接状态
type State uint8

const (
	// StateConnecting 等待服务端接纳
	StateConnecting State = iota
	// StateSyncing 已接纳，对时中
	StateSyncing
	// StateConnected 对时完成，复制进行中
	StateConnected
	// StateDisconnected 会话已结束
	StateDisconnected
)

// EntityPolicy 远端实体在本地的表现形式
type EntityPolicy uint8

const (
	// PolicyConfirmed 只落进确认世界，不做预测和插值
	PolicyConfirmed EntityPolicy = iota
	// PolicyInterpolated 建插值副本，落后权威平滑显示
	PolicyInterpolated
	// PolicyPredicted 建预测副本，用本地输入超前推进
	PolicyPredicted
)

// Config 客户端配置
type Config struct {
	ProtocolID uint64
	Token      string
	TPS        int
	Timesync   timesync.Config
	Prediction prediction.Config
}

// Hooks 宿主应用的回调，全部在 Update 调用线程上执行
type Hooks struct {
	// Classify 决定新复制实体的本地策略，nil 则全部按插值处理
	Classify func(remote world.EntityID, hash uint64) EntityPolicy
	// SampleInput 采样当前 tick 的本地输入：线上负载与仿真输入
	SampleInput func(t tick.Tick) (payload []byte, input any)
	// Simulate 预测世界的单 tick 推进函数
	Simulate prediction.SimulateFn
	// OnConnected 握手与对时全部完成后调用
	OnConnected func(clientID int32)
	// OnDisconnected 会话结束后调用
	OnDisconnected func(reason string)
}

// Client 预测端
type Client struct {
	cfg   Config
	hooks Hooks
	comps *world.Registry

	ep       *session.Endpoint
	tr       transport.Transport
	checksum uint64

	ts    *timesync.Manager
	state State

	confirmed    *world.MemWorld
	predicted    *world.MemWorld
	interpolated *world.MemWorld
	triad        *world.Triad

	recv   *replication.Receiver
	pred   *prediction.Engine
	interp *interp.Engine

	sess      *netcode.Session
	clientID  int32
	lastHello time.Time
	lastInput tick.Tick
	seeded    bool
}

// New 创建客户端并绑定到一条已建立的传输上
func New(cfg Config, comps *world.Registry, tr transport.Transport, hooks Hooks) (*Client, error) {
	if cfg.TPS <= 0 {
		return nil, errors.New("TPS 必须为正")
	}
	chans := channel.NewRegistry()
	if err := session.RegisterChannels(chans); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		hooks:        hooks,
		comps:        comps,
		ep:           session.NewEndpoint(chans, tr),
		tr:           tr,
		checksum:     session.Checksum(chans, comps),
		ts:           timesync.NewManager(cfg.Timesync, time.Second/time.Duration(cfg.TPS)),
		confirmed:    world.NewMemWorld(),
		predicted:    world.NewMemWorld(),
		interpolated: world.NewMemWorld(),
		triad:        world.NewTriad(),
	}
	c.recv = replication.NewReceiver(comps, c.confirmed, replication.Hooks{
		OnSpawn:   c.onSpawn,
		OnDespawn: c.onDespawn,
		OnInsert:  c.onInsert,
		OnRemove:  c.onRemove,
		OnUpdate:  c.onUpdate,
	})
	c.pred = prediction.NewEngine(comps, c.predicted, cfg.Prediction, hooks.Simulate)
	c.interp = interp.NewEngine(comps, c.interpolated)
	return c, nil
}

// State 当前连接状态
func (c *Client) State() State { return c.state }

// ClientID 服务端分配的客户端 id，接纳后有效
func (c *Client) ClientID() int32 { return c.clientID }

// Confirmed 确认世界，只读
func (c *Client) Confirmed() world.World { return c.confirmed }

// Predicted 预测世界
func (c *Client) Predicted() world.World { return c.predicted }

// Interpolated 插值世界，只读
func (c *Client) Interpolated() world.World { return c.interpolated }

// Triad 确认实体与副本的映射表
func (c *Client) Triad() *world.Triad { return c.triad }

// Entities 远端实体 id 到本地确认实体的映射表
func (c *Client) Entities() *world.EntityMap { return c.recv.Entities() }

// Prediction 预测引擎，用于渲染值读取与预生成登记
func (c *Client) Prediction() *prediction.Engine { return c.pred }

// RTT 当前往返时延估计
func (c *Client) RTT() time.Duration { return c.ts.RTT() }

// InputTick 输入时间线的当前 tick（超前于权威）
func (c *Client) InputTick() tick.Tick { return c.ts.InputTimeline().CurrentTick() }

// Update 推进一帧客户端逻辑，由宿主的主循环按真实时间驱动
func (c *Client) Update(dt time.Duration, now time.Time) {
	if c.state == StateDisconnected {
		return
	}

	// 1. 排空入站
	if c.ep.Drain() > 0 && c.sess != nil {
		c.sess.Touch(now)
	}
	if closed, ok := c.tr.(interface{ Closed() bool }); ok && closed.Closed() {
		c.disconnect("传输关闭")
		return
	}

	// 2. 会话建立
	c.handleWelcome(now)
	if c.state == StateConnecting {
		c.sendHello(now)
	}
	c.handlePings(now)
	if c.state == StateSyncing {
		// 对时探测：每帧一发，凑满握手样本后进入已连接
		c.ep.SendOn(session.ChPing, session.EncodePing(session.Ping{SentAt: now.UnixNano()}), 0)
		if c.ts.Ready() {
			c.state = StateConnected
			log.Printf("对时完成: RTT %v", c.ts.RTT())
			if c.hooks.OnConnected != nil {
				c.hooks.OnConnected(c.clientID)
			}
		}
	}

	// 3. 时间线推进与本地预测
	for _, ev := range c.ts.Update(dt, now) {
		if ev.Kind == timesync.EventSnap {
			log.Printf("时间线 %s 硬同步: 误差 %.2f tick", ev.Timeline, ev.Error)
		}
	}
	if c.state == StateConnected {
		c.stepInput()
	}

	// 4. 复制
	c.applyReplication()
	if payload, ok := c.recv.CollectAcks(); ok {
		c.ep.SendOn(session.ChAcks, payload, 0)
	}

	// 5. 回滚与插值
	if c.pred.ApplyRollback(c.InputTick()) {
		log.Printf("回滚完成: 累计 %d 次", c.pred.Rollbacks())
	}
	c.interp.Update(c.ts.InterpTimeline().Now())

	// 6. 保活与发送
	if c.sess != nil && c.sess.NeedKeepalive(now) {
		c.ep.SendOn(session.ChPing, session.EncodePing(session.Ping{SentAt: now.UnixNano()}), 0)
	}
	c.ep.Update(now, c.InputTick())
	sent, err := c.ep.Flush()
	if err != nil {
		c.disconnect(fmt.Sprintf("发送失败: %v", err))
		return
	}
	if sent && c.sess != nil {
		c.sess.Sent(now)
	}
	if c.sess != nil && c.sess.Expired(now) {
		c.disconnect("会话静默超时")
	}
}

// Close 主动断开
func (c *Client) Close() {
	c.disconnect("主动断开")
}

// ========== 会话建立 ==========

func (c *Client) sendHello(now time.Time) {
	if now.Sub(c.lastHello) < helloInterval {
		return
	}
	c.lastHello = now
	payload := netcode.EncodeHello(netcode.Hello{Token: c.cfg.Token, Checksum: c.checksum})
	c.ep.SendOn(session.ChHandshake, payload, 0)
	c.ep.Flush()
}

func (c *Client) handleWelcome(now time.Time) {
	for _, payload := range c.ep.ReadAll(session.ChHandshake) {
		if c.state != StateConnecting {
			continue
		}
		w, err := netcode.DecodeWelcome(payload)
		if err != nil {
			log.Printf("接纳回执损坏: %v", err)
			continue
		}
		if w.Checksum != c.checksum {
			// 协议不兼容，在任何复制发生前中止
			c.disconnect((&netcode.ProtocolMismatch{Local: c.checksum, Remote: w.Checksum}).Error())
			return
		}
		c.clientID = w.ClientID
		c.sess = netcode.NewSession(netcode.DefaultTimeout, now)
		c.state = StateSyncing
		log.Printf("服务端已接纳: 客户端 %d", c.clientID)
	}
}

func (c *Client) handlePings(now time.Time) {
	for _, payload := range c.ep.ReadAll(session.ChPing) {
		if pong, err := session.DecodePong(payload); err == nil {
			rtt := time.Duration(now.UnixNano() - pong.SentAt)
			if rtt < 0 {
				continue
			}
			c.ts.OnPong(rtt, pong.Remote, now)
			continue
		}
		if ping, err := session.DecodePing(payload); err == nil {
			// 服务端的保活探测，回一个应答
			pong := session.Pong{SentAt: ping.SentAt, Remote: c.ts.InputTimeline().Now()}
			c.ep.SendOn(session.ChPing, session.EncodePong(pong), 0)
		}
	}
}

// ========== 输入与预测 ==========

// stepInput 对输入时间线新跨过的每个 tick 采样输入、上送、推进预测
func (c *Client) stepInput() {
	current := c.InputTick()
	if !c.seeded {
		c.lastInput = current
		c.seeded = true
		return
	}
	steps := current.Diff(c.lastInput)
	if steps <= 0 {
		return
	}
	// 硬同步后的大步跳变不逐 tick 补演
	if steps > 8 {
		c.lastInput = current
		return
	}
	for i := 1; i <= steps; i++ {
		t := c.lastInput.Add(i)
		var payload []byte
		var input any
		if c.hooks.SampleInput != nil {
			payload, input = c.hooks.SampleInput(t)
		}
		if payload != nil {
			if err := c.ep.SendOn(session.ChInput, payload, t); err != nil {
				log.Printf("输入入队失败: %v", err)
			}
		}
		for _, expired := range c.pred.Advance(t, input) {
			// 匹配窗口过期的预生成实体，放弃投机
			c.pred.Untrack(expired)
			c.predicted.Despawn(expired)
		}
	}
	c.lastInput = current
}

// ========== 复制投影 ==========

func (c *Client) applyReplication() {
	for _, name := range []string{session.ChActions, session.ChUpdates} {
		for _, payload := range c.ep.ReadAll(name) {
			m, err := replication.Decode(payload)
			if err != nil {
				log.Printf("复制消息损坏，丢弃: %v", err)
				continue
			}
			if err := c.recv.ApplyMessage(m); err != nil {
				log.Printf("复制消息应用失败: %v", err)
			}
		}
	}
}

// onSpawn 新确认实体落地：按策略建预测或插值副本
func (c *Client) onSpawn(remote, local world.EntityID, hash uint64) {
	policy := PolicyInterpolated
	if c.hooks.Classify != nil {
		policy = c.hooks.Classify(remote, hash)
	}

	switch policy {
	case PolicyPredicted:
		pe := world.NoEntity
		if hash != 0 {
			pe = c.pred.MatchPrespawn(hash)
		}
		if pe == world.NoEntity {
			pe = c.predicted.Spawn()
		}
		c.copyComponents(local, c.predicted, pe)
		c.triad.SetPredicted(local, pe)
		c.pred.Track(pe)

	case PolicyInterpolated:
		ie := c.interpolated.Spawn()
		c.copyComponents(local, c.interpolated, ie)
		c.triad.SetInterpolated(local, ie)
		for _, comp := range c.confirmed.Components(local) {
			c.interp.SetMode(ie, comp, interp.ModeFull)
		}
	}
}

// onDespawn 确认实体销毁：级联拆除两侧副本，映射表同步清理
func (c *Client) onDespawn(local world.EntityID) {
	pe, ie := c.triad.RemoveConfirmed(local)
	if pe != world.NoEntity {
		c.pred.ConfirmDespawn(pe)
	}
	if ie != world.NoEntity {
		c.interp.Remove(ie)
		c.interpolated.Despawn(ie)
	}
}

// onInsert 实体落地后新增组件：副本跟着扩展，插值轨道同步登记
func (c *Client) onInsert(remote, local world.EntityID, comp world.ComponentID, v any) {
	if pe, ok := c.triad.Predicted(local); ok {
		c.predicted.Insert(pe, comp, v)
	}
	if ie, ok := c.triad.Interpolated(local); ok {
		c.interpolated.Insert(ie, comp, v)
		c.interp.SetMode(ie, comp, interp.ModeFull)
	}
}

// onRemove 远端移除组件：副本同步收缩
func (c *Client) onRemove(remote, local world.EntityID, comp world.ComponentID) {
	if pe, ok := c.triad.Predicted(local); ok {
		c.predicted.Remove(pe, comp)
	}
	if ie, ok := c.triad.Interpolated(local); ok {
		c.interp.RemoveComponent(ie, comp)
		c.interpolated.Remove(ie, comp)
	}
}

// onUpdate 确认值到达：预测副本走比对回滚，插值副本进快照队列
func (c *Client) onUpdate(remote, local world.EntityID, comp world.ComponentID, t tick.Tick, v any) {
	if pe, ok := c.triad.Predicted(local); ok {
		c.pred.OnConfirmed(pe, comp, t, v)
	}
	if ie, ok := c.triad.Interpolated(local); ok {
		c.interp.Push(ie, comp, t, v)
	}
}

// copyComponents 把确认实体的全部组件值拷贝到另一个世界的副本上
func (c *Client) copyComponents(confirmed world.EntityID, dst world.World, target world.EntityID) {
	for _, comp := range c.confirmed.Components(confirmed) {
		if v, ok := c.confirmed.Get(confirmed, comp); ok {
			dst.Insert(target, comp, v)
		}
	}
}

func (c *Client) disconnect(reason string) {
	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected
	c.tr.Close()
	log.Printf("连接结束: %s", reason)
	if c.hooks.OnDisconnected != nil {
		c.hooks.OnDisconnected(reason)
	}
}
