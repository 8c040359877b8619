// Package timesync 负责对端时钟对齐
// 通过握手 ping 估计往返时延和抖动，驱动两条派生时间线：
// 输入时间线跑在远端时钟前面，保证 tick T 的输入按时到达；
// 插值时间线跑在远端时钟后面，保证永远有两个已到快照可插。
package timesync

import (
	"time"

	"netsync/pkg/tick"
)

// Config 同步参数
type Config struct {
	HandshakePings   int     // 握手阶段的 ping 次数，估计种子
	JitterMultiple   float64 // 目标偏移里抖动的余量倍数
	TickMargin       float64 // 目标偏移里的额外 tick 余量
	ErrorMargin      float64 // 小于该误差（tick）不做修正
	MaxErrorMargin   float64 // 超过该误差（tick）直接硬同步
	SpeedupFactor    float64 // 渐进修正的最大速度偏移，如 0.05
	InterpDelayTicks float64 // 插值时间线的额外落后量
}

// DefaultConfig 返回缺省同步参数
func DefaultConfig() Config {
	return Config{
		HandshakePings:   8,
		JitterMultiple:   3,
		TickMargin:       1,
		ErrorMargin:      0.5,
		MaxErrorMargin:   8,
		SpeedupFactor:    0.05,
		InterpDelayTicks: 2,
	}
}

// EventKind 同步事件种类
type EventKind int

const (
	// EventNudge 渐进修正：微调时间线播放速度
	EventNudge EventKind = iota
	// EventSnap 硬同步：误差过大，直接跳变
	EventSnap
)

// Event 每次修正都会发出一个同步事件
type Event struct {
	Kind     EventKind
	Timeline string  // "input" 或 "interp"
	Error    float64 // 修正前的误差（tick）
}

// Manager 单个对端的时钟同步状态
type Manager struct {
	cfg Config

	input  *tick.Timeline
	interp *tick.Timeline

	rttTicks    float64 // EWMA
	jitterTicks float64 // EWMA
	samples     int

	remote     tick.Instant // 最近一次收到的远端时间点
	remoteAt   time.Time    // 收到的本地时刻
	hasRemote  bool
	everSynced bool
}

// NewManager 创建同步管理器，内部持有输入/插值两条时间线
func NewManager(cfg Config, tickDuration time.Duration) *Manager {
	return &Manager{
		cfg:    cfg,
		input:  tick.NewTimeline(tickDuration),
		interp: tick.NewTimeline(tickDuration),
	}
}

// InputTimeline 返回输入时间线（偏移在前）
func (m *Manager) InputTimeline() *tick.Timeline { return m.input }

// InterpTimeline 返回插值时间线（偏移在后）
func (m *Manager) InterpTimeline() *tick.Timeline { return m.interp }

// OnPong 收到一次 pong：rtt 为本次实测往返时延，remoteNow 为对端发出时的时间点
func (m *Manager) OnPong(rtt time.Duration, remoteNow tick.Instant, now time.Time) {
	sample := float64(rtt) / float64(m.input.TickDuration())

	if m.samples == 0 {
		m.rttTicks = sample
	} else {
		// 指数滑动平均，新样本权重 0.1
		m.rttTicks = m.rttTicks*0.9 + sample*0.1
		deviation := sample - m.rttTicks
		if deviation < 0 {
			deviation = -deviation
		}
		m.jitterTicks = m.jitterTicks*0.9 + deviation*0.1
	}
	m.samples++

	m.remote = remoteNow
	m.remoteAt = now
	m.hasRemote = true
}

// Ready 握手 ping 是否已够数
func (m *Manager) Ready() bool {
	return m.samples >= m.cfg.HandshakePings
}

// RTT 当前往返时延估计
func (m *Manager) RTT() time.Duration {
	return time.Duration(m.rttTicks * float64(m.input.TickDuration()))
}

// remoteEstimate 把最近收到的远端时间点外推到当前时刻
func (m *Manager) remoteEstimate(now time.Time) tick.Instant {
	elapsed := float64(now.Sub(m.remoteAt)) / float64(m.input.TickDuration())
	// 单程时延：远端打戳时数据已在路上飞了半个 RTT
	return m.remote.AddTicks(elapsed + m.rttTicks/2)
}

// Update 每 tick 调用：推进两条时间线并向目标偏移收敛
func (m *Manager) Update(dt time.Duration, now time.Time) []Event {
	m.input.Advance(dt)
	m.interp.Advance(dt)

	if !m.Ready() || !m.hasRemote {
		return nil
	}

	remote := m.remoteEstimate(now)
	margin := m.jitterTicks*m.cfg.JitterMultiple + m.cfg.TickMargin

	var events []Event

	// 输入时间线目标：远端时钟 + 半程时延 + 余量
	inputTarget := remote.AddTicks(m.rttTicks/2 + margin)
	if ev, ok := m.steer(m.input, "input", inputTarget); ok {
		events = append(events, ev)
	}

	// 插值时间线目标：远端时钟 - 半程时延 - 余量 - 插值落后量
	interpTarget := remote.AddTicks(-(m.rttTicks/2 + margin + m.cfg.InterpDelayTicks))
	if ev, ok := m.steer(m.interp, "interp", interpTarget); ok {
		events = append(events, ev)
	}

	m.everSynced = true
	return events
}

// steer 把一条时间线向目标时间点收敛
func (m *Manager) steer(tl *tick.Timeline, name string, target tick.Instant) (Event, bool) {
	err := tl.Now().Sub(target)
	abs := err
	if abs < 0 {
		abs = -abs
	}

	// 首次同步或误差过大：硬同步
	if !m.everSynced || abs > m.cfg.MaxErrorMargin {
		tl.Snap(target)
		tl.SetSpeed(1)
		return Event{Kind: EventSnap, Timeline: name, Error: err}, true
	}

	if abs <= m.cfg.ErrorMargin {
		tl.SetSpeed(1)
		return Event{}, false
	}

	// 渐进修正：偏快则减速，偏慢则加速，偏移不超过 SpeedupFactor
	if err > 0 {
		tl.SetSpeed(1 - m.cfg.SpeedupFactor)
	} else {
		tl.SetSpeed(1 + m.cfg.SpeedupFactor)
	}
	return Event{Kind: EventNudge, Timeline: name, Error: err}, true
}
