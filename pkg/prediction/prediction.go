// Package prediction 客户端预测与回滚
// 每 tick 用本地输入推进预测世界并快照历史；收到权威确认后
// 与同 tick 的预测值比对，偏差超过阈值则回滚到确认点并确定性重演。
package prediction

import (
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

// Config 预测引擎配置
type Config struct {
	// CorrectionTicks 回滚纠偏的平滑 tick 数，0 表示立即贴齐
	CorrectionTicks int
	// MatchWindow 预生成实体等待服务器确认的 tick 窗口
	MatchWindow int
	// DespawnGrace 预测销毁的宽限 tick 数，超时未确认则恢复实体
	DespawnGrace int
	// AlwaysRollback 收到确认一律回滚，不做阈值比较
	AlwaysRollback bool
}

// RollbackKind 回滚状态种类
type RollbackKind uint8

const (
	// RollbackNone 无待处理回滚
	RollbackNone RollbackKind = iota
	// RollbackPending 已判定偏差，等待执行回滚
	RollbackPending
)

// RollbackState 全局回滚状态
type RollbackState struct {
	Kind RollbackKind
	From tick.Tick // 仅 RollbackPending，回滚起点（确认 tick）
}

// SimulateFn 单 tick 确定性推进函数
// 相同输入作用于相同起始状态必须得到相同结果，回滚重演依赖这一点。
type SimulateFn func(w world.World, t tick.Tick, input any)

type confirmedValue struct {
	t tick.Tick
	v any
}

type correction struct {
	from    any
	elapsed int
	total   int
}

type disabledEntry struct {
	deadline tick.Tick
}

// Engine 预测引擎
type Engine struct {
	reg *world.Registry
	w   world.World
	cfg Config
	sim SimulateFn

	tracked   map[world.EntityID]struct{}
	history   map[compKey]*historyBuffer
	confirmed map[compKey]confirmedValue
	inputs    *InputBuffer
	state     RollbackState

	corrections map[compKey]*correction
	disabled    map[world.EntityID]disabledEntry
	prespawns   *prespawnTable
	rollbacks   int
}

// NewEngine 创建预测引擎，w 为预测世界
func NewEngine(reg *world.Registry, w world.World, cfg Config, sim SimulateFn) *Engine {
	return &Engine{
		reg:         reg,
		w:           w,
		cfg:         cfg,
		sim:         sim,
		tracked:     make(map[world.EntityID]struct{}),
		history:     make(map[compKey]*historyBuffer),
		confirmed:   make(map[compKey]confirmedValue),
		inputs:      NewInputBuffer(),
		corrections: make(map[compKey]*correction),
		disabled:    make(map[world.EntityID]disabledEntry),
		prespawns:   newPrespawnTable(),
	}
}

// Track 把实体纳入预测
func (e *Engine) Track(entity world.EntityID) {
	e.tracked[entity] = struct{}{}
}

// Untrack 把实体移出预测并丢弃其全部历史
func (e *Engine) Untrack(entity world.EntityID) {
	delete(e.tracked, entity)
	delete(e.disabled, entity)
	for key := range e.history {
		if key.entity == entity {
			delete(e.history, key)
			delete(e.confirmed, key)
			delete(e.corrections, key)
		}
	}
}

// Inputs 本地输入缓冲
func (e *Engine) Inputs() *InputBuffer { return e.inputs }

// State 当前回滚状态
func (e *Engine) State() RollbackState { return e.state }

// Rollbacks 累计执行的回滚次数
func (e *Engine) Rollbacks() int { return e.rollbacks }

// Advance 推进一个预测 tick：登记输入、执行模拟、快照历史
// 返回匹配窗口过期、应当销毁的预生成实体。
func (e *Engine) Advance(t tick.Tick, input any) []world.EntityID {
	e.inputs.Record(t, input)
	e.sim(e.w, t, input)
	e.snapshot(t)
	e.stepCorrections()
	e.expireDisabled(t)
	return e.prespawns.expire(t)
}

// OnConfirmed 收到某预测实体某组件在 tick t 的权威值
// 与同 tick 的预测历史比对，偏差则把全局状态转入 RollbackPending。
func (e *Engine) OnConfirmed(entity world.EntityID, comp world.ComponentID, t tick.Tick, value any) {
	key := compKey{entity: entity, comp: comp}
	e.confirmed[key] = confirmedValue{t: t, v: value}

	if _, ok := e.tracked[entity]; !ok {
		return
	}

	mismatch := e.cfg.AlwaysRollback
	if !mismatch {
		h, ok := e.history[key]
		if !ok {
			return
		}
		predicted, ok := h.get(t)
		if !ok {
			// 同 tick 没有预测记录，无从比对，视为偏差
			mismatch = true
		} else {
			mismatch = !e.reg.Equal(comp, predicted, value)
		}
	}
	if !mismatch {
		return
	}

	// 多个组件同 tick 偏差只触发一次回滚，起点取最早
	if e.state.Kind == RollbackPending && !t.Before(e.state.From) {
		return
	}
	e.state = RollbackState{Kind: RollbackPending, From: t}
}

// ApplyRollback 执行待处理的回滚：把受管组件重置到确认值，
// 再逐 tick 重演缓冲输入直到 current。返回是否执行。
func (e *Engine) ApplyRollback(current tick.Tick) bool {
	if e.state.Kind != RollbackPending {
		return false
	}
	from := e.state.From
	e.state = RollbackState{}
	e.rollbacks++

	// 纠偏平滑从回滚前的预测值出发
	pre := make(map[compKey]any)
	if e.cfg.CorrectionTicks > 0 {
		for entity := range e.tracked {
			for _, comp := range e.w.Components(entity) {
				if v, ok := e.w.Get(entity, comp); ok {
					pre[compKey{entity: entity, comp: comp}] = v
				}
			}
		}
	}

	// 重置到确认点：有确认值的组件取确认值，其余退回 from 时刻的
	// 预测历史——所有受管实体一起回滚，重演才不会叠加在已推进的状态上
	for entity := range e.tracked {
		for _, comp := range e.w.Components(entity) {
			key := compKey{entity: entity, comp: comp}
			v, ok := e.valueAt(key, from)
			if !ok {
				continue
			}
			e.w.Set(entity, comp, v)
			if h, ok := e.history[key]; ok {
				h.put(from, v)
			}
		}
	}

	// 确定性重演
	steps := current.Diff(from)
	for i := 1; i <= steps; i++ {
		t := from.Add(i)
		e.sim(e.w, t, e.inputs.Get(t))
		e.snapshot(t)
	}

	for key, base := range pre {
		if v, ok := e.w.Get(key.entity, key.comp); ok && !e.reg.Equal(key.comp, base, v) {
			e.corrections[key] = &correction{from: base, total: e.cfg.CorrectionTicks}
		}
	}
	return true
}

// Rendered 供渲染读取的组件值：纠偏进行中返回平滑插值，否则返回模拟值
func (e *Engine) Rendered(entity world.EntityID, comp world.ComponentID) (any, bool) {
	v, ok := e.w.Get(entity, comp)
	if !ok {
		return nil, false
	}
	c, ok := e.corrections[compKey{entity: entity, comp: comp}]
	if !ok {
		return v, true
	}
	t := float64(c.elapsed) / float64(c.total)
	return e.reg.Interpolate(comp, c.from, v, t), true
}

// ========== 预测销毁 ==========

// PredictDespawn 预测性销毁：先禁用而非真正删除，等权威确认
func (e *Engine) PredictDespawn(entity world.EntityID, t tick.Tick) {
	if _, ok := e.tracked[entity]; !ok {
		return
	}
	e.disabled[entity] = disabledEntry{deadline: t.Add(e.cfg.DespawnGrace)}
}

// Disabled 实体是否处于预测销毁的禁用态
func (e *Engine) Disabled(entity world.EntityID) bool {
	_, ok := e.disabled[entity]
	return ok
}

// ConfirmDespawn 权威确认销毁：真正删除实体
func (e *Engine) ConfirmDespawn(entity world.EntityID) {
	e.Untrack(entity)
	e.w.Despawn(entity)
}

// expireDisabled 宽限超时仍无权威确认，恢复被预测销毁的实体
func (e *Engine) expireDisabled(t tick.Tick) {
	for entity, d := range e.disabled {
		if t.After(d.deadline) {
			delete(e.disabled, entity)
		}
	}
}

// ========== 内部 ==========

// valueAt 回滚重置时某组件在 from 时刻应当恢复的值
func (e *Engine) valueAt(key compKey, from tick.Tick) (any, bool) {
	if conf, ok := e.confirmed[key]; ok && conf.t == from {
		return conf.v, true
	}
	if h, ok := e.history[key]; ok {
		if v, ok := h.get(from); ok {
			return v, true
		}
	}
	return nil, false
}

// snapshot 把受管实体的当前组件值写入历史
func (e *Engine) snapshot(t tick.Tick) {
	for entity := range e.tracked {
		if _, off := e.disabled[entity]; off {
			continue
		}
		for _, comp := range e.w.Components(entity) {
			v, ok := e.w.Get(entity, comp)
			if !ok {
				continue
			}
			key := compKey{entity: entity, comp: comp}
			h, ok := e.history[key]
			if !ok {
				h = newHistoryBuffer()
				e.history[key] = h
			}
			h.put(t, v)
		}
	}
}

func (e *Engine) stepCorrections() {
	for key, c := range e.corrections {
		c.elapsed++
		if c.elapsed >= c.total {
			delete(e.corrections, key)
		}
	}
}
