// Package interp 快照插值
// 插值时间线刻意落后于权威 tick，保证随时有一对快照夹住当前时刻，
// 渲染值在两个确认快照之间按组件插值函数平滑过渡。
package interp

import (
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

// Mode 插值模式
type Mode uint8

const (
	// ModeFull 在相邻快照间持续插值
	ModeFull Mode = iota
	// ModeSimple 每次更新直接贴到最新值，不插值
	ModeSimple
	// ModeOnce 只拷贝一次，之后组件归本地所有、不再同步
	ModeOnce
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeSimple:
		return "simple"
	case ModeOnce:
		return "once"
	default:
		return "unknown"
	}
}

type compKey struct {
	entity world.EntityID
	comp   world.ComponentID
}

type snapshot struct {
	t tick.Tick
	v any
}

// track 单个 (实体, 组件) 的插值状态
type track struct {
	mode     Mode
	start    snapshot
	end      snapshot
	count    int  // 已持有的快照数，0/1/2
	consumed bool // 仅 ModeOnce，首次拷贝已完成
}

// Engine 插值引擎，把确认快照投影成平滑的本地组件值
type Engine struct {
	reg    *world.Registry
	w      world.World
	tracks map[compKey]*track
}

// NewEngine 创建插值引擎，w 为插值世界
func NewEngine(reg *world.Registry, w world.World) *Engine {
	return &Engine{
		reg:    reg,
		w:      w,
		tracks: make(map[compKey]*track),
	}
}

// SetMode 登记某组件的插值模式，未登记的组件不受引擎管辖
func (e *Engine) SetMode(entity world.EntityID, comp world.ComponentID, mode Mode) {
	key := compKey{entity: entity, comp: comp}
	if tr, ok := e.tracks[key]; ok {
		tr.mode = mode
		return
	}
	e.tracks[key] = &track{mode: mode}
}

// Remove 丢弃某实体的全部插值状态
func (e *Engine) Remove(entity world.EntityID) {
	for key := range e.tracks {
		if key.entity == entity {
			delete(e.tracks, key)
		}
	}
}

// RemoveComponent 丢弃单个组件的插值状态，组件被远端移除时用
func (e *Engine) RemoveComponent(entity world.EntityID, comp world.ComponentID) {
	delete(e.tracks, compKey{entity: entity, comp: comp})
}

// Push 投喂一个确认快照
// ModeSimple 立即贴值；ModeOnce 只取第一次；ModeFull 滚动维护 (start, end) 对。
func (e *Engine) Push(entity world.EntityID, comp world.ComponentID, t tick.Tick, v any) {
	tr, ok := e.tracks[compKey{entity: entity, comp: comp}]
	if !ok {
		return
	}

	switch tr.mode {
	case ModeSimple:
		e.w.Set(entity, comp, v)

	case ModeOnce:
		if tr.consumed {
			return
		}
		tr.consumed = true
		e.w.Set(entity, comp, v)

	case ModeFull:
		switch tr.count {
		case 0:
			tr.start = snapshot{t: t, v: v}
			tr.count = 1
		case 1:
			if !t.After(tr.start.t) {
				// 乱序旧快照，丢弃
				return
			}
			tr.end = snapshot{t: t, v: v}
			tr.count = 2
		default:
			if !t.After(tr.end.t) {
				return
			}
			tr.start = tr.end
			tr.end = snapshot{t: t, v: v}
		}
	}
}

// Update 把全部 ModeFull 组件推进到插值时间线的当前时刻
func (e *Engine) Update(now tick.Instant) {
	for key, tr := range e.tracks {
		if tr.mode != ModeFull || tr.count == 0 {
			continue
		}
		e.w.Set(key.entity, key.comp, e.sample(key.comp, tr, now))
	}
}

// sample 对单个组件取当前时刻的值
func (e *Engine) sample(comp world.ComponentID, tr *track, now tick.Instant) any {
	start := tick.At(tr.start.t)
	// 时刻落在起点之前，贴到起点
	if tr.count == 1 || !now.After(start) {
		return tr.start.v
	}

	end := tick.At(tr.end.t)
	span := end.Sub(start)
	elapsed := now.Sub(start)
	if elapsed >= span {
		// 快照耗尽，沿末快照外推（无外推函数的组件保持末值）
		return e.reg.Extrapolate(comp, tr.end.v, elapsed-span)
	}
	return e.reg.Interpolate(comp, tr.start.v, tr.end.v, elapsed/span)
}
