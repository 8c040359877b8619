// Package world 定义核心与宿主实体存储之间的边界
// 核心只通过这里的回调接口读写实体和组件，不关心宿主用什么框架。
package world

import "sort"

// EntityID 稳定整数实体标识（arena 风格，despawn 后不复用也不悬垂）
type EntityID uint32

// NoEntity 空实体
const NoEntity EntityID = 0

// ComponentID 组件类型标识，注册时分配
type ComponentID uint16

// World 宿主实体存储必须实现的回调接口
// Set 只更新已存在的组件，绝不隐式插入。
type World interface {
	Spawn() EntityID
	Despawn(id EntityID)
	Exists(id EntityID) bool
	Insert(id EntityID, comp ComponentID, v any)
	Remove(id EntityID, comp ComponentID)
	Set(id EntityID, comp ComponentID, v any) bool
	Get(id EntityID, comp ComponentID) (any, bool)
	Components(id EntityID) []ComponentID
	Entities() []EntityID
}

// ========== 内存实现 ==========

// MemWorld World 的内存参考实现，测试和示例程序使用
type MemWorld struct {
	next     EntityID
	entities map[EntityID]map[ComponentID]any
}

// NewMemWorld 创建空的内存世界
func NewMemWorld() *MemWorld {
	return &MemWorld{
		next:     1,
		entities: make(map[EntityID]map[ComponentID]any),
	}
}

func (w *MemWorld) Spawn() EntityID {
	id := w.next
	w.next++
	w.entities[id] = make(map[ComponentID]any)
	return id
}

func (w *MemWorld) Despawn(id EntityID) {
	delete(w.entities, id)
}

func (w *MemWorld) Exists(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

func (w *MemWorld) Insert(id EntityID, comp ComponentID, v any) {
	if comps, ok := w.entities[id]; ok {
		comps[comp] = v
	}
}

func (w *MemWorld) Remove(id EntityID, comp ComponentID) {
	if comps, ok := w.entities[id]; ok {
		delete(comps, comp)
	}
}

// Set 只更新已存在的组件
func (w *MemWorld) Set(id EntityID, comp ComponentID, v any) bool {
	comps, ok := w.entities[id]
	if !ok {
		return false
	}
	if _, exists := comps[comp]; !exists {
		return false
	}
	comps[comp] = v
	return true
}

func (w *MemWorld) Get(id EntityID, comp ComponentID) (any, bool) {
	comps, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	v, ok := comps[comp]
	return v, ok
}

func (w *MemWorld) Components(id EntityID) []ComponentID {
	comps, ok := w.entities[id]
	if !ok {
		return nil
	}
	out := make([]ComponentID, 0, len(comps))
	for c := range comps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *MemWorld) Entities() []EntityID {
	out := make([]EntityID, 0, len(w.entities))
	for id := range w.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
