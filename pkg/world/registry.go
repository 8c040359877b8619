package world

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/zeebo/xxh3"
)

var (
	ErrRegistrySealed     = errors.New("注册表已封闭")
	ErrUnknownComponent   = errors.New("未知组件类型")
	ErrDuplicateComponent = errors.New("组件名已注册")
)

// ComponentDesc 组件类型的分发表项
// 序列化、差分和回滚判等通过注册时存入的函数指针分发，启动后不可变。
type ComponentDesc struct {
	Name        string
	Serialize   func(v any) ([]byte, error)
	Deserialize func(b []byte) (any, error)

	// 可选：差分编码，缺省退回全量编码
	Diff      func(base, next any) ([]byte, error)
	ApplyDiff func(base any, diff []byte) (any, error)

	// 可选：回滚判等，缺省使用 reflect.DeepEqual
	Equal func(a, b any) bool

	// 可选：插值函数，缺省直接取终点值
	Interpolate func(a, b any, t float64) any

	// 可选：航位推测，插值缓冲耗尽时外推
	Extrapolate func(last any, dtTicks float64) any
}

// Registry 组件类型注册表
// id 按注册顺序分配；Seal 之后拒绝任何修改。
type Registry struct {
	byName *orderedmap.OrderedMap[string, ComponentID]
	byID   map[ComponentID]ComponentDesc
	nextID ComponentID
	sealed bool
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		byName: orderedmap.NewOrderedMap[string, ComponentID](),
		byID:   make(map[ComponentID]ComponentDesc),
	}
}

// Register 注册组件类型并分配稳定 id
func (r *Registry) Register(desc ComponentDesc) (ComponentID, error) {
	if r.sealed {
		return 0, ErrRegistrySealed
	}
	if desc.Name == "" || desc.Serialize == nil || desc.Deserialize == nil {
		return 0, fmt.Errorf("组件描述不完整: %q", desc.Name)
	}
	if _, exists := r.byName.Get(desc.Name); exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateComponent, desc.Name)
	}

	id := r.nextID
	r.nextID++
	r.byName.Set(desc.Name, id)
	r.byID[id] = desc
	return id, nil
}

// Seal 封闭注册表，之后的注册一律失败
func (r *Registry) Seal() {
	r.sealed = true
}

// Lookup 按 id 查找组件描述
func (r *Registry) Lookup(id ComponentID) (ComponentDesc, bool) {
	desc, ok := r.byID[id]
	return desc, ok
}

// IDByName 按名字查找组件 id
func (r *Registry) IDByName(name string) (ComponentID, bool) {
	return r.byName.Get(name)
}

// Checksum 计算注册集合的校验和，连接握手时交换比对
func (r *Registry) Checksum() uint64 {
	h := xxh3.New()
	var scratch [2]byte
	for el := r.byName.Front(); el != nil; el = el.Next() {
		_, _ = h.WriteString(el.Key)
		binary.LittleEndian.PutUint16(scratch[:], uint16(el.Value))
		_, _ = h.Write(scratch[:])
	}
	return h.Sum64()
}

// ========== 按 id 分发 ==========

// Serialize 序列化组件值
func (r *Registry) Serialize(id ComponentID, v any) ([]byte, error) {
	desc, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComponent, id)
	}
	return desc.Serialize(v)
}

// Deserialize 反序列化组件值
func (r *Registry) Deserialize(id ComponentID, b []byte) (any, error) {
	desc, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComponent, id)
	}
	return desc.Deserialize(b)
}

// Diff 差分编码
// 组件未提供差分函数、或差分失败时返回 ok=false，调用方退回全量编码。
func (r *Registry) Diff(id ComponentID, base, next any) ([]byte, bool) {
	desc, ok := r.byID[id]
	if !ok || desc.Diff == nil {
		return nil, false
	}
	d, err := desc.Diff(base, next)
	if err != nil {
		return nil, false
	}
	return d, true
}

// ApplyDiff 把差分应用到基准值上
func (r *Registry) ApplyDiff(id ComponentID, base any, diff []byte) (any, error) {
	desc, ok := r.byID[id]
	if !ok || desc.ApplyDiff == nil {
		return nil, fmt.Errorf("%w: %d 不支持差分", ErrUnknownComponent, id)
	}
	return desc.ApplyDiff(base, diff)
}

// Equal 回滚判等，缺省退回 reflect.DeepEqual
func (r *Registry) Equal(id ComponentID, a, b any) bool {
	if desc, ok := r.byID[id]; ok && desc.Equal != nil {
		return desc.Equal(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// Interpolate 插值，缺省直接取终点值
func (r *Registry) Interpolate(id ComponentID, a, b any, t float64) any {
	if desc, ok := r.byID[id]; ok && desc.Interpolate != nil {
		return desc.Interpolate(a, b, t)
	}
	return b
}

// Extrapolate 航位推测，组件未提供时保持原值
func (r *Registry) Extrapolate(id ComponentID, last any, dtTicks float64) any {
	if desc, ok := r.byID[id]; ok && desc.Extrapolate != nil {
		return desc.Extrapolate(last, dtTicks)
	}
	return last
}
