package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/zeebo/xxh3"

	"netsync/pkg/tick"
)

var (
	ErrDuplicateChannel = errors.New("通道名已注册")
	ErrTooManyChannels  = errors.New("通道数量超过上限")
)

// Registry 通道注册表
// 通道 id 按注册顺序分配，启动后不再变化；使用有序表保证遍历顺序、
// 打包顺序和校验和计算都是确定性的。
type Registry struct {
	channels *orderedmap.OrderedMap[string, *Channel]
	byID     map[ID]*Channel
	nextID   ID
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		channels: orderedmap.NewOrderedMap[string, *Channel](),
		byID:     make(map[ID]*Channel),
	}
}

// Register 注册一条通道并分配稳定 id
func (r *Registry) Register(s Settings) (*Channel, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("通道名不能为空")
	}
	if _, exists := r.channels.Get(s.Name); exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, s.Name)
	}
	if r.nextID == 0xff {
		return nil, ErrTooManyChannels
	}

	c := newChannel(r.nextID, s.withDefaults())
	r.channels.Set(s.Name, c)
	r.byID[c.id] = c
	r.nextID++
	return c, nil
}

// Get 按 id 查找通道
func (r *Registry) Get(id ID) (*Channel, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ByName 按名字查找通道
func (r *Registry) ByName(name string) (*Channel, bool) {
	return r.channels.Get(name)
}

// Len 返回已注册的通道数量
func (r *Registry) Len() int {
	return r.channels.Len()
}

// Each 按注册顺序遍历全部通道
func (r *Registry) Each(fn func(c *Channel)) {
	for el := r.channels.Front(); el != nil; el = el.Next() {
		fn(el.Value)
	}
}

// EachByPriority 按优先级从高到低遍历，同优先级保持注册顺序
// 出站打包走这个顺序，预算不足时低优先级通道的消息留到下个包。
func (r *Registry) EachByPriority(fn func(c *Channel)) {
	out := make([]*Channel, 0, r.channels.Len())
	r.Each(func(c *Channel) {
		out = append(out, c)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].settings.Priority > out[j].settings.Priority
	})
	for _, c := range out {
		fn(c)
	}
}

// UpdateAll 每 tick 驱动全部通道
func (r *Registry) UpdateAll(now time.Time, current tick.Tick) {
	r.Each(func(c *Channel) {
		c.Update(now, current)
	})
}

// Checksum 计算注册集合的校验和
// 连接建立时双方交换该值，不一致说明双方注册的通道集不兼容。
func (r *Registry) Checksum() uint64 {
	h := xxh3.New()
	var scratch [8]byte
	r.Each(func(c *Channel) {
		_, _ = h.WriteString(c.settings.Name)
		binary.LittleEndian.PutUint64(scratch[:], uint64(c.id)<<32|uint64(c.settings.Mode)<<16|uint64(uint16(c.settings.Priority)))
		_, _ = h.Write(scratch[:])
	})
	return h.Sum64()
}

// Clone 按相同配置创建全新的通道集合
// 每个连接持有自己的发送/接收状态，注册表本身只是蓝图。
func (r *Registry) Clone() *Registry {
	clone := NewRegistry()
	r.Each(func(c *Channel) {
		_, _ = clone.Register(c.settings)
	})
	return clone
}
