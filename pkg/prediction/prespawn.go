package prediction

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"netsync/pkg/tick"
	"netsync/pkg/world"
)

// PrespawnHash 预生成实体的确定性匹配哈希
// 双方用相同的 (tick, salt) 算出相同的值，salt 区分同 tick 的多次生成。
func PrespawnHash(t tick.Tick, salt uint64) uint64 {
	var b [10]byte
	binary.LittleEndian.PutUint16(b[0:2], uint16(t))
	binary.LittleEndian.PutUint64(b[2:10], salt)
	h := xxh3.Hash(b[:])
	if h == 0 {
		h = 1 // 0 在线上表示"无哈希"
	}
	return h
}

type prespawnEntry struct {
	entity   world.EntityID
	deadline tick.Tick
}

// prespawnTable 待匹配的预生成实体，按哈希索引
type prespawnTable struct {
	byHash map[uint64]prespawnEntry
}

func newPrespawnTable() *prespawnTable {
	return &prespawnTable{byHash: make(map[uint64]prespawnEntry)}
}

// RegisterPrespawn 登记一个本地预生成的实体，等待服务器的同哈希 spawn
func (e *Engine) RegisterPrespawn(entity world.EntityID, hash uint64, t tick.Tick) {
	e.prespawns.byHash[hash] = prespawnEntry{
		entity:   entity,
		deadline: t.Add(e.cfg.MatchWindow),
	}
}

// MatchPrespawn 按哈希认领预生成实体，可直接接到接收端回调上
// 命中即从表中移除，返回 NoEntity 表示无匹配。
func (e *Engine) MatchPrespawn(hash uint64) world.EntityID {
	entry, ok := e.prespawns.byHash[hash]
	if !ok {
		return world.NoEntity
	}
	delete(e.prespawns.byHash, hash)
	return entry.entity
}

// expire 取出匹配窗口已过期的实体并从表中移除
func (p *prespawnTable) expire(t tick.Tick) []world.EntityID {
	var out []world.EntityID
	for hash, entry := range p.byHash {
		if t.After(entry.deadline) {
			out = append(out, entry.entity)
			delete(p.byHash, hash)
		}
	}
	return out
}
