package world

// EntityMap 远端实体与本地实体的双向映射表
// 复制消息里携带的是发送方的实体 id，接收方在这里换成本地 id。
type EntityMap struct {
	toLocal  map[EntityID]EntityID
	toRemote map[EntityID]EntityID
}

// NewEntityMap 创建空映射表
func NewEntityMap() *EntityMap {
	return &EntityMap{
		toLocal:  make(map[EntityID]EntityID),
		toRemote: make(map[EntityID]EntityID),
	}
}

// Insert 登记一对映射
func (m *EntityMap) Insert(remote, local EntityID) {
	m.toLocal[remote] = local
	m.toRemote[local] = remote
}

// Local 查本地实体
func (m *EntityMap) Local(remote EntityID) (EntityID, bool) {
	local, ok := m.toLocal[remote]
	return local, ok
}

// Remote 查远端实体
func (m *EntityMap) Remote(local EntityID) (EntityID, bool) {
	remote, ok := m.toRemote[local]
	return remote, ok
}

// RemoveByRemote 按远端 id 删除映射，返回对应的本地实体
func (m *EntityMap) RemoveByRemote(remote EntityID) (EntityID, bool) {
	local, ok := m.toLocal[remote]
	if !ok {
		return NoEntity, false
	}
	delete(m.toLocal, remote)
	delete(m.toRemote, local)
	return local, true
}

// RemoveByLocal 按本地 id 删除映射
func (m *EntityMap) RemoveByLocal(local EntityID) (EntityID, bool) {
	remote, ok := m.toRemote[local]
	if !ok {
		return NoEntity, false
	}
	delete(m.toRemote, local)
	delete(m.toLocal, remote)
	return remote, true
}

// Len 映射条数
func (m *EntityMap) Len() int {
	return len(m.toLocal)
}

// ========== 实体三元组 ==========

// Triad 确认实体与其预测/插值副本的双向查找表
// 每个确认实体同一时刻至多拥有一个预测副本和一个插值副本。
// 用显式查找表而不是内嵌指针，despawn 任意一侧都不会留下悬垂引用。
type Triad struct {
	predicted      map[EntityID]EntityID // confirmed -> predicted
	predictedOf    map[EntityID]EntityID // predicted -> confirmed
	interpolated   map[EntityID]EntityID // confirmed -> interpolated
	interpolatedOf map[EntityID]EntityID // interpolated -> confirmed
}

// NewTriad 创建空三元组表
func NewTriad() *Triad {
	return &Triad{
		predicted:      make(map[EntityID]EntityID),
		predictedOf:    make(map[EntityID]EntityID),
		interpolated:   make(map[EntityID]EntityID),
		interpolatedOf: make(map[EntityID]EntityID),
	}
}

// SetPredicted 登记预测副本，覆盖旧副本的映射
func (t *Triad) SetPredicted(confirmed, predicted EntityID) {
	if old, ok := t.predicted[confirmed]; ok {
		delete(t.predictedOf, old)
	}
	t.predicted[confirmed] = predicted
	t.predictedOf[predicted] = confirmed
}

// SetInterpolated 登记插值副本
func (t *Triad) SetInterpolated(confirmed, interpolated EntityID) {
	if old, ok := t.interpolated[confirmed]; ok {
		delete(t.interpolatedOf, old)
	}
	t.interpolated[confirmed] = interpolated
	t.interpolatedOf[interpolated] = confirmed
}

// Predicted 查确认实体的预测副本
func (t *Triad) Predicted(confirmed EntityID) (EntityID, bool) {
	id, ok := t.predicted[confirmed]
	return id, ok
}

// Interpolated 查确认实体的插值副本
func (t *Triad) Interpolated(confirmed EntityID) (EntityID, bool) {
	id, ok := t.interpolated[confirmed]
	return id, ok
}

// ConfirmedOf 反查副本对应的确认实体（预测或插值都可）
func (t *Triad) ConfirmedOf(copy EntityID) (EntityID, bool) {
	if c, ok := t.predictedOf[copy]; ok {
		return c, true
	}
	c, ok := t.interpolatedOf[copy]
	return c, ok
}

// RemoveConfirmed 删除确认实体的全部映射，返回两侧副本供级联销毁
// despawn 时必须调用，否则查找表会悬垂。
func (t *Triad) RemoveConfirmed(confirmed EntityID) (predicted, interpolated EntityID) {
	predicted = NoEntity
	interpolated = NoEntity

	if p, ok := t.predicted[confirmed]; ok {
		predicted = p
		delete(t.predicted, confirmed)
		delete(t.predictedOf, p)
	}
	if i, ok := t.interpolated[confirmed]; ok {
		interpolated = i
		delete(t.interpolated, confirmed)
		delete(t.interpolatedOf, i)
	}
	return predicted, interpolated
}
