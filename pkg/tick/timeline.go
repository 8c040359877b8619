package tick

import "time"

// Timeline 独立推进的时钟实例
// 每条时间线拥有自己的 tick 间隔和当前时间点，不与其他时间线共享引用。
// 本地时间线驱动仿真；输入时间线偏移在前；插值时间线偏移在后。
type Timeline struct {
	tickDuration time.Duration
	now          Instant
	speed        float64 // 相对播放速度，1.0 为正常速度
	accumulated  time.Duration
}

// NewTimeline 创建时间线
func NewTimeline(tickDuration time.Duration) *Timeline {
	return &Timeline{
		tickDuration: tickDuration,
		speed:        1.0,
	}
}

// TickDuration 返回 tick 间隔
func (tl *Timeline) TickDuration() time.Duration {
	return tl.tickDuration
}

// Now 返回当前时间点
func (tl *Timeline) Now() Instant {
	return tl.now
}

// CurrentTick 返回当前 tick
func (tl *Timeline) CurrentTick() Tick {
	return tl.now.Tick
}

// Speed 返回相对播放速度
func (tl *Timeline) Speed() float64 {
	return tl.speed
}

// SetSpeed 设置相对播放速度
// 同步管理器通过微调速度让时间线逐渐收敛到目标偏移
func (tl *Timeline) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	tl.speed = speed
}

// Advance 按真实时间推进时间线，返回本次推进跨过的整 tick 数
func (tl *Timeline) Advance(dt time.Duration) int {
	if dt <= 0 {
		return 0
	}
	tl.accumulated += time.Duration(float64(dt) * tl.speed)

	crossed := 0
	for tl.accumulated >= tl.tickDuration {
		tl.accumulated -= tl.tickDuration
		tl.now.Tick = tl.now.Tick.Add(1)
		crossed++
	}
	tl.now.Overstep = float64(tl.accumulated) / float64(tl.tickDuration)
	return crossed
}

// Step 强制推进一个整 tick（固定步长驱动时使用）
func (tl *Timeline) Step() {
	tl.now.Tick = tl.now.Tick.Add(1)
	tl.now.Overstep = 0
	tl.accumulated = 0
}

// Snap 硬同步：把时间线直接跳到目标时间点
func (tl *Timeline) Snap(target Instant) {
	tl.now = target
	tl.accumulated = time.Duration(target.Overstep * float64(tl.tickDuration))
}

// Shift 把时间线平移 delta 个 tick（可含小数、可为负）
func (tl *Timeline) Shift(delta float64) {
	tl.Snap(tl.now.AddTicks(delta))
}
