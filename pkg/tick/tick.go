package tick

// Tick 回绕的 16 位仿真步计数器
// 所有比较和减法都是模运算，跨越回绕边界时仍然正确
type Tick uint16

// Add 前进 n 步（n 可以为负）
func (t Tick) Add(n int) Tick {
	return Tick(uint16(int(t) + n))
}

// Diff 返回 t - o 的有符号模差值，范围 [-32768, 32767]
func (t Tick) Diff(o Tick) int {
	return int(int16(uint16(t) - uint16(o)))
}

// After 判断 t 是否在 o 之后（模比较）
func (t Tick) After(o Tick) bool {
	return t.Diff(o) > 0
}

// Before 判断 t 是否在 o 之前（模比较）
func (t Tick) Before(o Tick) bool {
	return t.Diff(o) < 0
}

// Max 返回两个 tick 中较新的一个
func Max(a, b Tick) Tick {
	if a.After(b) {
		return a
	}
	return b
}

// Instant 表示 tick 加上小数超步的瞬时时间点
type Instant struct {
	Tick     Tick
	Overstep float64 // [0, 1)，以 tick 为单位的小数部分
}

// At 构造一个整 tick 的瞬时时间点
func At(t Tick) Instant {
	return Instant{Tick: t}
}

// Sub 返回 i - o 的差值，以 tick 为单位
func (i Instant) Sub(o Instant) float64 {
	return float64(i.Tick.Diff(o.Tick)) + i.Overstep - o.Overstep
}

// AddTicks 前进 f 个 tick（f 可以为负、可以含小数）
func (i Instant) AddTicks(f float64) Instant {
	total := float64(i.Tick) + i.Overstep + f
	whole := int(total)
	frac := total - float64(whole)
	if frac < 0 {
		whole--
		frac++
	}
	return Instant{Tick: Tick(uint16(whole)), Overstep: frac}
}

// After 判断 i 是否在 o 之后
func (i Instant) After(o Instant) bool {
	return i.Sub(o) > 0
}

// Before 判断 i 是否在 o 之前
func (i Instant) Before(o Instant) bool {
	return i.Sub(o) < 0
}
