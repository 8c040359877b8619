package tick

import (
	"testing"
	"time"
)

func TestTickDiffWraparound(t *testing.T) {
	cases := []struct {
		name string
		a, b Tick
		want int
	}{
		{"相邻", 10, 9, 1},
		{"相等", 100, 100, 0},
		{"落后", 5, 8, -3},
		{"跨越回绕边界", 2, 65533, 5},
		{"反向跨越回绕边界", 65533, 2, -5},
		{"最大正差值", 32767, 0, 32767},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Diff(tc.b); got != tc.want {
				t.Errorf("Diff(%d, %d) = %d, 期望 %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestTickAfterBeforeAcrossWrap(t *testing.T) {
	var a Tick = 65535
	b := a.Add(1)

	if b != 0 {
		t.Fatalf("65535+1 应回绕到 0，得到 %d", b)
	}
	if !b.After(a) {
		t.Error("回绕后的 0 应在 65535 之后")
	}
	if !a.Before(b) {
		t.Error("65535 应在回绕后的 0 之前")
	}
}

func TestTickAddNegative(t *testing.T) {
	var a Tick = 3
	if got := a.Add(-5); got != 65534 {
		t.Errorf("3 - 5 应回绕到 65534，得到 %d", got)
	}
}

func TestInstantSub(t *testing.T) {
	a := Instant{Tick: 10, Overstep: 0.5}
	b := Instant{Tick: 8, Overstep: 0.25}

	if got := a.Sub(b); got != 2.25 {
		t.Errorf("Sub = %v, 期望 2.25", got)
	}
	if !a.After(b) || !b.Before(a) {
		t.Error("After/Before 判断错误")
	}
}

func TestInstantAddTicks(t *testing.T) {
	a := Instant{Tick: 10, Overstep: 0.5}

	got := a.AddTicks(2.75)
	if got.Tick != 13 || got.Overstep != 0.25 {
		t.Errorf("AddTicks(2.75) = %+v, 期望 {13 0.25}", got)
	}

	got = a.AddTicks(-1.75)
	if got.Tick != 8 || got.Overstep != 0.75 {
		t.Errorf("AddTicks(-1.75) = %+v, 期望 {8 0.75}", got)
	}
}

func TestTimelineAdvance(t *testing.T) {
	tl := NewTimeline(time.Second / 60)

	crossed := tl.Advance(time.Second / 30)
	if crossed != 2 {
		t.Errorf("推进 2 个 tick 的时长应跨过 2 个 tick，得到 %d", crossed)
	}
	if tl.CurrentTick() != 2 {
		t.Errorf("当前 tick 应为 2，得到 %d", tl.CurrentTick())
	}
}

func TestTimelineSpeed(t *testing.T) {
	tl := NewTimeline(time.Second / 60)
	tl.SetSpeed(2.0)

	crossed := tl.Advance(time.Second / 60)
	if crossed != 2 {
		t.Errorf("2 倍速推进 1 个 tick 时长应跨过 2 个 tick，得到 %d", crossed)
	}

	// 非法速度被忽略
	tl.SetSpeed(-1)
	if tl.Speed() != 2.0 {
		t.Error("负速度不应被接受")
	}
}

func TestTimelineSnapAndShift(t *testing.T) {
	tl := NewTimeline(time.Second / 60)
	tl.Snap(Instant{Tick: 100, Overstep: 0.5})

	if tl.CurrentTick() != 100 {
		t.Errorf("Snap 后 tick 应为 100，得到 %d", tl.CurrentTick())
	}

	tl.Shift(-2.5)
	now := tl.Now()
	if now.Tick != 98 || now.Overstep != 0 {
		t.Errorf("Shift(-2.5) 后应为 {98 0}，得到 %+v", now)
	}
}

func TestTimelineAdvancePastWrap(t *testing.T) {
	tl := NewTimeline(time.Millisecond)
	tl.Snap(Instant{Tick: 65530})

	for i := 0; i < 10; i++ {
		tl.Step()
	}
	if tl.CurrentTick() != 4 {
		t.Errorf("跨越回绕边界后 tick 应为 4，得到 %d", tl.CurrentTick())
	}
}
