// Package components 提供一组示例组件及其注册函数
// 测试和示例程序使用；宿主应用通常注册自己的组件集。
package components

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"netsync/pkg/world"
)

// Position 平面位置
type Position struct {
	V mgl32.Vec2
}

// Velocity 平面速度，单位为每 tick 的位移
type Velocity struct {
	V mgl32.Vec2
}

// Rotation 朝向四元数
type Rotation struct {
	Q mgl32.Quat
}

// Kinematic 位置加速度的组合组件，支持航位推测外推
type Kinematic struct {
	Pos mgl32.Vec2
	Vel mgl32.Vec2
}

// Thresholds 回滚判等阈值
// 引擎不内置任何默认阈值，由宿主在注册时给出。
type Thresholds struct {
	PositionEpsilon float32 // 位置距离阈值
	RotationEpsilon float32 // 四元数点积偏差阈值
}

// IDs 注册后各组件分到的 id
type IDs struct {
	Position world.ComponentID
	Velocity world.ComponentID
	Rotation world.ComponentID
	Kinematic world.ComponentID
}

// Register 把示例组件集注册进组件注册表
func Register(reg *world.Registry, th Thresholds) (IDs, error) {
	var ids IDs
	var err error

	ids.Position, err = reg.Register(world.ComponentDesc{
		Name:        "position",
		Serialize:   serializePosition,
		Deserialize: deserializePosition,
		Diff:        diffPosition,
		ApplyDiff:   applyDiffPosition,
		Equal: func(a, b any) bool {
			pa, pb := a.(Position), b.(Position)
			return pa.V.Sub(pb.V).Len() < th.PositionEpsilon
		},
		Interpolate: func(a, b any, t float64) any {
			pa, pb := a.(Position), b.(Position)
			return Position{V: lerpVec2(pa.V, pb.V, float32(t))}
		},
	})
	if err != nil {
		return ids, err
	}

	ids.Velocity, err = reg.Register(world.ComponentDesc{
		Name:        "velocity",
		Serialize:   serializeVelocity,
		Deserialize: deserializeVelocity,
		Equal: func(a, b any) bool {
			va, vb := a.(Velocity), b.(Velocity)
			return va.V.Sub(vb.V).Len() < th.PositionEpsilon
		},
	})
	if err != nil {
		return ids, err
	}

	ids.Rotation, err = reg.Register(world.ComponentDesc{
		Name:        "rotation",
		Serialize:   serializeRotation,
		Deserialize: deserializeRotation,
		Equal: func(a, b any) bool {
			ra, rb := a.(Rotation), b.(Rotation)
			// 单位四元数点积接近 ±1 说明朝向几乎一致
			return math32.Abs(ra.Q.Dot(rb.Q)) > 1-th.RotationEpsilon
		},
		// 旋转使用球面插值，线性插值会在大角度时明显变形
		Interpolate: func(a, b any, t float64) any {
			ra, rb := a.(Rotation), b.(Rotation)
			return Rotation{Q: mgl32.QuatSlerp(ra.Q, rb.Q, float32(t))}
		},
	})
	if err != nil {
		return ids, err
	}

	ids.Kinematic, err = reg.Register(world.ComponentDesc{
		Name:        "kinematic",
		Serialize:   serializeKinematic,
		Deserialize: deserializeKinematic,
		Equal: func(a, b any) bool {
			ka, kb := a.(Kinematic), b.(Kinematic)
			return ka.Pos.Sub(kb.Pos).Len() < th.PositionEpsilon
		},
		Interpolate: func(a, b any, t float64) any {
			ka, kb := a.(Kinematic), b.(Kinematic)
			return Kinematic{
				Pos: lerpVec2(ka.Pos, kb.Pos, float32(t)),
				Vel: lerpVec2(ka.Vel, kb.Vel, float32(t)),
			}
		},
		// 快照耗尽时沿最后速度外推
		Extrapolate: func(last any, dtTicks float64) any {
			k := last.(Kinematic)
			return Kinematic{
				Pos: k.Pos.Add(k.Vel.Mul(float32(dtTicks))),
				Vel: k.Vel,
			}
		},
	})
	return ids, err
}

func lerpVec2(a, b mgl32.Vec2, t float32) mgl32.Vec2 {
	return a.Add(b.Sub(a).Mul(t))
}

// ========== 序列化 ==========

func putF32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func serializeVec2(v mgl32.Vec2) []byte {
	b := make([]byte, 8)
	putF32(b[0:], v.X())
	putF32(b[4:], v.Y())
	return b
}

func deserializeVec2(b []byte) (mgl32.Vec2, error) {
	if len(b) < 8 {
		return mgl32.Vec2{}, fmt.Errorf("vec2 载荷过短: %d 字节", len(b))
	}
	return mgl32.Vec2{getF32(b[0:]), getF32(b[4:])}, nil
}

func serializePosition(v any) ([]byte, error) {
	return serializeVec2(v.(Position).V), nil
}

func deserializePosition(b []byte) (any, error) {
	v, err := deserializeVec2(b)
	return Position{V: v}, err
}

func serializeVelocity(v any) ([]byte, error) {
	return serializeVec2(v.(Velocity).V), nil
}

func deserializeVelocity(b []byte) (any, error) {
	v, err := deserializeVec2(b)
	return Velocity{V: v}, err
}

func serializeRotation(v any) ([]byte, error) {
	q := v.(Rotation).Q
	b := make([]byte, 16)
	putF32(b[0:], q.W)
	putF32(b[4:], q.V.X())
	putF32(b[8:], q.V.Y())
	putF32(b[12:], q.V.Z())
	return b, nil
}

func deserializeRotation(b []byte) (any, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("rotation 载荷过短: %d 字节", len(b))
	}
	return Rotation{Q: mgl32.Quat{
		W: getF32(b[0:]),
		V: mgl32.Vec3{getF32(b[4:]), getF32(b[8:]), getF32(b[12:])},
	}}, nil
}

func serializeKinematic(v any) ([]byte, error) {
	k := v.(Kinematic)
	b := make([]byte, 16)
	putF32(b[0:], k.Pos.X())
	putF32(b[4:], k.Pos.Y())
	putF32(b[8:], k.Vel.X())
	putF32(b[12:], k.Vel.Y())
	return b, nil
}

func deserializeKinematic(b []byte) (any, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("kinematic 载荷过短: %d 字节", len(b))
	}
	return Kinematic{
		Pos: mgl32.Vec2{getF32(b[0:]), getF32(b[4:])},
		Vel: mgl32.Vec2{getF32(b[8:]), getF32(b[12:])},
	}, nil
}

// ========== 位置差分 ==========

// 差分编码把位移量化成 1/256 像素的 16 位定点数，4 字节顶替全量 8 字节
const diffScale = 256

func diffPosition(base, next any) ([]byte, error) {
	pb, pn := base.(Position), next.(Position)
	dx := float64(pn.V.X()-pb.V.X()) * diffScale
	dy := float64(pn.V.Y()-pb.V.Y()) * diffScale
	if dx > math.MaxInt16 || dx < math.MinInt16 || dy > math.MaxInt16 || dy < math.MinInt16 {
		return nil, fmt.Errorf("位移超出差分量程")
	}

	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:], uint16(int16(math.Round(dx))))
	binary.LittleEndian.PutUint16(b[2:], uint16(int16(math.Round(dy))))
	return b, nil
}

func applyDiffPosition(base any, diff []byte) (any, error) {
	if len(diff) < 4 {
		return nil, fmt.Errorf("位置差分载荷过短: %d 字节", len(diff))
	}
	p := base.(Position)
	dx := float32(int16(binary.LittleEndian.Uint16(diff[0:]))) / diffScale
	dy := float32(int16(binary.LittleEndian.Uint16(diff[2:]))) / diffScale
	return Position{V: mgl32.Vec2{p.V.X() + dx, p.V.Y() + dy}}, nil
}
