package terrain

import (
	"math"

	"github.com/paulmach/orb"
)

// AffineMatrix is a planar transform: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns the transform that changes nothing
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, D: 1}
}

// Apply transforms a planar position
func (m AffineMatrix) Apply(p orb.Point) orb.Point {
	return orb.Point{
		m.A*p[0] + m.B*p[1] + m.Tx,
		m.C*p[0] + m.D*p[1] + m.Ty,
	}
}

// CreateRotationTranslation rotates about the origin by degrees, then translates
func CreateRotationTranslation(degrees, tx, ty float64) AffineMatrix {
	rad := degrees * math.Pi / 180.0
	cos, sin := math.Cos(rad), math.Sin(rad)
	return AffineMatrix{A: cos, B: -sin, Tx: tx, C: sin, D: cos, Ty: ty}
}

// FrameTransform places a sensor frame in the map frame
type FrameTransform struct {
	ID          string  `yaml:"id" json:"id"`
	Rotation    float64 `yaml:"rotation" json:"rotation"` // degrees, CCW
	Translation Offset  `yaml:"translation" json:"translation"`
	ZOffset     float64 `yaml:"zOffset" json:"zOffset"`
}

// Matrix returns the planar part of the transform
func (ft FrameTransform) Matrix() AffineMatrix {
	return CreateRotationTranslation(ft.Rotation, ft.Translation.X, ft.Translation.Y)
}

// TransformBatch re-expresses a batch in the target frame. Batches already
// in target, or in a frame with no configured transform, are returned
// unchanged. Variances are kept: a rigid transform does not change
// height uncertainty.
func TransformBatch(b Batch, target string, transforms []FrameTransform) Batch {
	if b.Frame == target {
		return b
	}
	for _, ft := range transforms {
		if ft.ID != b.Frame {
			continue
		}
		m := ft.Matrix()
		out := Batch{Frame: target, Stamp: b.Stamp, Points: make([]Point, len(b.Points))}
		for i, p := range b.Points {
			q := m.Apply(p.Position())
			out.Points[i] = Point{X: q[0], Y: q[1], Z: p.Z + ft.ZOffset, Variance: p.Variance}
		}
		return out
	}
	return b
}
