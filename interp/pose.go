package interp

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Pose is the position and orientation of a single tracked point.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// Sample holds one pose per tracked point of a participant.
type Sample struct {
	Head      Pose
	LeftHand  Pose
	RightHand Pose
}

// IdentitySample returns a sample at the origin with identity orientations.
func IdentitySample() Sample {
	p := Pose{Orientation: mgl64.QuatIdent()}
	return Sample{Head: p, LeftHand: p, RightHand: p}
}

func (s Sample) translate(v mgl64.Vec3) Sample {
	s.Head.Position = s.Head.Position.Add(v)
	s.LeftHand.Position = s.LeftHand.Position.Add(v)
	s.RightHand.Position = s.RightHand.Position.Add(v)
	return s
}

func (s Sample) finite() bool {
	for _, p := range []Pose{s.Head, s.LeftHand, s.RightHand} {
		for _, f := range []float64{
			p.Position.X(), p.Position.Y(), p.Position.Z(),
			p.Orientation.W, p.Orientation.X(), p.Orientation.Y(), p.Orientation.Z(),
		} {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}

func lerpPose(from, to Pose, t float64) Pose {
	switch {
	case t <= 0:
		return from
	case t >= 1:
		return to
	}
	return Pose{
		Position:    from.Position.Add(to.Position.Sub(from.Position).Mul(t)),
		Orientation: slerp(from.Orientation, to.Orientation, t),
	}
}

// slerp takes the shorter arc between a and b.
func slerp(a, b mgl64.Quat, t float64) mgl64.Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl64.QuatSlerp(a, b, t)
}

func lerpSample(from, to Sample, t float64) Sample {
	return Sample{
		Head:      lerpPose(from.Head, to.Head, t),
		LeftHand:  lerpPose(from.LeftHand, to.LeftHand, t),
		RightHand: lerpPose(from.RightHand, to.RightHand, t),
	}
}
