package util

import "github.com/go-gl/mathgl/mgl64"

// Vector3 is a vector with 3 coordinates
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec3 converts the wire vector to a math vector.
func (v Vector3) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// Quaternion is a rotation as sent on the wire (x, y, z, w).
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Quat converts the wire rotation to a unit quaternion. A zero quaternion,
// which is what an absent field decodes to, becomes the identity.
func (q Quaternion) Quat() mgl64.Quat {
	out := mgl64.Quat{W: q.W, V: mgl64.Vec3{q.X, q.Y, q.Z}}
	if out.Len() == 0 {
		return mgl64.QuatIdent()
	}
	return out.Normalize()
}

// PosRot is a position and rotation of a tracked point.
type PosRot struct {
	Position Vector3    `json:"position"`
	Rotation Quaternion `json:"rotation"`
}
