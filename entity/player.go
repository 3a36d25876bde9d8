package entity

import (
	"avatarsync.dev/client/interp"
	"avatarsync.dev/client/util"
)

// Player is the struct with the player's data
type Player struct {
	ID         int         `json:"id"`
	Name       string      `json:"name"`
	AvatarHash string      `json:"avatarHash"`
	Session    string      `json:"session,omitempty"`
	Head       util.PosRot `json:"head"`
	LeftHand   util.PosRot `json:"leftHand"`
	RightHand  util.PosRot `json:"rightHand"`
}

// Sample returns the tracked poses of the player.
func (p *Player) Sample() interp.Sample {
	return interp.Sample{
		Head:      pose(p.Head),
		LeftHand:  pose(p.LeftHand),
		RightHand: pose(p.RightHand),
	}
}

func pose(pr util.PosRot) interp.Pose {
	return interp.Pose{
		Position:    pr.Position.Vec3(),
		Orientation: pr.Rotation.Quat(),
	}
}
