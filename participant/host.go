package participant

import (
	"github.com/go-gl/mathgl/mgl64"

	"avatarsync.dev/client/avatar"
)

// Host is the scene object a participant is attached to.
type Host interface {
	// Spawn instantiates a body showing a.
	Spawn(a *avatar.Avatar) (Body, error)
	// SetLabel shows or hides the name label above the participant.
	SetLabel(visible bool, text string)
	// SetPosition moves the participant in world space.
	SetPosition(p mgl64.Vec3)
}

// Body is a spawned avatar.
type Body interface {
	// SetRenderersEnabled toggles every renderer below the body.
	SetRenderersEnabled(enabled bool)
	// Destroy releases the body.
	Destroy()
}

// Resolver resolves avatars by hash. It is implemented by *avatar.Cache.
type Resolver interface {
	Resolve(hash string, w avatar.Waiter) (*avatar.Avatar, bool)
}
