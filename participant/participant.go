// Package participant binds a remote player's pose interpolation to the avatar
// shown for it in the host scene.
package participant

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"avatarsync.dev/client/avatar"
	"avatarsync.dev/client/entity"
	"avatarsync.dev/client/interp"
)

// loadingLabel is shown until the first player state arrives.
const loadingLabel = "Loading"

// Options configures a Participant.
type Options struct {
	Host  Host
	Cache Resolver
	// Default is shown until the player's own avatar is available.
	Default *avatar.Avatar
	Logger  logr.Logger
}

// Participant is the local representation of a remote player. Player states
// and frame ticks come from the frame loop; avatar completions may arrive
// from any goroutine.
type Participant struct {
	mu sync.Mutex

	host   Host
	cache  Resolver
	logger logr.Logger
	interp *interp.Interpolator

	body     Body
	bodyHash string
	// desired is the hash of the most recently requested avatar.
	desired         string
	label           string
	rendererEnabled bool
	destroyed       bool
}

// New creates a participant and spawns the default avatar, if any.
func New(opts Options) *Participant {
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	p := &Participant{
		host:            opts.Host,
		cache:           opts.Cache,
		logger:          opts.Logger,
		interp:          interp.New(opts.Logger),
		label:           loadingLabel,
		rendererEnabled: true,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if opts.Default != nil {
		p.swap(opts.Default)
	}
	p.host.SetLabel(true, p.label)
	return p
}

// SetForceImmediate makes every new state show up without interpolation.
func (p *Participant) SetForceImmediate(force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interp.ForceImmediate = force
}

// SetPlayerState applies a new state of the player. offset separates players
// standing at the same spot along the x axis. A nil player hides the
// participant.
func (p *Participant) SetPlayerState(player *entity.Player, offset float64, isLocal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}

	if player == nil {
		p.host.SetLabel(false, p.label)
		p.setRenderers(false)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(fmt.Errorf("%v", r), "participant update failed", "player", player.Name)
		}
	}()

	if player.AvatarHash != "" && player.AvatarHash != p.desired {
		p.request(player.AvatarHash)
	}

	p.label = player.Name
	if isLocal {
		p.host.SetLabel(false, p.label)
		if !showLocalBody {
			p.setRenderers(false)
		}
	} else {
		p.host.SetLabel(true, p.label)
		p.setRenderers(true)
	}

	p.interp.SetTarget(player.Sample(), offset)
	if p.interp.ForceImmediate {
		p.host.SetPosition(p.interp.Displayed().Head.Position)
	}
}

// Tick advances the displayed pose by dt seconds. tickRate is the rate in Hz
// at which player states are expected.
func (p *Participant) Tick(dt, tickRate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed || p.interp.ForceImmediate {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(fmt.Errorf("%v", r), "unable to move participant")
		}
	}()
	p.host.SetPosition(p.interp.Tick(dt, tickRate))
}

// Destroy releases the displayed body. The participant ignores every call
// afterwards.
func (p *Participant) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	p.destroyed = true
	if p.body != nil {
		p.body.Destroy()
		p.body = nil
		p.bodyHash = ""
	}
}

// Displayed returns the pose currently shown.
func (p *Participant) Displayed() interp.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interp.Displayed()
}

// DesiredHash returns the hash of the most recently requested avatar.
func (p *Participant) DesiredHash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desired
}

// BodyHash returns the hash of the avatar currently shown.
func (p *Participant) BodyHash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bodyHash
}

// request asks the cache for hash. Must be called with mu held.
func (p *Participant) request(hash string) {
	p.desired = hash
	if hash == p.bodyHash {
		return
	}

	a, ok := p.cache.Resolve(hash, p.resolved)
	if !ok {
		p.logger.V(1).Info("waiting for avatar", "hash", hash)
		return
	}
	if a == nil {
		p.logger.V(1).Info("avatar unavailable, keeping current body", "hash", hash)
		return
	}
	p.swap(a)
}

// resolved is called by the cache once hash completes.
func (p *Participant) resolved(hash string, a *avatar.Avatar) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.destroyed, hash == p.bodyHash:
		return
	case hash != p.desired:
		p.logger.V(1).Info("ignoring stale avatar", "hash", hash, "desired", p.desired)
		return
	case a == nil:
		p.logger.V(1).Info("avatar unavailable, keeping current body", "hash", hash)
		return
	}
	p.swap(a)
}

// swap replaces the body with one showing a. Must be called with mu held.
func (p *Participant) swap(a *avatar.Avatar) {
	body, err := p.host.Spawn(a)
	if err != nil {
		p.logger.Error(err, "unable to spawn avatar", "hash", a.Hash, "name", a.Name)
		return
	}
	if p.body != nil {
		p.body.Destroy()
	}
	p.body = body
	p.bodyHash = a.Hash
	p.body.SetRenderersEnabled(p.rendererEnabled)
}

// setRenderers must be called with mu held.
func (p *Participant) setRenderers(enabled bool) {
	if p.rendererEnabled == enabled {
		return
	}
	p.rendererEnabled = enabled
	if p.body != nil {
		p.body.SetRenderersEnabled(enabled)
	}
}
