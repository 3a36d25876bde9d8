// Package interp smooths discrete, network-delayed pose samples of a remote
// participant into a pose that can be displayed every frame.
//
// Samples arrive at the server tick rate, which is lower and less regular
// than the frame rate. Each new sample starts a new interpolation window from
// the pose currently on screen to the new target, and Tick walks that window
// at the tick rate so the window lasts about one update period.
package interp

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-logr/logr"
)

// Interpolator holds the interpolation state of one participant.
// It is not safe for concurrent use.
type Interpolator struct {
	// ForceImmediate makes SetTarget snap the displayed pose to the target
	// and turns Tick into a no-op.
	ForceImmediate bool

	prev     Sample
	target   Sample
	shown    Sample
	progress float64

	logger logr.Logger
}

// New creates an interpolator resting at the origin.
func New(logger logr.Logger) *Interpolator {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	s := IdentitySample()
	return &Interpolator{
		prev:     s,
		target:   s,
		shown:    s,
		progress: 1,
		logger:   logger,
	}
}

// SetTarget starts a new interpolation window from the currently displayed
// pose to sample. offset is added to the x axis of every position.
func (ip *Interpolator) SetTarget(sample Sample, offset float64) {
	ip.prev = ip.shown
	ip.target = sample.translate(mgl64.Vec3{offset, 0, 0})
	ip.progress = 0

	if ip.ForceImmediate {
		ip.prev = ip.target
		ip.shown = ip.target
		ip.progress = 1
	}
}

// Tick advances the interpolation by dt seconds given the rate, in Hz, at
// which samples are expected to arrive, and returns the displayed head
// position.
//
// When samples arrive less often than frames are drawn the window is walked
// at the tick rate. Otherwise the target is shown directly. A frame that
// fails to compute keeps the previously displayed pose.
func (ip *Interpolator) Tick(dt, tickRate float64) (head mgl64.Vec3) {
	head = ip.shown.Head.Position
	if ip.ForceImmediate {
		return head
	}

	defer func() {
		if r := recover(); r != nil {
			ip.logger.Error(fmt.Errorf("%v", r), "unable to interpolate pose")
			head = ip.shown.Head.Position
		}
	}()

	progress := ip.progress
	switch {
	case dt <= 0:
	case tickRate > 0 && tickRate < 1/dt:
		progress += dt * tickRate
	default:
		progress = 1
	}
	progress = min(max(progress, 0), 1)

	next := lerpSample(ip.prev, ip.target, progress)
	if !next.finite() {
		ip.logger.Error(fmt.Errorf("non-finite pose at progress %v", progress), "unable to interpolate pose")
		return head
	}

	ip.progress = progress
	ip.shown = next
	return ip.shown.Head.Position
}

// Progress returns how far the current window has been walked, in [0,1].
func (ip *Interpolator) Progress() float64 { return ip.progress }

// Displayed returns the pose currently on screen.
func (ip *Interpolator) Displayed() Sample { return ip.shown }

// Target returns the latest target, offset included.
func (ip *Interpolator) Target() Sample { return ip.target }
