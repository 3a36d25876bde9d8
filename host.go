package main

import (
	"errors"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-logr/logr"

	"avatarsync.dev/client/avatar"
	"avatarsync.dev/client/participant"
)

// headlessHost stands in for the scene object of one player. It keeps the
// last transform and label and logs every change.
type headlessHost struct {
	logger logr.Logger

	mu           sync.Mutex
	position     mgl64.Vec3
	label        string
	labelVisible bool
}

func newHeadlessHost(logger logr.Logger) *headlessHost {
	return &headlessHost{logger: logger}
}

func (h *headlessHost) Spawn(a *avatar.Avatar) (participant.Body, error) {
	if len(a.Bytes()) == 0 {
		return nil, errors.New("avatar is not loaded")
	}
	h.logger.V(1).Info("spawned avatar", "hash", a.Hash, "name", a.Name)
	return &headlessBody{logger: h.logger.WithValues("avatar", a.Name), enabled: true}, nil
}

func (h *headlessHost) SetLabel(visible bool, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.labelVisible == visible && h.label == text {
		return
	}
	h.labelVisible, h.label = visible, text
	h.logger.V(1).Info("label changed", "visible", visible, "text", text)
}

func (h *headlessHost) SetPosition(p mgl64.Vec3) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.position = p
	h.logger.V(2).Info("moved", "x", p.X(), "y", p.Y(), "z", p.Z())
}

func (h *headlessHost) Position() mgl64.Vec3 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

type headlessBody struct {
	logger  logr.Logger
	enabled bool
}

func (b *headlessBody) SetRenderersEnabled(enabled bool) {
	if b.enabled != enabled {
		b.enabled = enabled
		b.logger.V(1).Info("renderers toggled", "enabled", enabled)
	}
}

func (b *headlessBody) Destroy() {
	b.logger.V(1).Info("destroyed avatar")
}
