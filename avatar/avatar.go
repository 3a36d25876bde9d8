package avatar

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when the lookup service does not know a hash.
	ErrNotFound = errors.New("avatar not found")
	// ErrStalled is returned when a download made no progress in time.
	ErrStalled = errors.New("download stalled")
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("avatar cache closed")
)

// Avatar is a visual avatar backed by a local file and identified by the
// content hash of that file.
type Avatar struct {
	Hash string
	Name string
	Path string

	data []byte
}

// NewAvatar creates an unloaded avatar for the file at path.
func NewAvatar(hash, path string) *Avatar {
	return &Avatar{
		Hash: hash,
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}
}

// Bytes returns the loaded contents, or nil before the avatar was loaded.
func (a *Avatar) Bytes() []byte { return a.data }

// Phase is the step an entry is currently in.
type Phase int

const (
	PhaseKnown Phase = iota
	PhaseQueued
	PhaseLookingUp
	PhaseDownloading
	PhaseLoading
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseKnown:
		return "Known"
	case PhaseQueued:
		return "Queued"
	case PhaseLookingUp:
		return "LookingUp"
	case PhaseDownloading:
		return "Downloading"
	case PhaseLoading:
		return "Loading"
	case PhaseDone:
		return "Done"
	}
	return "Unknown"
}
