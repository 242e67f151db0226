//go:build !linux

package mpris

import (
	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/player"
)

// Adapter is a no-op on non-Linux platforms.
type Adapter struct{}

// New returns a no-op adapter on non-Linux platforms.
func New(_ *player.Player, _ *zap.Logger) *Adapter {
	return &Adapter{}
}

// Name implements player.Integration.
func (a *Adapter) Name() string { return "mpris" }

// Load is a no-op on non-Linux platforms.
func (a *Adapter) Load() error { return nil }

// Unload is a no-op on non-Linux platforms.
func (a *Adapter) Unload() error { return nil }
