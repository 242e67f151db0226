package player

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrDuplicateIntegration is returned when an integration is registered under
// a short name that is already taken.
var ErrDuplicateIntegration = errors.New("integration already registered")

// Integration is a playback consumer registered with the hub. Load is called
// once when the integration is added; Unload at most once when it is removed.
// Reloading after unload is not supported.
type Integration interface {
	// Name returns the unique short name of the integration.
	Name() string
	// Load subscribes the integration to hub events and brings up any
	// backing transport.
	Load() error
	// Unload releases the integration's resources.
	Unload() error
}

// AddIntegration registers an integration by its short name and triggers its
// Load in the background. A load failure is isolated to that integration: it
// is logged, counted in the aggregate load report, and never blocks other
// integrations or the hub.
func (p *Player) AddIntegration(integration Integration) error {
	name := integration.Name()

	p.mu.Lock()
	if _, exists := p.integrations[name]; exists {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateIntegration, name)
	}
	p.integrations[name] = integration
	p.mu.Unlock()

	p.log.Debug("adding integration", zap.String("integration", name))

	p.loads.mu.Lock()
	p.loads.pending++
	p.loads.mu.Unlock()

	go func() {
		err := integration.Load()
		if err != nil {
			p.log.Error("integration load failed",
				zap.String("integration", name), zap.Error(err))
		}

		p.loads.mu.Lock()
		p.loads.pending--
		if err != nil {
			p.loads.failed++
		}
		done := p.loads.pending == 0
		failed := p.loads.failed
		p.loads.mu.Unlock()

		if done {
			if failed == 0 {
				p.log.Info("all integrations loaded")
			} else {
				p.log.Error("integrations finished loading with failures",
					zap.Int("failed", failed))
			}
		}
	}()

	return nil
}

// RemoveIntegration unloads and deregisters the named integration. An unload
// failure is logged but the integration is removed regardless.
func (p *Player) RemoveIntegration(name string) {
	p.mu.Lock()
	integration, ok := p.integrations[name]
	delete(p.integrations, name)
	p.mu.Unlock()

	if !ok {
		return
	}

	if err := integration.Unload(); err != nil {
		p.log.Warn("integration unload failed",
			zap.String("integration", name), zap.Error(err))
	}
}

// HasIntegration reports whether an integration is registered under name.
func (p *Player) HasIntegration(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.integrations[name]
	return ok
}
