// Package hotkey adapts the global push-to-hold hotkey to the coordinator's
// press/release callbacks.
package hotkey

import (
	"context"
	"fmt"

	"golang.design/x/hotkey"

	"github.com/mieweb/pulse-desktop/lib/logger"
)

// Provider delivers global hotkey press and release callbacks. The engine
// consumes these; registration itself belongs to the platform library.
type Provider interface {
	Serve(ctx context.Context) error
}

// Global binds the platform-default push-to-hold combination
// (command/control + shift + R) and forwards key transitions.
type Global struct {
	onPress   func()
	onRelease func()
}

func NewGlobal(onPress, onRelease func()) *Global {
	return &Global{onPress: onPress, onRelease: onRelease}
}

// Serve registers the hotkey and pumps events until ctx is cancelled. It
// implements suture.Service.
func (g *Global) Serve(ctx context.Context) error {
	hk := hotkey.New(defaultModifiers(), hotkey.KeyR)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register global hotkey: %w", err)
	}
	defer func() { _ = hk.Unregister() }()

	logger.FromContext(ctx).Info("global hotkey registered")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hk.Keydown():
			g.onPress()
		case <-hk.Keyup():
			g.onRelease()
		}
	}
}
