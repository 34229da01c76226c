package capture

import (
	"context"

	"github.com/mieweb/pulse-desktop/lib/encoder"
	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
)

// NewPlatformSession builds a Session backed by the platform capture
// primitives and the libav encoder sink. Microphone selection follows the
// config's device id, falling back to the built-in microphone, then the
// default input; with no usable device the session records without audio.
func NewPlatformSession(ctx context.Context, cfg media.RecordingConfig, ffmpegPath string) (*Session, error) {
	log := logger.FromContext(ctx)

	var audio media.AudioSource
	if cfg.CaptureMic {
		devices, err := media.ListAudioDevices(ctx)
		if err != nil {
			log.Warn("failed to enumerate audio devices, recording without audio", "err", err)
		}
		if device, ok := media.PickDevice(ctx, devices, cfg.MicDeviceID); ok {
			cfg.MicDeviceID = device.ID
			audio = media.NewMicSource(ffmpegPath, device.ID)
		} else {
			cfg.CaptureMic = false
		}
	}

	screen := media.NewGrabber(ffmpegPath, cfg)
	return NewSession(cfg, screen, audio, func(c media.RecordingConfig) SampleSink {
		return encoder.NewSink(c)
	}), nil
}
