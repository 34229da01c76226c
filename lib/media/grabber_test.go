package media

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrabArgs(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("args layout asserted for the linux grabber")
	}

	display := 1
	cfg := RecordingConfig{
		Width: 1920, Height: 1080, FPS: 30, Quality: 80,
		CaptureCursor: true,
		DisplayID:     &display,
	}

	args, err := grabArgs(cfg)
	require.NoError(t, err)
	assert.Contains(t, args, "x11grab")
	assert.Contains(t, args, ":1.0")
	assert.Contains(t, args, "1920x1080")
	assert.Contains(t, args, "rawvideo")
	// cursor capture enabled
	for i, a := range args {
		if a == "-draw_mouse" {
			assert.Equal(t, "1", args[i+1])
		}
	}
}

func TestGrabArgs_Region(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("args layout asserted for the linux grabber")
	}

	cfg := RecordingConfig{
		Width: 1280, Height: 720, FPS: 30, Quality: 80,
		Region: &Rect{X: 100, Y: 50, W: 1280, H: 720},
	}

	args, err := grabArgs(cfg)
	require.NoError(t, err)
	assert.Contains(t, args, ":0.0+100,50")
	assert.Contains(t, args, "1280x720")
}

func TestRecordingConfig_Bitrate(t *testing.T) {
	cfg := RecordingConfig{Width: 1920, Height: 1080, FPS: 30, Quality: 80}
	// 1920*1080*3*30/4 at the default quality
	assert.Equal(t, int64(46_656_000), cfg.Bitrate())

	cfg.Quality = 40
	assert.Equal(t, int64(23_328_000), cfg.Bitrate())

	// zero quality falls back to the default
	cfg.Quality = 0
	assert.Equal(t, int64(46_656_000), cfg.Bitrate())
}

func TestRecordingConfig_Validate(t *testing.T) {
	valid := RecordingConfig{Width: 1920, Height: 1080, FPS: 30, Quality: 80}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.FPS = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Width = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Region = &Rect{X: -1, Y: 0, W: 100, H: 100}
	assert.Error(t, bad.Validate())
}
