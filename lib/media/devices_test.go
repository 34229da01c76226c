package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pactlOutput = "" +
	"0\talsa_output.pci-0000_00_1f.3.analog-stereo.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tIDLE\n" +
	"1\talsa_input.pci-0000_00_1f.3.analog-stereo\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n" +
	"2\talsa_input.usb-Blue_Microphones_Yeti-00.analog-stereo\tmodule-alsa-card.c\ts16le 2ch 48000Hz\tRUNNING\n"

func TestParseSources(t *testing.T) {
	devices := parseSources(pactlOutput, "alsa_input.usb-Blue_Microphones_Yeti-00.analog-stereo")

	require.Len(t, devices, 2) // monitor excluded

	assert.Equal(t, "alsa_input.pci-0000_00_1f.3.analog-stereo", devices[0].ID)
	assert.True(t, devices[0].IsBuiltin)
	assert.False(t, devices[0].IsDefault)

	assert.False(t, devices[1].IsBuiltin) // usb device
	assert.True(t, devices[1].IsDefault)
}

func TestPickDevice(t *testing.T) {
	devices := parseSources(pactlOutput, "alsa_input.usb-Blue_Microphones_Yeti-00.analog-stereo")

	t.Run("explicit id wins", func(t *testing.T) {
		d, ok := PickDevice(t.Context(), devices, "alsa_input.usb-Blue_Microphones_Yeti-00.analog-stereo")
		require.True(t, ok)
		assert.Equal(t, "alsa_input.usb-Blue_Microphones_Yeti-00.analog-stereo", d.ID)
	})

	t.Run("missing explicit id falls back to builtin", func(t *testing.T) {
		d, ok := PickDevice(t.Context(), devices, "alsa_input.gone")
		require.True(t, ok)
		assert.True(t, d.IsBuiltin)
	})

	t.Run("prefers builtin over default", func(t *testing.T) {
		d, ok := PickDevice(t.Context(), devices, "")
		require.True(t, ok)
		assert.Equal(t, "alsa_input.pci-0000_00_1f.3.analog-stereo", d.ID)
	})

	t.Run("default when no builtin", func(t *testing.T) {
		usbOnly := []Device{{ID: "usb-1", IsDefault: false}, {ID: "usb-2", IsDefault: true}}
		d, ok := PickDevice(t.Context(), usbOnly, "")
		require.True(t, ok)
		assert.Equal(t, "usb-2", d.ID)
	})

	t.Run("no devices", func(t *testing.T) {
		_, ok := PickDevice(t.Context(), nil, "")
		assert.False(t, ok)
	})
}
