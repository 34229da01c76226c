package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/samber/lo"
)

// Device describes an audio input device.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	IsBuiltin bool   `json:"is_builtin"`
}

// ListAudioDevices enumerates microphone sources via pactl. Monitor sources
// (loopbacks of output sinks) are excluded.
func ListAudioDevices(ctx context.Context) ([]Device, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio sources: %w", err)
	}
	def, _ := exec.CommandContext(ctx, "pactl", "get-default-source").Output()

	return parseSources(string(out), strings.TrimSpace(string(def))), nil
}

// parseSources parses `pactl list short sources` output. Each line is
// index<TAB>name<TAB>module<TAB>format<TAB>state.
func parseSources(out, defaultID string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if strings.Contains(name, ".monitor") {
			continue
		}
		devices = append(devices, Device{
			ID:        name,
			Name:      name,
			IsDefault: name == defaultID,
			IsBuiltin: isBuiltinSource(name),
		})
	}
	return devices
}

// isBuiltinSource reports whether a source name looks like the machine's
// built-in microphone rather than an external device.
func isBuiltinSource(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "usb") || strings.Contains(lower, "bluez") {
		return false
	}
	return strings.Contains(lower, "analog") || strings.Contains(lower, "built-in") || strings.Contains(lower, "internal")
}

// PickDevice resolves the microphone to record from: an explicit id if given,
// otherwise the built-in microphone, otherwise the default input. The second
// return is false when no usable device exists; the caller continues without
// audio.
func PickDevice(ctx context.Context, devices []Device, explicitID string) (Device, bool) {
	log := logger.FromContext(ctx)

	if explicitID != "" {
		if d, ok := lo.Find(devices, func(d Device) bool { return d.ID == explicitID }); ok {
			return d, true
		}
		log.Warn("configured microphone not present, falling back", "device_id", explicitID)
	}
	if d, ok := lo.Find(devices, func(d Device) bool { return d.IsBuiltin }); ok {
		return d, true
	}
	if d, ok := lo.Find(devices, func(d Device) bool { return d.IsDefault }); ok {
		return d, true
	}
	if len(devices) > 0 {
		return devices[0], true
	}

	log.Warn("no audio input devices available, recording without audio")
	return Device{}, false
}
