package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/mieweb/pulse-desktop/lib/logger"
)

const (
	micSampleRate = 48000
	micChannels   = 1
	// 20 ms of S16LE mono at 48 kHz
	micChunkSamples = 960
	micChunkBytes   = micChunkSamples * 2
)

// MicSource captures microphone audio as S16LE 48 kHz mono PCM via an ffmpeg
// pulse/avfoundation input. It is started at pre-initialize time and runs
// until stopped; the capture session discards its samples while idle.
type MicSource struct {
	mu sync.Mutex

	binaryPath string
	deviceID   string

	cmd      *exec.Cmd
	exitCode int
	exited   chan struct{}
}

func NewMicSource(binaryPath, deviceID string) *MicSource {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &MicSource{
		binaryPath: binaryPath,
		deviceID:   deviceID,
		exitCode:   exitCodeInitValue,
	}
}

// Start launches the audio capture process and delivers PCM chunks to fn.
func (m *MicSource) Start(ctx context.Context, fn SampleFunc) error {
	log := logger.FromContext(ctx)

	m.mu.Lock()
	if m.cmd != nil {
		m.mu.Unlock()
		return fmt.Errorf("audio capture already running")
	}

	args, err := micArgs(m.deviceID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	cmd := exec.Command(m.binaryPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to open audio pipe: %w", err)
	}

	m.exitCode = exitCodeInitValue
	m.exited = make(chan struct{})
	m.cmd = cmd
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		m.mu.Lock()
		m.cmd = nil
		close(m.exited)
		m.mu.Unlock()
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	go m.readChunks(ctx, stdout, fn)
	go m.waitForCommand(ctx)

	log.Info("audio capture running", "device", m.deviceID)
	return nil
}

func (m *MicSource) readChunks(ctx context.Context, r io.Reader, fn SampleFunc) {
	log := logger.FromContext(ctx)

	chunkDur := time.Second * micChunkSamples / micSampleRate
	buf := make([]byte, micChunkBytes)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				log.Warn("audio capture read failed", "err", err)
			}
			return
		}
		chunk := make([]byte, micChunkBytes)
		copy(chunk, buf)
		// the chunk completed delivery now; its presentation time starts one
		// chunk earlier
		fn(Sample{Kind: TrackAudio, Data: chunk, PTS: nativeNow() - chunkDur, Duration: chunkDur})
	}
}

// Stop terminates the audio capture process.
func (m *MicSource) Stop(ctx context.Context) error {
	m.mu.Lock()
	cmd := m.cmd
	exited := m.exited
	exitCode := m.exitCode
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if exitCode >= exitCodeProcessDoneMinValue {
		return nil
	}

	err := shutdownProcessGroup(ctx, cmd, exited, []shutdownPhase{
		{signal: syscall.SIGINT, timeout: time.Second},
		{signal: syscall.SIGKILL, timeout: 500 * time.Millisecond},
	})

	m.mu.Lock()
	m.cmd = nil
	m.mu.Unlock()

	return err
}

func (m *MicSource) waitForCommand(ctx context.Context) {
	log := logger.FromContext(ctx)

	err := m.cmd.Wait()

	m.mu.Lock()
	m.exitCode = m.cmd.ProcessState.ExitCode()
	close(m.exited)
	m.mu.Unlock()

	if err != nil {
		log.Info("audio capture process exited", "err", err)
	}
}

func micArgs(deviceID string) ([]string, error) {
	input := deviceID
	switch runtime.GOOS {
	case "linux":
		if input == "" {
			input = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse",
			"-i", input,
			"-ac", fmt.Sprintf("%d", micChannels),
			"-ar", fmt.Sprintf("%d", micSampleRate),
			"-f", "s16le",
			"pipe:1",
		}, nil
	case "darwin":
		if input == "" {
			input = ":default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation",
			"-i", input,
			"-ac", fmt.Sprintf("%d", micChannels),
			"-ar", fmt.Sprintf("%d", micSampleRate),
			"-f", "s16le",
			"pipe:1",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
