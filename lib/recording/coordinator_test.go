package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mieweb/pulse-desktop/lib/capture"
	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/media"
	"github.com/mieweb/pulse-desktop/lib/project"
	"github.com/mieweb/pulse-desktop/lib/timeline"
	"github.com/mieweb/pulse-desktop/lib/watcher"
)

type fakeScreen struct {
	mu        sync.Mutex
	fn        media.SampleFunc
	startGate chan struct{} // when non-nil, Start blocks until closed
}

func (f *fakeScreen) Prepare(ctx context.Context) error { return nil }

func (f *fakeScreen) Start(ctx context.Context, fn media.SampleFunc) error {
	f.mu.Lock()
	gate := f.startGate
	f.fn = fn
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeScreen) Stop(ctx context.Context) error { return nil }

// fileSink writes a stub MP4 so checksum and reconcile paths operate on real
// files.
type fileSink struct {
	cfg media.RecordingConfig
}

func (f *fileSink) Open() error {
	return os.WriteFile(f.cfg.OutputPath, []byte("stub-"+f.cfg.OutputPath), 0o644)
}

func (f *fileSink) WriteVideo(media.Sample) error { return nil }
func (f *fileSink) WriteAudio(media.Sample) error { return nil }
func (f *fileSink) Finalize() error               { return nil }

type harness struct {
	coord    *Coordinator
	bus      *events.Bus
	watch    *watcher.Watcher
	projects *project.Manager
	store    *timeline.Store
	dir      string
	events   <-chan events.Event

	mu     sync.Mutex
	screen *fakeScreen // most recently built screen
}

func newHarness(t *testing.T, withProject bool) *harness {
	t.Helper()

	root := t.TempDir()
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	h := &harness{bus: bus, events: ch, store: timeline.NewStore()}

	factory := func(ctx context.Context, cfg media.RecordingConfig) (*capture.Session, error) {
		screen := &fakeScreen{}
		h.mu.Lock()
		h.screen = screen
		h.mu.Unlock()
		return capture.NewSession(cfg, screen, nil, func(c media.RecordingConfig) capture.SampleSink {
			return &fileSink{cfg: c}
		}), nil
	}

	cfg := media.RecordingConfig{Width: 1920, Height: 1080, FPS: 30, Quality: 80}
	pm := capture.NewManager(factory, bus, cfg, time.Minute)
	require.NoError(t, pm.Initialize(t.Context()))

	h.watch = watcher.New(root, bus)
	h.projects = project.NewManager(root, "")
	if withProject {
		require.NoError(t, h.projects.Create("demo"))
		require.NoError(t, h.projects.SetCurrent("demo"))
		h.dir = h.projects.Dir("demo")
	}

	h.coord = New(t.Context(), bus, pm, factory, h.store, h.watch, h.projects)
	return h
}

// waitFor drains the event channel until an event of the wanted type arrives.
func (h *harness) waitFor(t *testing.T, want events.Type) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func (h *harness) record(t *testing.T, hold time.Duration) events.ClipSavedPayload {
	t.Helper()
	h.coord.OnPressed()
	time.Sleep(hold)
	h.coord.OnReleased()
	ev := h.waitFor(t, events.ClipSaved)
	return ev.Payload.(events.ClipSavedPayload)
}

func TestCoordinator_ShortRecording(t *testing.T) {
	h := newHarness(t, true)

	saved := h.record(t, 50*time.Millisecond)
	assert.Equal(t, filepath.Join(h.dir, "recording-1.mp4"), saved.Path)
	assert.GreaterOrEqual(t, saved.DurationMs, int64(30))

	_, err := os.Stat(saved.Path)
	require.NoError(t, err)

	tl, err := h.store.Load(h.dir, "demo")
	require.NoError(t, err)
	require.Len(t, tl.Entries, 1)
	assert.Equal(t, "recording-1.mp4", tl.Entries[0].Filename)
	assert.Equal(t, saved.DurationMs, tl.Entries[0].DurationMs)
	assert.NotEmpty(t, tl.Entries[0].Checksum)
	assert.Equal(t, "16:9", tl.Entries[0].AspectRatio)

	// the watcher must be re-enabled after the save completed; the resume
	// follows the ClipSaved emission
	require.Eventually(t, h.watch.Enabled, time.Second, time.Millisecond)
	assert.False(t, h.coord.IsRecording())
}

func TestCoordinator_AutoRepeatPressesCollapse(t *testing.T) {
	h := newHarness(t, true)

	for i := 0; i < 20; i++ {
		h.coord.OnPressed()
	}
	time.Sleep(50 * time.Millisecond)
	h.coord.OnReleased()
	h.waitFor(t, events.ClipSaved)

	tl, err := h.store.Load(h.dir, "demo")
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 1)
}

func TestCoordinator_SequentialRecordingsNumberUpward(t *testing.T) {
	h := newHarness(t, true)

	for i := 1; i <= 3; i++ {
		saved := h.record(t, 20*time.Millisecond)
		assert.Equal(t, filepath.Join(h.dir, fmt.Sprintf("recording-%d.mp4", i)), saved.Path)
	}

	tl, err := h.store.Load(h.dir, "demo")
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 3)
}

func TestCoordinator_StatusOrderSurvivesRapidRepress(t *testing.T) {
	h := newHarness(t, true)

	var statuses []string
	done := make(chan struct{})
	clipSaves := 0
	go func() {
		defer close(done)
		for ev := range h.events {
			switch ev.Type {
			case events.RecordingStatus:
				statuses = append(statuses, ev.Payload.(string))
			case events.ClipSaved:
				clipSaves++
				if clipSaves == 3 {
					return
				}
			}
		}
	}()

	for i := 0; i < 3; i++ {
		h.coord.OnPressed()
		time.Sleep(30 * time.Millisecond)
		h.coord.OnReleased()
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for three clip saves")
	}

	require.Len(t, statuses, 6)
	for i := 0; i < 6; i += 2 {
		assert.Equal(t, events.StatusRecording, statuses[i])
		assert.Equal(t, events.StatusIdle, statuses[i+1])
	}
}

func TestCoordinator_NoProjectEmitsProjectRequired(t *testing.T) {
	h := newHarness(t, false)

	h.coord.OnPressed()
	h.waitFor(t, events.ProjectRequired)
	h.waitFor(t, events.RecordingError)

	require.Eventually(t, func() bool { return !h.coord.IsRecording() }, time.Second, 10*time.Millisecond)
	assert.True(t, h.watch.Enabled())
}

func TestCoordinator_WatcherPausedWhileRecording(t *testing.T) {
	h := newHarness(t, true)

	h.coord.OnPressed()
	require.Eventually(t, func() bool { return !h.watch.Enabled() }, time.Second, time.Millisecond)

	h.coord.OnReleased()
	h.waitFor(t, events.ClipSaved)
	require.Eventually(t, func() bool { return h.watch.Enabled() }, time.Second, time.Millisecond)
}

func TestCoordinator_ReleaseDuringSlowStart(t *testing.T) {
	h := newHarness(t, true)

	// make the warm session's stream start hang
	h.mu.Lock()
	gate := make(chan struct{})
	h.screen.startGate = gate
	h.mu.Unlock()

	h.coord.OnPressed()
	time.Sleep(20 * time.Millisecond)
	h.coord.OnReleased()

	// the release already flipped the flag even though start is in flight
	require.False(t, h.coord.IsRecording())

	close(gate)
	saved := h.waitFor(t, events.ClipSaved)
	assert.Equal(t, filepath.Join(h.dir, "recording-1.mp4"), saved.Path)

	tl, err := h.store.Load(h.dir, "demo")
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 1)
}

func TestCoordinator_StopAllFinalizesInFlightRecording(t *testing.T) {
	h := newHarness(t, true)

	h.coord.OnPressed()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.coord.StopAll(t.Context()))

	tl, err := h.store.Load(h.dir, "demo")
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 1)
}

func TestNextOutputPath(t *testing.T) {
	dir := t.TempDir()

	path, err := NextOutputPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording-1.mp4"), path)

	for _, name := range []string{"recording-1.mp4", "recording-2.mp4", "recording-4.mp4", "my-clip.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	// gaps are preserved, foreign names ignored
	path, err = NextOutputPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording-5.mp4"), path)
}
