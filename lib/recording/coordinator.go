// Package recording turns global hotkey press/release gestures into
// completed recordings. The coordinator enforces at-most-one active
// recording, pauses the filesystem watcher for the duration of each capture,
// and writes the timeline entry once the clip is finalized.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/mieweb/pulse-desktop/lib/capture"
	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
	"github.com/mieweb/pulse-desktop/lib/project"
	"github.com/mieweb/pulse-desktop/lib/timeline"
)

// startBudget is the hot-path latency target from key press to a running
// stream. Exceeding it is not a failure, but the user is owed an explanation.
const startBudget = 100 * time.Millisecond

// Error codes carried by recording-error events.
const (
	CodeProjectRequired    = "project-required"
	CodeStartFailed        = "start-failed"
	CodeFinalizationFailed = "finalization-failed"
	CodeTimelineWrite      = "timeline-write-failed"
)

// SessionProvider is the coordinator's view of the pre-init manager.
type SessionProvider interface {
	Take(ctx context.Context) (*capture.Session, bool)
	Initialize(ctx context.Context) error
	Config() media.RecordingConfig
}

// WatcherControl pauses and resumes the filesystem watcher around recordings.
type WatcherControl interface {
	Pause()
	Resume()
}

// inflight is the state of one recording between its press and the end of its
// background finalization.
type inflight struct {
	session   *capture.Session
	dir       string
	path      string
	startedAt time.Time

	// closed once the press handler's start attempt has completed either way
	startDone chan struct{}
	startErr  error

	// closed when background finalization has fully completed
	finalized chan struct{}
}

// Coordinator consumes hotkey events and drives the recording lifecycle.
type Coordinator struct {
	ctx          context.Context
	bus          *events.Bus
	preinit      SessionProvider
	buildSession capture.SessionFactory
	store        *timeline.Store
	watch        WatcherControl
	projects     *project.Manager

	// at-most-one invariant: hotkey handlers CAS this flag, which doubles as
	// debounce against OS key auto-repeat
	isRecording atomic.Bool

	mu     sync.Mutex
	active *inflight
}

func New(ctx context.Context, bus *events.Bus, preinit SessionProvider, buildSession capture.SessionFactory, store *timeline.Store, watch WatcherControl, projects *project.Manager) *Coordinator {
	return &Coordinator{
		ctx:          context.WithoutCancel(ctx),
		bus:          bus,
		preinit:      preinit,
		buildSession: buildSession,
		store:        store,
		watch:        watch,
		projects:     projects,
	}
}

// IsRecording reports whether a recording is currently active.
func (c *Coordinator) IsRecording() bool {
	return c.isRecording.Load()
}

// OnPressed is the hotkey press callback. It may be invoked from any thread;
// repeated presses (key auto-repeat) lose the CAS and are dropped.
func (c *Coordinator) OnPressed() {
	if !c.isRecording.CompareAndSwap(false, true) {
		return
	}

	// the UI must flip to "recording" before any slower work happens; an
	// intermediate "preparing" state could arrive out of order on rapid
	// re-press
	c.bus.EmitStatus(c.ctx, events.StatusRecording)

	rec := &inflight{
		startDone: make(chan struct{}),
		finalized: make(chan struct{}),
		startedAt: time.Now(),
	}
	c.mu.Lock()
	c.active = rec
	c.mu.Unlock()

	go c.startRecording(rec)
}

// OnReleased is the hotkey release callback. A release that arrives while the
// start is still in flight is not lost: the flag was set before the stream
// start, so the CAS succeeds and the stop runs as soon as start completes.
func (c *Coordinator) OnReleased() {
	if !c.isRecording.CompareAndSwap(true, false) {
		return
	}

	// emit Idle synchronously, before background finalization: a delayed
	// transition can be overtaken by the next press's Recording event,
	// pinning the UI to a stale state
	c.bus.EmitStatus(c.ctx, events.StatusIdle)

	c.mu.Lock()
	rec := c.active
	c.active = nil
	c.mu.Unlock()
	if rec == nil {
		return
	}

	go c.finishRecording(rec)
}

func (c *Coordinator) startRecording(rec *inflight) {
	log := logger.FromContext(c.ctx)

	c.watch.Pause()

	fail := func(err error, code string) {
		rec.startErr = err
		c.watch.Resume()
		// release may already have taken the flag; only clear it if this
		// press still owns it
		c.isRecording.CompareAndSwap(true, false)
		c.mu.Lock()
		if c.active == rec {
			c.active = nil
		}
		c.mu.Unlock()
		c.bus.EmitStatus(c.ctx, events.StatusError)
		c.bus.EmitError(c.ctx, code, err.Error())
		close(rec.startDone)
		close(rec.finalized)
	}

	dir, name, ok := c.projects.CurrentDir()
	if !ok {
		c.bus.Emit(c.ctx, events.Event{Type: events.ProjectRequired})
		fail(fmt.Errorf("no active project"), CodeProjectRequired)
		return
	}
	rec.dir = dir

	session, warm := c.preinit.Take(c.ctx)
	if !warm {
		// slow path: build on demand and own the delay honestly
		coldStart := time.Now()
		var err error
		session, err = c.buildSession(c.ctx, c.preinit.Config())
		if err == nil {
			err = session.PreInitialize(c.ctx)
		}
		if err != nil {
			fail(fmt.Errorf("failed to build capture session: %w", err), CodeStartFailed)
			return
		}
		log.Warn("sorry, the capture pipeline was not pre-initialized; the start of this clip is missing",
			"delay", time.Since(coldStart), "project", name)
	}
	rec.session = session

	path, err := NextOutputPath(dir)
	if err != nil {
		_ = session.Close(c.ctx)
		fail(fmt.Errorf("failed to pick output path: %w", err), CodeStartFailed)
		return
	}
	rec.path = path

	if err := session.Start(c.ctx, path); err != nil {
		_ = session.Close(c.ctx)
		fail(fmt.Errorf("failed to start recording: %w", err), CodeStartFailed)
		return
	}

	if elapsed := time.Since(rec.startedAt); elapsed > startBudget {
		log.Warn("sorry, recording start exceeded its latency budget; the first moments may be missing",
			"elapsed", elapsed, "budget", startBudget)
	}

	close(rec.startDone)
}

func (c *Coordinator) finishRecording(rec *inflight) {
	log := logger.FromContext(c.ctx)

	// a release during a slow start wins the CAS immediately but must wait
	// for the start attempt to complete before stopping
	<-rec.startDone
	if rec.startErr != nil {
		// the failed start already resumed the watcher, reported the error
		// and closed rec.finalized
		return
	}
	defer close(rec.finalized)

	// a press during this finalization may already have started the next
	// recording; its pause holds until that recording's own finalization
	resume := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.active == nil {
			c.watch.Resume()
		}
	}

	fail := func(err error, code string) {
		resume()
		c.bus.EmitStatus(c.ctx, events.StatusError)
		c.bus.EmitError(c.ctx, code, err.Error())
	}

	path, duration, err := rec.session.Stop(c.ctx)
	if err != nil {
		// the partial file stays on disk but gets no timeline entry
		log.Error("failed to finalize recording", "err", err, "path", path)
		fail(err, CodeFinalizationFailed)
		return
	}

	sum, err := timeline.Checksum(path)
	if err != nil {
		log.Warn("failed to checksum recording", "err", err, "path", path)
	}

	cfg := rec.session.Config()
	entry := timeline.Entry{
		ID:          cuid2.Generate(),
		Filename:    filepath.Base(path),
		RecordedAt:  rec.startedAt.UTC(),
		DurationMs:  duration.Milliseconds(),
		AspectRatio: timeline.AspectRatioFor(cfg.Width, cfg.Height),
		Resolution:  timeline.Resolution{Width: cfg.Width, Height: cfg.Height},
		MicEnabled:  cfg.CaptureMic,
		Checksum:    sum,
	}
	if err := c.store.Append(rec.dir, filepath.Base(rec.dir), entry); err != nil {
		// the recording exists on disk; the next reconcile will pick it up
		log.Error("failed to write timeline entry", "err", err, "path", path)
		fail(err, CodeTimelineWrite)
		return
	}

	c.bus.Emit(c.ctx, events.Event{Type: events.ClipSaved, Payload: events.ClipSavedPayload{
		Path:       path,
		DurationMs: duration.Milliseconds(),
	}})

	// resume only after ClipSaved is on the wire so the watcher can never
	// observe the in-progress file and double-report it
	resume()

	// warm up the next press
	if err := c.preinit.Initialize(c.ctx); err != nil {
		log.Warn("failed to re-arm capture pipeline", "err", err)
	}

	log.Info("clip saved", "path", path, "duration", duration)
}

// StopAll ends an in-flight recording and waits for its finalization. Used on
// daemon shutdown.
func (c *Coordinator) StopAll(ctx context.Context) error {
	c.mu.Lock()
	rec := c.active
	c.mu.Unlock()

	c.OnReleased()

	if rec == nil {
		return nil
	}
	select {
	case <-rec.finalized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var outputPattern = regexp.MustCompile(`^recording-(\d+)\.mp4$`)

// NextOutputPath scans dir for recording-<N>.mp4 files and returns the path
// one past the maximum N. Gaps are preserved and files are never overwritten.
func NextOutputPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to scan project directory: %w", err)
	}

	maxN := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := outputPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxN {
			maxN = n
		}
	}

	return filepath.Join(dir, fmt.Sprintf("recording-%d.mp4", maxN+1)), nil
}
