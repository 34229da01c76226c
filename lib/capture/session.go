// Package capture owns the recording pipeline: a Session wires the screen and
// microphone sources through the timestamp normalizer into the encoder sink,
// and the pre-init Manager keeps a warm Session around so starting a
// recording is a single stream start.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
)

// SessionState tracks a session through its lifecycle.
type SessionState int32

const (
	StateCreated SessionState = iota
	StatePreInitialized
	StateRecording
	StateStopping
	StateFinalized
)

// SampleSink is the session's view of the MP4 writer.
type SampleSink interface {
	Open() error
	WriteVideo(media.Sample) error
	WriteAudio(media.Sample) error
	Finalize() error
}

// SinkFactory builds the sink once the output path is known.
type SinkFactory func(cfg media.RecordingConfig) SampleSink

// Session owns one screen stream and optionally one audio stream for a single
// recording. Created by the pre-init Manager, started and stopped by the
// coordinator, destroyed after finalization.
type Session struct {
	id      string
	cfg     media.RecordingConfig
	screen  media.ScreenSource
	audio   media.AudioSource // nil when the microphone is disabled or absent
	newSink SinkFactory
	norm    *media.Normalizer

	state       atomic.Int32
	isRecording atomic.Bool

	mu        sync.Mutex
	sink      SampleSink
	startWall time.Time
	ctx       context.Context
}

func NewSession(cfg media.RecordingConfig, screen media.ScreenSource, audio media.AudioSource, newSink SinkFactory) *Session {
	return &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		screen:  screen,
		audio:   audio,
		newSink: newSink,
		norm:    media.NewNormalizer(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) Config() media.RecordingConfig { return s.cfg }

// PreInitialize performs all the slow pipeline setup: prepares the screen
// stream and starts the audio capture running. Audio samples delivered before
// Start are discarded.
func (s *Session) PreInitialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StatePreInitialized)) {
		return fmt.Errorf("session already pre-initialized")
	}

	s.mu.Lock()
	s.ctx = logger.With(context.WithoutCancel(ctx), "session_id", s.id)
	s.mu.Unlock()

	if err := s.screen.Prepare(ctx); err != nil {
		s.state.Store(int32(StateCreated))
		return fmt.Errorf("failed to prepare screen capture: %w", err)
	}
	if s.audio != nil {
		if err := s.audio.Start(ctx, s.onAudioSample); err != nil {
			s.state.Store(int32(StateCreated))
			return fmt.Errorf("failed to start audio capture: %w", err)
		}
	}
	return nil
}

// Start opens the encoder for outputPath and begins the screen stream.
// PreInitialize must have completed. The recording flag is set before the
// stream starts so the first audio buffer, which may arrive immediately, is
// not dropped.
func (s *Session) Start(ctx context.Context, outputPath string) error {
	if !s.state.CompareAndSwap(int32(StatePreInitialized), int32(StateRecording)) {
		return fmt.Errorf("session is not pre-initialized")
	}

	cfg := s.cfg
	cfg.OutputPath = outputPath
	sink := s.newSink(cfg)
	if err := sink.Open(); err != nil {
		s.state.Store(int32(StatePreInitialized))
		return fmt.Errorf("failed to open encoder: %w", err)
	}

	s.mu.Lock()
	s.sink = sink
	s.cfg.OutputPath = outputPath
	s.startWall = time.Now()
	s.mu.Unlock()

	s.norm.Reset()
	s.isRecording.Store(true)

	if err := s.screen.Start(ctx, s.onVideoSample); err != nil {
		s.isRecording.Store(false)
		_ = sink.Finalize()
		s.state.Store(int32(StatePreInitialized))
		return fmt.Errorf("failed to start screen stream: %w", err)
	}

	return nil
}

// Stop ends the recording: stops the streams, finalizes the MP4 and returns
// the output path and the wall-clock duration. Samples may still be in flight
// when stop is called, so duration comes from the start wall clock rather
// than the last encoded timestamp.
func (s *Session) Stop(ctx context.Context) (string, time.Duration, error) {
	log := logger.FromContext(ctx)

	if !s.state.CompareAndSwap(int32(StateRecording), int32(StateStopping)) {
		return "", 0, fmt.Errorf("session is not recording")
	}

	if err := s.screen.Stop(ctx); err != nil {
		log.Warn("screen stream did not stop cleanly", "err", err, "session_id", s.id)
	}
	if s.audio != nil {
		if err := s.audio.Stop(ctx); err != nil {
			log.Warn("audio stream did not stop cleanly", "err", err, "session_id", s.id)
		}
	}

	s.isRecording.Store(false)

	s.mu.Lock()
	sink := s.sink
	path := s.cfg.OutputPath
	duration := time.Since(s.startWall)
	s.mu.Unlock()

	err := sink.Finalize()
	s.state.Store(int32(StateFinalized))
	if err != nil {
		return path, duration, fmt.Errorf("failed to finalize recording: %w", err)
	}
	return path, duration, nil
}

// Close tears the pipeline down without recording. Used when a pre-initialized
// session is invalidated or idle-shut-down.
func (s *Session) Close(ctx context.Context) error {
	s.isRecording.Store(false)
	s.state.Store(int32(StateFinalized))

	var errs []error
	if err := s.screen.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.audio != nil {
		if err := s.audio.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close session: %v", errs)
	}
	return nil
}

// Duration reports wall-clock elapsed while recording, zero otherwise; the
// durable value lives in the timeline entry.
func (s *Session) Duration() time.Duration {
	if s.State() != StateRecording {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startWall)
}

func (s *Session) onVideoSample(sample media.Sample) {
	if !s.isRecording.Load() {
		return
	}

	rebased, err := s.norm.Rebase(sample)
	if err != nil {
		logger.FromContext(s.loggingContext()).Warn("dropping video sample", "err", err)
		return
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.WriteVideo(rebased); err != nil {
		logger.FromContext(s.loggingContext()).Warn("failed to encode video sample", "err", err)
	}
}

func (s *Session) onAudioSample(sample media.Sample) {
	// the audio capture runs from pre-init onward; discard until recording
	if !s.isRecording.Load() {
		return
	}

	rebased, err := s.norm.Rebase(sample)
	if err != nil {
		logger.FromContext(s.loggingContext()).Warn("dropping audio sample", "err", err)
		return
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.WriteAudio(rebased); err != nil {
		logger.FromContext(s.loggingContext()).Warn("failed to encode audio sample", "err", err)
	}
}

func (s *Session) loggingContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
