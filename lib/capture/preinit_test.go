package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/media"
)

func newTestManager(t *testing.T, factoryErr error) (*Manager, *atomic.Int32) {
	t.Helper()

	builds := &atomic.Int32{}
	factory := func(ctx context.Context, cfg media.RecordingConfig) (*Session, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		builds.Add(1)
		return NewSession(cfg, &fakeScreen{}, &fakeAudio{}, func(c media.RecordingConfig) SampleSink {
			return &fakeSink{}
		}), nil
	}
	return NewManager(factory, events.NewBus(), testConfig(), time.Minute), builds
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	m, builds := newTestManager(t, nil)

	require.NoError(t, m.Initialize(t.Context()))
	require.Equal(t, Ready, m.State())
	require.NoError(t, m.Initialize(t.Context()))
	assert.Equal(t, int32(1), builds.Load())
}

func TestManager_InitializeSurfacesErrorWithoutRetry(t *testing.T) {
	m, _ := newTestManager(t, errors.New("no displays"))

	require.Error(t, m.Initialize(t.Context()))
	assert.Equal(t, NotInitialized, m.State())
}

func TestManager_TakeEmptiesSlot(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.NoError(t, m.Initialize(t.Context()))

	session, ok := m.Take(t.Context())
	require.True(t, ok)
	require.NotNil(t, session)
	assert.Equal(t, StatePreInitialized, session.State())
	assert.Equal(t, NotInitialized, m.State())

	_, ok = m.Take(t.Context())
	assert.False(t, ok)
}

func TestManager_ConfigChangeForcesRebuild(t *testing.T) {
	m, builds := newTestManager(t, nil)
	require.NoError(t, m.Initialize(t.Context()))

	cfg := m.Config()
	cfg.CaptureMic = false
	require.NoError(t, m.SetConfig(t.Context(), cfg))

	assert.Equal(t, Ready, m.State())
	assert.Equal(t, int32(2), builds.Load())
	assert.False(t, m.Config().CaptureMic)
}

func TestManager_UnchangedConfigDoesNotRebuild(t *testing.T) {
	m, builds := newTestManager(t, nil)
	require.NoError(t, m.Initialize(t.Context()))

	require.NoError(t, m.SetConfig(t.Context(), m.Config()))
	assert.Equal(t, int32(1), builds.Load())
}

func TestManager_ToggleShutsDownAndRestores(t *testing.T) {
	m, builds := newTestManager(t, nil)
	require.NoError(t, m.Initialize(t.Context()))

	enabled, err := m.Toggle(t.Context())
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, NotInitialized, m.State())

	// initialize while disabled is a no-op
	require.NoError(t, m.Initialize(t.Context()))
	assert.Equal(t, NotInitialized, m.State())

	enabled, err = m.Toggle(t.Context())
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, int32(2), builds.Load())
}

func TestManager_EmitsStatusEvents(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ch, cancel := m.bus.Subscribe()
	defer cancel()

	require.NoError(t, m.Initialize(t.Context()))

	ev := <-ch
	require.Equal(t, events.PreInitStatusChanged, ev.Type)
	assert.Equal(t, "Initializing", ev.Payload)
	ev = <-ch
	assert.Equal(t, "Ready", ev.Payload)
}
