package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(d int64) time.Duration { return time.Duration(d) * time.Millisecond }

func TestNormalizer_SharedOriginAcrossTracks(t *testing.T) {
	n := NewNormalizer()

	// audio arrives first and establishes the origin
	a, err := n.Rebase(Sample{Kind: TrackAudio, PTS: ms(1000)})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), a.PTS)

	// video arrives 40ms later; its relative offset is preserved
	v, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(1040)})
	require.NoError(t, err)
	assert.Equal(t, ms(40), v.PTS)

	origin, set := n.Origin()
	require.True(t, set)
	assert.Equal(t, ms(1000), origin)
}

func TestNormalizer_VideoFirst(t *testing.T) {
	n := NewNormalizer()

	v, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(500)})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), v.PTS)

	a, err := n.Rebase(Sample{Kind: TrackAudio, PTS: ms(520)})
	require.NoError(t, err)
	assert.Equal(t, ms(20), a.PTS)
}

func TestNormalizer_DropsSamplesBeforeOrigin(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Rebase(Sample{Kind: TrackAudio, PTS: ms(1000)})
	require.NoError(t, err)

	// a video sample timestamped before the origin must be dropped and the
	// first-frame flag stays re-armed
	_, err = n.Rebase(Sample{Kind: TrackVideo, PTS: ms(990)})
	require.ErrorIs(t, err, ErrBeforeOrigin)

	_, videoSeen, _, audioSeen := n.FirstTimestamps()
	assert.False(t, videoSeen)
	assert.True(t, audioSeen)

	// the next video sample becomes the track reference
	v, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(1033)})
	require.NoError(t, err)
	assert.Equal(t, ms(33), v.PTS)

	first, videoSeen, _, _ := n.FirstTimestamps()
	assert.True(t, videoSeen)
	assert.Equal(t, ms(1033), first)
}

func TestNormalizer_MonotonicWithinTrack(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(100)})
	require.NoError(t, err)
	_, err = n.Rebase(Sample{Kind: TrackVideo, PTS: ms(200)})
	require.NoError(t, err)

	// a regression after the origin clamps to the last emitted timestamp
	v, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(180)})
	require.NoError(t, err)
	assert.Equal(t, ms(100), v.PTS)
}

func TestNormalizer_ResetReArmsEverything(t *testing.T) {
	n := NewNormalizer()
	_, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(100)})
	require.NoError(t, err)

	n.Reset()

	_, set := n.Origin()
	assert.False(t, set)

	v, err := n.Rebase(Sample{Kind: TrackVideo, PTS: ms(5000)})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), v.PTS)
}
