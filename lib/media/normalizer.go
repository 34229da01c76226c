package media

import (
	"errors"
	"sync"
	"time"
)

// ErrBeforeOrigin is returned when a sample's native timestamp precedes the
// session origin. The sample must be dropped.
var ErrBeforeOrigin = errors.New("sample timestamp precedes session origin")

// Normalizer rebases video and audio sample timestamps onto a single shared
// origin so the written MP4 starts at t=0 with the tracks' original relative
// offset preserved. The origin is the native timestamp of whichever track
// delivers its first sample first.
type Normalizer struct {
	mu sync.Mutex

	originSet bool
	origin    time.Duration

	firstVideoSeen bool
	firstAudioSeen bool
	firstVideoTS   time.Duration
	firstAudioTS   time.Duration

	lastVideo time.Duration
	lastAudio time.Duration
}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Reset re-arms all first-sample state for a new recording.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.originSet = false
	n.origin = 0
	n.firstVideoSeen = false
	n.firstAudioSeen = false
	n.firstVideoTS = 0
	n.firstAudioTS = 0
	n.lastVideo = 0
	n.lastAudio = 0
}

// Rebase returns s with its timestamp measured from the shared origin. The
// first sample of the session establishes the origin. On error the caller
// drops the sample; a dropped first video sample re-arms the first-frame flag
// so the next video sample becomes the track reference.
func (n *Normalizer) Rebase(s Sample) (Sample, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.originSet {
		n.origin = s.PTS
		n.originSet = true
	}

	if s.PTS < n.origin {
		// Cannot produce a negative presentation timestamp. First-sample
		// state stays re-armed so the next sample on this track becomes the
		// track reference.
		return Sample{}, ErrBeforeOrigin
	}

	rebased := s
	rebased.PTS = s.PTS - n.origin

	switch s.Kind {
	case TrackVideo:
		if !n.firstVideoSeen {
			n.firstVideoSeen = true
			n.firstVideoTS = s.PTS
		}
		if rebased.PTS < n.lastVideo {
			rebased.PTS = n.lastVideo
		}
		n.lastVideo = rebased.PTS
	case TrackAudio:
		if !n.firstAudioSeen {
			n.firstAudioSeen = true
			n.firstAudioTS = s.PTS
		}
		if rebased.PTS < n.lastAudio {
			rebased.PTS = n.lastAudio
		}
		n.lastAudio = rebased.PTS
	}

	return rebased, nil
}

// Origin returns the shared origin and whether it has been established.
func (n *Normalizer) Origin() (time.Duration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.origin, n.originSet
}

// FirstTimestamps returns the native timestamps of the first sample seen on
// each track; the bools report whether the track has delivered yet.
func (n *Normalizer) FirstTimestamps() (video time.Duration, videoSeen bool, audio time.Duration, audioSeen bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.firstVideoTS, n.firstVideoSeen, n.firstAudioTS, n.firstAudioSeen
}
