// Package timeline persists the per-project record of captured clips: an
// append-only JSON file with soft deletes, content checksums, and a
// reconcile operation that re-attaches entries to files users have renamed.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/nrednav/cuid2"
	"github.com/samber/lo"
)

// FileName is the timeline file kept in every project directory.
const FileName = "timeline.json"

// Resolution is the pixel size of a recorded clip.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Entry is one clip in a project timeline. Filename is a basename resolved
// against the project directory; Checksum is the stable identity used to
// follow the file across renames.
type Entry struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	Label       string     `json:"label,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
	DurationMs  int64      `json:"duration_ms"`
	Deleted     bool       `json:"deleted,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	AspectRatio string     `json:"aspect_ratio"`
	Resolution  Resolution `json:"resolution"`
	MicEnabled  bool       `json:"mic_enabled"`
	Checksum    string     `json:"checksum,omitempty"`
}

// Metadata carries aggregate counters for a project.
type Metadata struct {
	TotalVideos int `json:"totalVideos"`
}

// Timeline is the durable state of one project. Entries are kept in insertion
// order; readers compute presentation order.
type Timeline struct {
	ProjectName  string    `json:"project_name"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	Entries      []Entry   `json:"entries"`
	Metadata     Metadata  `json:"metadata"`
}

// Clone returns a deep copy, used by the undo history.
func (t *Timeline) Clone() *Timeline {
	c := *t
	c.Entries = make([]Entry, len(t.Entries))
	copy(c.Entries, t.Entries)
	for i := range c.Entries {
		if t.Entries[i].DeletedAt != nil {
			deletedAt := *t.Entries[i].DeletedAt
			c.Entries[i].DeletedAt = &deletedAt
		}
	}
	return &c
}

// Visible returns the non-deleted entries sorted newest-first, the order the
// clip list presents.
func (t *Timeline) Visible() []Entry {
	visible := lo.Filter(t.Entries, func(e Entry, _ int) bool { return !e.Deleted })
	sort.SliceStable(visible, func(i, j int) bool { return visible[i].RecordedAt.After(visible[j].RecordedAt) })
	return visible
}

// Store reads and writes project timeline files. Writes are serialized and
// atomic (temp file + rename), so readers always see a complete document.
type Store struct {
	mu sync.Mutex
}

func NewStore() *Store {
	return &Store{}
}

// Load reads the timeline of the project at dir, returning a fresh timeline
// when none exists yet.
func (s *Store) Load(dir, projectName string) (*Timeline, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		now := time.Now().UTC()
		return &Timeline{ProjectName: projectName, CreatedAt: now, LastModified: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}

	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("failed to parse timeline: %w", err)
	}
	if tl.ProjectName == "" {
		tl.ProjectName = projectName
	}
	return &tl, nil
}

// Save writes the timeline atomically and stamps LastModified.
func (s *Store) Save(dir string, tl *Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(dir, tl)
}

func (s *Store) saveLocked(dir string, tl *Timeline) error {
	tl.LastModified = time.Now().UTC()

	data, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timeline: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp timeline: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write timeline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close timeline: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace timeline: %w", err)
	}
	return nil
}

// Append adds a new entry at the tail and bumps the aggregate counter.
// Soft-deleted entries are retained.
func (s *Store) Append(dir, projectName string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, err := s.Load(dir, projectName)
	if err != nil {
		return err
	}
	tl.Entries = append(tl.Entries, entry)
	tl.Metadata.TotalVideos++
	return s.saveLocked(dir, tl)
}

// SoftDelete marks the entry as deleted without removing it, preserving the
// audit trail and enabling undo.
func (s *Store) SoftDelete(dir, projectName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, err := s.Load(dir, projectName)
	if err != nil {
		return err
	}

	for i := range tl.Entries {
		if tl.Entries[i].ID == id {
			now := time.Now().UTC()
			tl.Entries[i].Deleted = true
			tl.Entries[i].DeletedAt = &now
			return s.saveLocked(dir, tl)
		}
	}
	return fmt.Errorf("no timeline entry with id %q", id)
}

// Reconcile cross-checks the timeline against the MP4 files actually in dir.
// Files are matched to entries by filename first, then by checksum (which
// detects renames); unmatched files are promoted to new entries. Entries
// whose file is gone are kept — the user may restore the file later. Returns
// the number of newly promoted entries.
func (s *Store) Reconcile(dir, projectName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, err := s.Load(dir, projectName)
	if err != nil {
		return 0, err
	}

	files, err := listClipFiles(dir)
	if err != nil {
		return 0, err
	}

	byFilename := make(map[string]*Entry, len(tl.Entries))
	for i := range tl.Entries {
		byFilename[tl.Entries[i].Filename] = &tl.Entries[i]
	}

	changed := false

	// pass 1: filename matches; fill missing checksums while we are here
	var unmatched []string
	for _, f := range files {
		entry, ok := byFilename[f]
		if !ok {
			unmatched = append(unmatched, f)
			continue
		}
		if entry.Checksum == "" {
			if sum, err := Checksum(filepath.Join(dir, f)); err == nil {
				entry.Checksum = sum
				changed = true
			}
		}
	}

	// pass 2: checksum matches against entries whose file is missing — these
	// are renames, and the entry keeps its identity
	present := lo.SliceToMap(files, func(f string) (string, struct{}) { return f, struct{}{} })
	promoted := 0
	for _, f := range unmatched {
		sum, err := Checksum(filepath.Join(dir, f))
		if err != nil {
			continue
		}

		reattached := false
		for i := range tl.Entries {
			e := &tl.Entries[i]
			if e.Checksum != sum {
				continue
			}
			if _, stillThere := present[e.Filename]; stillThere {
				continue
			}
			e.Filename = f
			reattached = true
			changed = true
			break
		}
		if reattached {
			continue
		}

		// pass 3: an unknown file becomes a new entry
		info, err := os.Stat(filepath.Join(dir, f))
		recordedAt := time.Now().UTC()
		if err == nil {
			recordedAt = info.ModTime().UTC()
		}
		tl.Entries = append(tl.Entries, Entry{
			ID:          cuid2.Generate(),
			Filename:    f,
			RecordedAt:  recordedAt,
			AspectRatio: "none",
			Checksum:    sum,
		})
		tl.Metadata.TotalVideos++
		promoted++
		changed = true
	}

	if changed {
		if err := s.saveLocked(dir, tl); err != nil {
			return promoted, err
		}
	}
	return promoted, nil
}

func listClipFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list project directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".mp4") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Checksum content-addresses a clip file with SHA-256. Reads are retried
// briefly: reconcile can race an external copy still flushing to disk.
func Checksum(path string) (string, error) {
	var sum string
	err := retry.New(
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sum = hex.EncodeToString(h.Sum(nil))
		return nil
	})
	if err != nil {
		return "", err
	}
	return sum, nil
}

// AspectRatioFor buckets a resolution into the aspect labels the UI shows.
func AspectRatioFor(width, height int) string {
	switch {
	case width <= 0 || height <= 0:
		return "none"
	case width*9 == height*16:
		return "16:9"
	case width*16 == height*9:
		return "9:16"
	default:
		return "none"
	}
}
