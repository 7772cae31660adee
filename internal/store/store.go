package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/skymood/internal/categorize"
	"github.com/kalambet/skymood/internal/post"
)

// DefaultMaxRetained bounds the number of posts kept in the state file.
const DefaultMaxRetained = 1000

// Store is the persisted aggregate. Counts are always derived from Posts.
type Store struct {
	Timestamp  string          `json:"timestamp"`
	Sentiment  map[string]int  `json:"sentiment"`
	Categories map[string]int  `json:"categories"`
	TotalPosts int             `json:"total_posts"`
	Posts      []post.Enriched `json:"posts"`
}

// Empty returns a store with no posts and zeroed sentiment counts.
func Empty() *Store {
	s := &Store{}
	s.recount()
	return s
}

// Identifiers returns the dedup key of every retained post.
func (s *Store) Identifiers() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Posts))
	for _, p := range s.Posts {
		ids[p.Identifier()] = struct{}{}
	}
	return ids
}

// Merge combines prior posts with fresh ones, keeps the maxRetained most
// recent, and recomputes every count. prior is not modified.
func Merge(prior *Store, fresh []post.Enriched, maxRetained int, now time.Time) *Store {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}

	var n int
	if prior != nil {
		n = len(prior.Posts)
	}
	combined := make([]post.Enriched, 0, n+len(fresh))
	if prior != nil {
		combined = append(combined, prior.Posts...)
	}
	combined = append(combined, fresh...)

	sort.SliceStable(combined, func(i, j int) bool {
		return sortKey(combined[i]) > sortKey(combined[j])
	})
	if len(combined) > maxRetained {
		combined = combined[:maxRetained]
	}

	next := &Store{
		Timestamp: now.UTC().Format(time.RFC3339),
		Posts:     combined,
	}
	next.recount()
	return next
}

// timestampLayouts are tried in order. Zoneless layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// sortKey orders posts newest first.
func sortKey(p post.Enriched) string {
	return timeKey(p.Timestamp)
}

// timeKey renders ts at fixed width so keys compare as strings.
// Unparseable timestamps yield "" and fall to the end.
func timeKey(ts string) string {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return ""
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
		}
	}
	return ""
}

// Admissible returns the fresh posts that Merge with the same bound could
// retain. Once s holds maxRetained posts, a post must sort strictly newer
// than the oldest one that would survive; ties keep the stored post.
func (s *Store) Admissible(fresh []post.Raw, maxRetained int) []post.Raw {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	if len(s.Posts) < maxRetained {
		return fresh
	}
	keys := make([]string, len(s.Posts))
	for i, p := range s.Posts {
		keys[i] = sortKey(p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	floor := keys[maxRetained-1]

	var out []post.Raw
	for _, p := range fresh {
		if timeKey(p.Timestamp) > floor {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) recount() {
	if s.Posts == nil {
		s.Posts = []post.Enriched{}
	}
	s.Sentiment = make(map[string]int, len(post.Labels))
	for _, l := range post.Labels {
		s.Sentiment[l.Key()] = 0
	}
	s.Categories = make(map[string]int)
	for _, p := range s.Posts {
		s.Sentiment[p.Label.Key()]++
		s.Categories[string(p.Category)]++
	}
	s.TotalPosts = len(s.Posts)
}

// Load reads the state file. A missing, empty, unreadable or malformed file
// yields an empty store; anything but a missing file is logged.
func Load(path string) *Store {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty()
	}
	if err != nil {
		slog.Warn("store: state file is unreadable, starting empty", "path", path, "error", err)
		return Empty()
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Empty()
	}

	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("store: state file is malformed, starting empty", "path", path, "error", err)
		return Empty()
	}
	s.normalize()
	return &s
}

// normalize repairs stores written by older versions: capitalized or flat
// sentiment counts, posts without a category, labels outside the canonical
// set and repeated identifiers. Counts are always rebuilt from the posts.
func (s *Store) normalize() {
	seen := make(map[string]struct{}, len(s.Posts))
	kept := s.Posts[:0]
	for _, p := range s.Posts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		id := p.Identifier()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !p.Category.Valid() {
			p.Category = categorize.Categorize(p.Text)
		}
		if l, ok := post.ParseLabel(string(p.Label)); ok {
			p.Label = l
		} else {
			p.Label = post.Neutral
		}
		kept = append(kept, p)
	}
	s.Posts = kept

	sort.SliceStable(s.Posts, func(i, j int) bool {
		return sortKey(s.Posts[i]) > sortKey(s.Posts[j])
	})
	s.recount()
}

// Save writes s to path as indented JSON, creating the parent directory. The
// file is replaced by rename so readers never see a partial document.
func Save(path string, s *Store) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sentiment-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting state permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
