package api

import (
	"fmt"
	"strings"

	"github.com/kalambet/skymood/internal/classifier"
	"github.com/kalambet/skymood/internal/post"
	"github.com/kalambet/skymood/internal/store"
)

const (
	defaultPostLimit = 50
	maxPostLimit     = store.DefaultMaxRetained
)

// Summary is the aggregate view of the state file.
type Summary struct {
	Timestamp  string                    `json:"timestamp"`
	TotalPosts int                       `json:"total_posts"`
	Sentiment  map[string]int            `json:"sentiment"`
	Categories map[string]int            `json:"categories"`
	ByCategory map[string]map[string]int `json:"by_category"`
	MeanScore  map[string]float64        `json:"mean_score"`
}

func summarize(s *store.Store) Summary {
	sum := Summary{
		Timestamp:  s.Timestamp,
		TotalPosts: s.TotalPosts,
		Sentiment:  s.Sentiment,
		Categories: s.Categories,
		ByCategory: make(map[string]map[string]int),
		MeanScore:  make(map[string]float64),
	}

	totals := make(map[string]float64)
	for _, p := range s.Posts {
		cat := string(p.Category)
		if sum.ByCategory[cat] == nil {
			sum.ByCategory[cat] = make(map[string]int)
		}
		sum.ByCategory[cat][p.Label.Key()]++
		totals[p.Label.Key()] += p.Score
	}
	for key, total := range totals {
		if n := s.Sentiment[key]; n > 0 {
			sum.MeanScore[key] = classifier.RoundScore(total / float64(n))
		}
	}
	return sum
}

// postFilter selects posts from the store. Zero values match everything.
type postFilter struct {
	category post.Category
	label    post.Label
	handle   string
	limit    int
}

func newPostFilter(category, label, handle string, limit int) (postFilter, error) {
	f := postFilter{handle: strings.TrimSpace(handle), limit: limit}

	if category != "" {
		found := false
		for _, c := range post.Categories {
			if strings.EqualFold(category, string(c)) {
				f.category = c
				found = true
				break
			}
		}
		if !found {
			return postFilter{}, fmt.Errorf("unknown category %q", category)
		}
	}

	if label != "" {
		l, ok := post.ParseLabel(label)
		if !ok {
			return postFilter{}, fmt.Errorf("unknown label %q", label)
		}
		f.label = l
	}

	if f.limit <= 0 {
		f.limit = defaultPostLimit
	}
	if f.limit > maxPostLimit {
		f.limit = maxPostLimit
	}
	return f, nil
}

// apply returns matching posts newest first, up to the limit.
func (f postFilter) apply(s *store.Store) []post.Enriched {
	out := make([]post.Enriched, 0, min(f.limit, len(s.Posts)))
	for _, p := range s.Posts {
		if f.category != "" && p.Category != f.category {
			continue
		}
		if f.label != "" && p.Label != f.label {
			continue
		}
		if f.handle != "" && !strings.EqualFold(p.Handle, f.handle) {
			continue
		}
		out = append(out, p)
		if len(out) == f.limit {
			break
		}
	}
	return out
}

// PostQuery selects stored posts. Empty fields match everything and a
// non-positive Limit means the default of 50.
type PostQuery struct {
	Category string
	Label    string
	Handle   string
	Limit    int
}

// FilterPosts returns the posts in s matching q, newest first.
func FilterPosts(s *store.Store, q PostQuery) ([]post.Enriched, error) {
	f, err := newPostFilter(q.Category, q.Label, q.Handle, q.Limit)
	if err != nil {
		return nil, err
	}
	return f.apply(s), nil
}
