package post

import (
	"strings"
	"unicode/utf8"
)

// Category is the coarse topic assigned to a post.
type Category string

const (
	CategoryMovieTV Category = "Movie/TV"
	CategoryBook    Category = "Book"
	CategoryGame    Category = "Game"
	CategoryMusic   Category = "Music"
	CategoryOther   Category = "Other"
)

// Categories lists every category in priority order.
var Categories = []Category{CategoryMovieTV, CategoryBook, CategoryGame, CategoryMusic, CategoryOther}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Label is the canonical three-way sentiment label.
type Label string

const (
	Positive Label = "Positive"
	Neutral  Label = "Neutral"
	Negative Label = "Negative"
)

// Labels lists the canonical labels.
var Labels = []Label{Positive, Neutral, Negative}

// Key returns the lowercase form used for sentiment count keys.
func (l Label) Key() string {
	return strings.ToLower(string(l))
}

// ParseLabel maps any casing of a canonical label back to it.
func ParseLabel(s string) (Label, bool) {
	for _, l := range Labels {
		if strings.EqualFold(s, string(l)) {
			return l, true
		}
	}
	return "", false
}

// Raw is a post as returned by a source, before enrichment.
type Raw struct {
	Text      string `json:"text"`
	Handle    string `json:"handle"`
	Timestamp string `json:"timestamp"`
	URI       string `json:"uri"`
}

// Enriched is a Raw post with its topic and sentiment.
type Enriched struct {
	Raw
	Category Category `json:"category"`
	Label    Label    `json:"label"`
	Score    float64  `json:"score"`
}

// identifierPrefixLen is the number of runes of text used when a post has no URI.
const identifierPrefixLen = 100

// Identifier returns the deduplication key for p: its URI when present,
// otherwise a key derived from the leading runes of its trimmed text.
func (p Raw) Identifier() string {
	if p.URI != "" {
		return p.URI
	}
	text := strings.TrimSpace(p.Text)
	if utf8.RuneCountInString(text) > identifierPrefixLen {
		text = string([]rune(text)[:identifierPrefixLen])
	}
	return "text:" + text
}
