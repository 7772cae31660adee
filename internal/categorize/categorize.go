package categorize

import (
	"strings"

	"github.com/kalambet/skymood/internal/post"
)

// rule pairs a category with the substrings that select it.
type rule struct {
	category post.Category
	keywords []string
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{post.CategoryMovieTV, []string{
		"movie", "film", "cinema", "netflix", "tv show", "tv series", "episode",
		"trailer", "box office", "hbo", "screenplay", "sitcom", "documentary",
	}},
	{post.CategoryBook, []string{
		"book", "novel", "reading", "author", "chapter", "kindle", "paperback",
		"audiobook", "library", "bookstore", "memoir",
	}},
	{post.CategoryGame, []string{
		"game", "gaming", "playstation", "xbox", "nintendo", "steam deck",
		"esports", "rpg", "speedrun", "twitch",
	}},
	{post.CategoryMusic, []string{
		"music", "song", "album", "concert", "spotify", "playlist", "singer",
		"lyrics", "guitar", "vinyl", "band",
	}},
}

// Categorize returns the topic of text by case-insensitive keyword matching.
// Categories are tried in priority order Movie/TV, Book, Game, Music; text
// that matches none is Other.
func Categorize(text string) post.Category {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return post.CategoryOther
}
