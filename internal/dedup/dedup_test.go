package dedup

import (
	"testing"

	"github.com/kalambet/skymood/internal/post"
)

func TestFilter_DropsSeen(t *testing.T) {
	seen := map[string]struct{}{"at://a": {}}
	candidates := []post.Raw{
		{Text: "already stored post with enough text", URI: "at://a"},
		{Text: "a brand new post that has not been seen", URI: "at://b"},
	}

	res := Filter(candidates, seen)

	if len(res.Fresh) != 1 || res.Fresh[0].URI != "at://b" {
		t.Fatalf("Fresh = %+v, want only at://b", res.Fresh)
	}
	if res.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", res.Duplicates)
	}
}

func TestFilter_IdentifierIgnoresOtherFields(t *testing.T) {
	seen := map[string]struct{}{"at://a": {}}
	candidates := []post.Raw{
		{Text: "THE SAME POST BUT SHOUTING", Handle: "  other.handle ", Timestamp: "2030-01-01T00:00:00Z", URI: "at://a"},
	}

	res := Filter(candidates, seen)
	if len(res.Fresh) != 0 {
		t.Errorf("Fresh = %+v, want none", res.Fresh)
	}
}

func TestFilter_TextFallbackIdentifier(t *testing.T) {
	p := post.Raw{Text: "a keyword search hit without any uri at all"}
	seen := map[string]struct{}{p.Identifier(): {}}

	res := Filter([]post.Raw{p}, seen)
	if len(res.Fresh) != 0 {
		t.Errorf("Fresh = %+v, want none", res.Fresh)
	}
}

func TestFilter_SkipsEmptyText(t *testing.T) {
	candidates := []post.Raw{
		{Text: "", URI: "at://empty"},
		{Text: "   ", URI: "at://blank"},
		{Text: "a real post with some words in it", URI: "at://real"},
	}

	res := Filter(candidates, nil)

	if res.SkippedEmpty != 2 {
		t.Errorf("SkippedEmpty = %d, want 2", res.SkippedEmpty)
	}
	if len(res.Fresh) != 1 {
		t.Errorf("len(Fresh) = %d, want 1", len(res.Fresh))
	}
}

func TestFilter_DedupsWithinBatch(t *testing.T) {
	candidates := []post.Raw{
		{Text: "first copy from the account listing", Handle: "a", URI: "at://x"},
		{Text: "second copy from a keyword search", Handle: "a", URI: "at://x"},
	}

	res := Filter(candidates, map[string]struct{}{})

	if len(res.Fresh) != 1 || res.Fresh[0].Text != "first copy from the account listing" {
		t.Fatalf("Fresh = %+v, want first occurrence only", res.Fresh)
	}
	if res.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", res.Duplicates)
	}
}

func TestFilter_DoesNotMutateSeen(t *testing.T) {
	seen := map[string]struct{}{"at://a": {}}
	Filter([]post.Raw{{Text: "some new post with enough characters", URI: "at://b"}}, seen)

	if len(seen) != 1 {
		t.Errorf("seen has %d entries after Filter, want 1", len(seen))
	}
}
