package dedup

import (
	"log/slog"
	"strings"

	"github.com/kalambet/skymood/internal/post"
)

// Result is the outcome of filtering a candidate batch.
type Result struct {
	Fresh        []post.Raw
	SkippedEmpty int
	Duplicates   int
}

// Filter returns the candidates whose identifier is absent from seen.
// Candidates with blank text are skipped. A candidate repeated within the
// batch is kept only at its first occurrence. seen is never modified.
func Filter(candidates []post.Raw, seen map[string]struct{}) Result {
	var res Result
	batch := make(map[string]struct{}, len(candidates))

	for _, p := range candidates {
		if strings.TrimSpace(p.Text) == "" {
			res.SkippedEmpty++
			slog.Debug("dedup: skipping post without text", "handle", p.Handle, "uri", p.URI)
			continue
		}

		id := p.Identifier()
		if _, ok := seen[id]; ok {
			res.Duplicates++
			continue
		}
		if _, ok := batch[id]; ok {
			res.Duplicates++
			continue
		}

		batch[id] = struct{}{}
		res.Fresh = append(res.Fresh, p)
	}

	return res
}
