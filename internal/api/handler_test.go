package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/post"
	"github.com/kalambet/skymood/internal/store"
)

const testToken = "test-token-12345"

type mockRuns struct {
	runs []history.Run
	err  error
}

func (m *mockRuns) RecentRuns(_ context.Context, limit int) ([]history.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func testPosts() []post.Enriched {
	mk := func(uri, ts, handle string, cat post.Category, label post.Label, score float64) post.Enriched {
		return post.Enriched{
			Raw:      post.Raw{Text: "text of " + uri + " long enough", Handle: handle, Timestamp: ts, URI: uri},
			Category: cat, Label: label, Score: score,
		}
	}
	return []post.Enriched{
		mk("p1", "2026-10-15T10:00:00Z", "a.bsky.social", post.CategoryMovieTV, post.Positive, 0.9),
		mk("p2", "2026-10-15T09:00:00Z", "b.bsky.social", post.CategoryMovieTV, post.Negative, 0.8),
		mk("p3", "2026-10-15T08:00:00Z", "a.bsky.social", post.CategoryMusic, post.Positive, 0.7),
		mk("p4", "2026-10-15T07:00:00Z", "c.bsky.social", post.CategoryBook, post.Neutral, 0.6),
	}
}

// writeState saves a store with testPosts and returns its path.
func writeState(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentiment.json")
	s := store.Merge(nil, testPosts(), 0, time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))
	if err := store.Save(path, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func get(t *testing.T, h http.Handler, url, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth_NoAuth(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t), Token: testToken})
	rr := get(t, h, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestSummary(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t), Token: testToken})

	rr := get(t, h, "/v1/summary", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var got Summary
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.TotalPosts != 4 || got.Sentiment["positive"] != 2 {
		t.Errorf("summary = %+v", got)
	}
	if got.ByCategory["Movie/TV"]["negative"] != 1 {
		t.Errorf("ByCategory = %v", got.ByCategory)
	}
	if got.MeanScore["positive"] != 0.8 {
		t.Errorf("MeanScore[positive] = %v, want 0.8", got.MeanScore["positive"])
	}
	if got.Timestamp != "2026-10-16T08:00:00Z" {
		t.Errorf("Timestamp = %q", got.Timestamp)
	}
}

func TestSummarize_RoundsMeanScore(t *testing.T) {
	var fresh []post.Enriched
	for i, score := range []float64{0.9, 0.8, 0.8} {
		fresh = append(fresh, post.Enriched{
			Raw:      post.Raw{Text: fmt.Sprintf("a positive post number %d", i), URI: fmt.Sprintf("u%d", i)},
			Category: post.CategoryOther,
			Label:    post.Positive,
			Score:    score,
		})
	}
	sum := summarize(store.Merge(store.Empty(), fresh, 10, time.Now()))
	if got := sum.MeanScore["positive"]; got != 0.833 {
		t.Errorf("MeanScore[positive] = %v, want 0.833", got)
	}
	if _, ok := sum.MeanScore["negative"]; ok {
		t.Error("MeanScore has an entry for a label with no posts")
	}
}

func TestSummary_Unauthorized(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t), Token: testToken})
	for _, tok := range []string{"", "wrong"} {
		if rr := get(t, h, "/v1/summary", tok); rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, rr.Code)
		}
	}
}

func TestSummary_MissingStateIsEmpty(t *testing.T) {
	h := NewHandler(Deps{StatePath: filepath.Join(t.TempDir(), "none.json")})
	rr := get(t, h, "/v1/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got Summary
	json.NewDecoder(rr.Body).Decode(&got)
	if got.TotalPosts != 0 || got.Sentiment["neutral"] != 0 {
		t.Errorf("summary = %+v", got)
	}
}

func TestPosts_Filters(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t)})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"p1", "p2", "p3", "p4"}},
		{"?category=movie/tv", []string{"p1", "p2"}},
		{"?label=POSITIVE", []string{"p1", "p3"}},
		{"?category=Movie/TV&label=negative", []string{"p2"}},
		{"?handle=a.bsky.social&limit=1", []string{"p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := get(t, h, "/v1/posts"+tt.query, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
			}
			var body struct {
				Count int             `json:"count"`
				Posts []post.Enriched `json:"posts"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if body.Count != len(tt.want) {
				t.Fatalf("count = %d, want %d", body.Count, len(tt.want))
			}
			for i, uri := range tt.want {
				if body.Posts[i].URI != uri {
					t.Errorf("posts[%d] = %s, want %s", i, body.Posts[i].URI, uri)
				}
			}
		})
	}
}

func TestPosts_BadParams(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t)})
	for _, q := range []string{"?category=podcast", "?label=angry", "?limit=ten"} {
		if rr := get(t, h, "/v1/posts"+q, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

func TestRuns(t *testing.T) {
	runs := &mockRuns{runs: []history.Run{{ID: "r2", Outcome: "written"}, {ID: "r1", Outcome: "nothing_new"}}}
	h := NewHandler(Deps{StatePath: writeState(t), Runs: runs})

	rr := get(t, h, "/v1/runs?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Runs []history.Run `json:"runs"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Runs) != 1 || body.Runs[0].ID != "r2" {
		t.Errorf("runs = %+v", body.Runs)
	}
}

func TestRuns_Unavailable(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t)})
	if rr := get(t, h, "/v1/runs", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}

	h = NewHandler(Deps{StatePath: writeState(t), Runs: &mockRuns{err: errors.New("db closed")}})
	if rr := get(t, h, "/v1/runs", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(Deps{StatePath: writeState(t), RatePerSecond: 0.001, Burst: 2})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = get(t, h, "/v1/summary", "").Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	// Health stays outside the limiter.
	if rr := get(t, h, "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("health status = %d", rr.Code)
	}
}

func TestClientRateLimiter_ExpiresVisitors(t *testing.T) {
	l := newClientRateLimiter(1, 1)
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(rateLimiterExpiry + time.Second)
	l.allow("10.0.0.2")

	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("stale visitor was not evicted")
	}
}

func TestFilterPosts(t *testing.T) {
	s := store.Merge(nil, testPosts(), 0, time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))

	got, err := FilterPosts(s, PostQuery{Handle: "A.BSKY.SOCIAL"})
	if err != nil {
		t.Fatalf("FilterPosts: %v", err)
	}
	if len(got) != 2 || got[0].URI != "p1" || got[1].URI != "p3" {
		t.Errorf("posts = %+v", got)
	}

	if _, err := FilterPosts(s, PostQuery{Label: "ecstatic"}); err == nil {
		t.Error("expected error for unknown label")
	}
}
