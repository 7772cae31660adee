package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/skymood/internal/config"
	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/pipeline"
	"github.com/kalambet/skymood/internal/post"
	"github.com/kalambet/skymood/internal/store"
)

var ctx = context.Background()

const movieText = "Just watched a great movie last night and loved every minute"

// newFakeBluesky serves a session, one account feed and an empty search.
func newFakeBluesky(t *testing.T, sessionStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		if sessionStatus != http.StatusOK {
			w.WriteHeader(sessionStatus)
			w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		w.Write([]byte(`{"accessJwt":"jwt-1","handle":"me.bsky.social"}`))
	})
	mux.HandleFunc("GET /xrpc/com.atproto.repo.listRecords", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"records":[{"uri":"at://did:plc:jay/app.bsky.feed.post/1",
			"value":{"text":"` + movieText + `","createdAt":"2026-10-15T12:00:00Z"}}]}`))
	})
	mux.HandleFunc("GET /xrpc/app.bsky.feed.searchPosts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"posts":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFakeInference(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/models/test/model" || r.Header.Get("Authorization") != "Bearer hf_test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[[{"label":"LABEL_2","score":0.91},{"label":"LABEL_1","score":0.07}]]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, bskyURL, hfURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	var cfg config.Config
	cfg.Bluesky = config.BlueskyConfig{BaseURL: bskyURL, Handle: "me.bsky.social", AppPassword: "app-pass"}
	cfg.Sources = config.SourcesConfig{
		Accounts:       []string{"jay.bsky.social"},
		Keywords:       []string{"movie review"},
		KeywordLimit:   1,
		PostsPerSource: 10,
	}
	cfg.Inference = config.InferenceConfig{BaseURL: hfURL, Model: "test/model", Token: "hf_test"}
	cfg.Classifier = config.ClassifierConfig{BatchSize: 8, MaxAttempts: 1}
	cfg.Storage = config.StorageConfig{
		StateFile:   filepath.Join(dir, "data", "sentiment.json"),
		DataDir:     filepath.Join(dir, "state"),
		MaxRetained: 1000,
	}
	cfg.Metrics.Textfile = filepath.Join(dir, "skymood.prom")
	return cfg
}

func TestRunIngest_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, newFakeBluesky(t, http.StatusOK).URL, newFakeInference(t, &calls).URL)

	res, err := runIngest(ctx, cfg, false)
	if err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if res.Outcome != pipeline.OutcomeWritten || res.Fresh != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.RunID == "" {
		t.Error("run was not recorded in the ledger")
	}

	s := store.Load(cfg.Storage.StateFile)
	if s.TotalPosts != 1 {
		t.Fatalf("TotalPosts = %d, want 1", s.TotalPosts)
	}
	p := s.Posts[0]
	if p.Label != post.Positive || p.Score != 0.91 || p.Category != post.CategoryMovieTV {
		t.Errorf("post = %+v", p)
	}
	if p.Handle != "jay.bsky.social" {
		t.Errorf("Handle = %q", p.Handle)
	}

	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	if !strings.Contains(string(prom), `skymood_runs_total{outcome="written"} 1`) {
		t.Errorf("textfile missing run counter:\n%s", prom)
	}

	ledger, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	defer ledger.Close()
	run, err := ledger.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Outcome != "written" || run.Model != "test/model" || run.Fresh != 1 {
		t.Errorf("run = %+v", run)
	}

	// A second pass sees the same post and does not call the model again.
	res, err = runIngest(ctx, cfg, false)
	if err != nil {
		t.Fatalf("second runIngest: %v", err)
	}
	if res.Outcome != pipeline.OutcomeNothingNew {
		t.Errorf("second outcome = %s, want nothing_new", res.Outcome)
	}
	if calls.Load() != 1 {
		t.Errorf("inference calls = %d, want 1", calls.Load())
	}
}

func TestRunIngest_DryRun(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, newFakeBluesky(t, http.StatusOK).URL, newFakeInference(t, &calls).URL)

	res, err := runIngest(ctx, cfg, true)
	if err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if res.Outcome != pipeline.OutcomeDryRun {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if _, err := os.Stat(cfg.Storage.StateFile); !os.IsNotExist(err) {
		t.Errorf("state file written in dry run: %v", err)
	}
}

func TestRunIngest_LoginFailure(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, newFakeBluesky(t, http.StatusUnauthorized).URL, newFakeInference(t, &calls).URL)

	_, err := runIngest(ctx, cfg, false)
	if err == nil {
		t.Fatal("expected login error")
	}
	if !strings.Contains(err.Error(), "logging in") || !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q", err)
	}
	if _, err := os.Stat(cfg.Storage.StateFile); !os.IsNotExist(err) {
		t.Errorf("state file touched after failed login: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("inference called %d times", calls.Load())
	}
}

func TestRunIngest_ClassifierDown(t *testing.T) {
	hf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hf.Close()
	cfg := testConfig(t, newFakeBluesky(t, http.StatusOK).URL, hf.URL)

	res, err := runIngest(ctx, cfg, false)
	if err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if res.FallbackBatches != 1 {
		t.Errorf("FallbackBatches = %d, want 1", res.FallbackBatches)
	}
	s := store.Load(cfg.Storage.StateFile)
	if len(s.Posts) != 1 || s.Posts[0].Label != post.Neutral || s.Posts[0].Score != 0.5 {
		t.Errorf("posts = %+v", s.Posts)
	}
}

func TestServerStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	if got := serverStatus(ctx, client, 4100); got != "running on port 4100" {
		t.Errorf("serverStatus = %q", got)
	}

	ts.Close()
	if got := serverStatus(ctx, client, 4100); got != "stopped" {
		t.Errorf("serverStatus after close = %q, want stopped", got)
	}
}

func TestAPIClientAuth(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "my-secret-token", httpClient: ts.Client()}
	var health map[string]string
	if err := client.getJSON(ctx, "/health", &health); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", auth)
	}
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}

func TestAPIClient_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	var result any
	err := client.getJSON(ctx, "/v1/summary", &result)

	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Type != "authentication_error" || apiErr.Message != "invalid token" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if errors.Is(err, errServerDown) {
		t.Error("error reply reported as server down")
	}
}

func TestServerStatus_ErrorReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	got := serverStatus(ctx, client, 4100)
	if !strings.HasPrefix(got, "error (") || !strings.Contains(got, "429") {
		t.Errorf("serverStatus = %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintRuns(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printRuns(&buf, nil)
	if !strings.Contains(buf.String(), "No runs recorded") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printRuns(&buf, []history.Run{{
		ID:        "0123456789abcdef",
		StartedAt: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC),
		Outcome:   "failed",
		Error:     "collecting posts: context canceled",
	}})
	out := buf.String()
	for _, want := range []string{"01234567 ", "failed", `error="collecting posts: context canceled"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "89abcdef") {
		t.Errorf("run ID not shortened: %q", out)
	}
}

func TestPrintPosts(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printPosts(&buf, []post.Enriched{{
		Raw:      post.Raw{Text: "loved\nthis   album", Handle: "a.bsky.social", Timestamp: "2026-10-15T10:00:00Z"},
		Category: post.CategoryMusic, Label: post.Positive, Score: 0.912,
	}})
	out := buf.String()
	for _, want := range []string{"@a.bsky.social", "[Positive 0.912] Music", "loved this album"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrintRunSummary(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	s := store.Merge(nil, []post.Enriched{
		{Raw: post.Raw{Text: "a", URI: "1"}, Category: post.CategoryBook, Label: post.Negative, Score: 0.7},
		{Raw: post.Raw{Text: "b", URI: "2"}, Category: post.CategoryBook, Label: post.Positive, Score: 0.8},
	}, 0, time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	printRunSummary(&buf, pipeline.Result{Outcome: pipeline.OutcomeWritten, Fresh: 2, TotalPosts: 2, Store: s})
	out := buf.String()
	if !strings.Contains(out, "Negative      1") || !strings.Contains(out, "Book          2") {
		t.Errorf("summary output:\n%s", out)
	}
}

func TestKeywordCount(t *testing.T) {
	kw := []string{"a", "b", "c"}
	tests := []struct {
		limit, want int
	}{
		{2, 2},
		{0, 0},
		{-1, 3},
		{10, 3},
	}
	for _, tt := range tests {
		if got := keywordCount(config.SourcesConfig{Keywords: kw, KeywordLimit: tt.limit}); got != tt.want {
			t.Errorf("keywordCount(limit=%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestBarAndTruncate(t *testing.T) {
	if got := bar(1, 100, 30); got != "█" {
		t.Errorf("bar(1,100) = %q, want one block", got)
	}
	if got := bar(0, 100, 30); got != "" {
		t.Errorf("bar(0,100) = %q", got)
	}
	if got := bar(5, 5, 10); got != strings.Repeat("█", 10) {
		t.Errorf("bar(5,5) = %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestConfigSettings(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Sources.Accounts = []string{"a.bsky.social", "b.bsky.social"}

	found := map[string]string{}
	for _, k := range config.Settings(cfg) {
		found[k.Key] = k.Value
	}
	if found["server.port"] != "4100" {
		t.Errorf("server.port = %q", found["server.port"])
	}
	if found["sources.accounts"] != "a.bsky.social,b.bsky.social" {
		t.Errorf("sources.accounts = %q", found["sources.accounts"])
	}
}

func TestPostsCommand_BadCategory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("SKYMOOD_STORAGE_STATE_FILE", filepath.Join(dir, "sentiment.json"))
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"posts", "--category", "podcasts", "--json=false"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
	if !strings.Contains(err.Error(), "unknown category") {
		t.Errorf("error = %q, want it to mention 'unknown category'", err.Error())
	}
}

func TestPostsCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sentiment.json")
	s := store.Merge(nil, []post.Enriched{
		{Raw: post.Raw{Text: "great show tonight", Handle: "a.bsky.social", URI: "1", Timestamp: "2026-10-15T10:00:00Z"},
			Category: post.CategoryMovieTV, Label: post.Positive, Score: 0.9},
	}, 0, time.Now())
	if err := store.Save(statePath, s); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("SKYMOOD_STORAGE_STATE_FILE", statePath)

	// Redirect stdout to capture the encoded posts.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	oldStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"posts", "--json", "--label", "positive", "--category=", "--limit", "20"})
	execErr := rootCmd.Execute()
	w.Close()
	os.Stdout = oldStdout
	if execErr != nil {
		t.Fatalf("Execute: %v", execErr)
	}

	var got []post.Enriched
	if err := json.NewDecoder(r).Decode(&got); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if len(got) != 1 || got[0].URI != "1" {
		t.Errorf("posts = %+v", got)
	}
}
