package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/skymood/internal/post"
)

// DefaultBaseURL is the public Bluesky PDS entryway.
const DefaultBaseURL = "https://bsky.social"

const (
	postCollection = "app.bsky.feed.post"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 2 << 10
)

// ErrNoToken is returned when the session response carries no access token.
var ErrNoToken = errors.New("bluesky: session response has no access token")

// StatusError is a non-200 response from an XRPC endpoint.
type StatusError struct {
	Method string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Method, e.Status, e.Body)
}

// Client talks to a Bluesky PDS over XRPC. It is unauthenticated until
// CreateSession succeeds.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a Client targeting baseURL. An empty baseURL uses DefaultBaseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	Handle    string `json:"handle"`
}

// CreateSession logs in with an app password and keeps the access token for
// subsequent calls.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) error {
	body, err := json.Marshal(sessionRequest{Identifier: identifier, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("createSession", resp)
	}

	var result sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding session response: %w", err)
	}
	if result.AccessJwt == "" {
		return ErrNoToken
	}
	c.token = result.AccessJwt
	return nil
}

type listRecordsResponse struct {
	Records []struct {
		URI   string `json:"uri"`
		Value struct {
			Text      string `json:"text"`
			CreatedAt string `json:"createdAt"`
		} `json:"value"`
	} `json:"records"`
}

// ListPosts returns up to limit of the account's most recent posts.
func (c *Client) ListPosts(ctx context.Context, handle string, limit int) ([]post.Raw, error) {
	q := url.Values{}
	q.Set("repo", handle)
	q.Set("collection", postCollection)
	q.Set("limit", strconv.Itoa(limit))

	var result listRecordsResponse
	if err := c.get(ctx, "com.atproto.repo.listRecords", q, &result); err != nil {
		return nil, err
	}

	posts := make([]post.Raw, 0, len(result.Records))
	for _, r := range result.Records {
		posts = append(posts, post.Raw{
			Text:      r.Value.Text,
			Handle:    handle,
			Timestamp: r.Value.CreatedAt,
			URI:       r.URI,
		})
	}
	return posts, nil
}

type searchPostsResponse struct {
	Posts []struct {
		URI    string `json:"uri"`
		Author struct {
			Handle string `json:"handle"`
		} `json:"author"`
		Record struct {
			Text      string `json:"text"`
			CreatedAt string `json:"createdAt"`
		} `json:"record"`
	} `json:"posts"`
}

// SearchPosts runs a keyword search and flattens each hit into a post.Raw.
func (c *Client) SearchPosts(ctx context.Context, query string, limit int) ([]post.Raw, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	var result searchPostsResponse
	if err := c.get(ctx, "app.bsky.feed.searchPosts", q, &result); err != nil {
		return nil, err
	}

	posts := make([]post.Raw, 0, len(result.Posts))
	for _, p := range result.Posts {
		posts = append(posts, post.Raw{
			Text:      p.Record.Text,
			Handle:    p.Author.Handle,
			Timestamp: p.Record.CreatedAt,
			URI:       p.URI,
		})
	}
	return posts, nil
}

func (c *Client) get(ctx context.Context, method string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/xrpc/"+method+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(method, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

func statusError(method string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Method: method, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
