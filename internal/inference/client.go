package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co"
	DefaultModel   = "cardiffnlp/twitter-roberta-base-sentiment-latest"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrModelLoading signals that the hosted model is still warming up and the
// request should be retried after a longer pause.
var ErrModelLoading = errors.New("model is loading")

// StatusError is returned for any non-200 response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Is reports a 503 whose body mentions loading as ErrModelLoading.
func (e *StatusError) Is(target error) bool {
	return target == ErrModelLoading &&
		e.Status == http.StatusServiceUnavailable &&
		strings.Contains(strings.ToLower(e.Body), "loading")
}

// Prediction is the top-ranked label/score pair for one input text, using the
// model's own label codes.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Client calls a hosted text-classification model.
type Client struct {
	token      string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for the given model. Empty baseURL or model fall
// back to the defaults.
func NewClient(token, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type classifyRequest struct {
	Inputs []string `json:"inputs"`
}

// Classify sends texts in one request and returns one Prediction per text, in
// input order. It makes exactly one attempt; retrying is the caller's concern.
func (c *Client) Classify(ctx context.Context, texts []string) ([]Prediction, error) {
	body, err := json.Marshal(classifyRequest{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	preds, err := decodePredictions(raw, len(texts))
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return preds, nil
}
