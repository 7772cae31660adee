package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify_RankedLists(t *testing.T) {
	var gotReq classifyRequest
	var gotAuth, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`[
			[{"label":"LABEL_2","score":0.91},{"label":"LABEL_1","score":0.07},{"label":"LABEL_0","score":0.02}],
			[{"label":"LABEL_0","score":0.8},{"label":"LABEL_1","score":0.15},{"label":"LABEL_2","score":0.05}]
		]`))
	}))
	defer srv.Close()

	c := NewClient("hf-token", srv.URL, "org/model")
	preds, err := c.Classify(context.Background(), []string{"great", "awful"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if gotAuth != "Bearer hf-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer hf-token")
	}
	if gotPath != "/models/org/model" {
		t.Errorf("path = %q, want /models/org/model", gotPath)
	}
	if len(gotReq.Inputs) != 2 {
		t.Errorf("inputs = %v, want 2 texts", gotReq.Inputs)
	}

	want := []Prediction{{"LABEL_2", 0.91}, {"LABEL_0", 0.8}}
	if len(preds) != len(want) {
		t.Fatalf("got %d predictions, want %d", len(preds), len(want))
	}
	for i := range want {
		if preds[i] != want[i] {
			t.Errorf("preds[%d] = %+v, want %+v", i, preds[i], want[i])
		}
	}
}

func TestClassify_ModelLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model cardiffnlp/twitter-roberta-base-sentiment-latest is currently loading","estimated_time":20.0}`))
	}))
	defer srv.Close()

	c := NewClient("t", srv.URL, "m")
	_, err := c.Classify(context.Background(), []string{"x"})
	if !errors.Is(err, ErrModelLoading) {
		t.Fatalf("err = %v, want ErrModelLoading", err)
	}
}

func TestClassify_OtherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	c := NewClient("t", srv.URL, "m")
	_, err := c.Classify(context.Background(), []string{"x"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", se.Status)
	}
	if errors.Is(err, ErrModelLoading) {
		t.Error("500 should not be treated as model loading")
	}
}

func TestDecodePredictions(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		top     []Prediction
		wantErr bool
	}{
		{
			name: "single objects",
			body: `[{"label":"positive","score":0.6},{"label":"negative","score":0.7}]`,
			want: 2,
			top:  []Prediction{{"positive", 0.6}, {"negative", 0.7}},
		},
		{
			name: "bare ranked list for one input",
			body: `[{"label":"neutral","score":0.5},{"label":"positive","score":0.3},{"label":"negative","score":0.2}]`,
			want: 1,
			top:  []Prediction{{"neutral", 0.5}},
		},
		{
			name: "mixed variants",
			body: `[[{"label":"LABEL_1","score":0.4}],{"label":"LABEL_2","score":0.9}]`,
			want: 2,
			top:  []Prediction{{"LABEL_1", 0.4}, {"LABEL_2", 0.9}},
		},
		{name: "count mismatch", body: `[[{"label":"a","score":1}]]`, want: 2, wantErr: true},
		{name: "not a list", body: `{"error":"bad"}`, want: 1, wantErr: true},
		{name: "empty ranked list", body: `[[]]`, want: 1, wantErr: true},
		{name: "scalar element", body: `[42]`, want: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePredictions([]byte(tt.body), tt.want)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.top {
				if got[i] != tt.top[i] {
					t.Errorf("got[%d] = %+v, want %+v", i, got[i], tt.top[i])
				}
			}
		})
	}
}
