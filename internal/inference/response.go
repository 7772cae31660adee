package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// variantKind tags the two shapes a per-input result can take.
type variantKind int

const (
	singleObject variantKind = iota
	rankedList
)

// variant is one per-input element of the model response before it is
// resolved to a Prediction.
type variant struct {
	kind   variantKind
	single Prediction
	ranked []Prediction
}

func parseVariant(raw json.RawMessage) (variant, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return variant{}, errors.New("empty element")
	}

	switch trimmed[0] {
	case '{':
		var p Prediction
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return variant{}, fmt.Errorf("parsing prediction: %w", err)
		}
		return variant{kind: singleObject, single: p}, nil
	case '[':
		var ps []Prediction
		if err := json.Unmarshal(trimmed, &ps); err != nil {
			return variant{}, fmt.Errorf("parsing ranked predictions: %w", err)
		}
		if len(ps) == 0 {
			return variant{}, errors.New("empty ranked list")
		}
		return variant{kind: rankedList, ranked: ps}, nil
	default:
		return variant{}, fmt.Errorf("unexpected element %q", truncate(string(trimmed), 40))
	}
}

// top returns the top-ranked prediction of v.
func (v variant) top() Prediction {
	if v.kind == rankedList {
		return v.ranked[0]
	}
	return v.single
}

// decodePredictions resolves a model response into exactly want predictions.
// The response is a list with one element per input, each either a single
// {label, score} object or a ranked list of them. For a single input the model
// may also answer with a bare ranked list, which is accepted.
func decodePredictions(body []byte, want int) ([]Prediction, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("response is not a list: %w", err)
	}

	variants := make([]variant, 0, len(elems))
	for i, e := range elems {
		v, err := parseVariant(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		variants = append(variants, v)
	}

	if want == 1 && len(variants) > 1 && allSingle(variants) {
		ranked := make([]Prediction, len(variants))
		for i, v := range variants {
			ranked[i] = v.single
		}
		variants = []variant{{kind: rankedList, ranked: ranked}}
	}

	if len(variants) != want {
		return nil, fmt.Errorf("got %d predictions for %d inputs", len(variants), want)
	}

	preds := make([]Prediction, len(variants))
	for i, v := range variants {
		preds[i] = v.top()
	}
	return preds, nil
}

func allSingle(vs []variant) bool {
	for _, v := range vs {
		if v.kind != singleObject {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
