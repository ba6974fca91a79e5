package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Entity is a named entity found by a recognizer.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// IsLocation reports whether the entity label denotes a place.
func (e Entity) IsLocation() bool {
	switch e.Label {
	case "LOC", "GPE", "FAC":
		return true
	}
	return false
}

// Recognizer finds named entities in text.
type Recognizer interface {
	Entities(ctx context.Context, text string) ([]Entity, error)
}

var streetKeywords = []string{"straße", "platz", "allee", "weg", "gasse"}

// KeywordRecognizer is a dependency free recognizer that tags every word
// containing a street keyword as a location.
type KeywordRecognizer struct{}

func (KeywordRecognizer) Entities(_ context.Context, text string) ([]Entity, error) {
	var out []Entity
	for _, w := range strings.Fields(strings.ReplaceAll(text, ",", " ")) {
		w = strings.Trim(w, `.;:!?"'()[]„“”‚‘`)
		if utf8.RuneCountInString(w) <= 4 {
			continue
		}
		lw := strings.ToLower(w)
		for _, kw := range streetKeywords {
			if strings.Contains(lw, kw) {
				out = append(out, Entity{Text: w, Label: "LOC"})
				break
			}
		}
	}
	return out, nil
}

// HTTPRecognizer calls an external NER service. The service accepts
// {"text": ...} and answers {"ents": [{"text": ..., "label": ...}]}.
type HTTPRecognizer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRecognizer creates the recognizer and probes the service once.
// Callers fall back to regex-only extraction when the probe fails.
func NewHTTPRecognizer(ctx context.Context, endpoint string, timeout time.Duration) (*HTTPRecognizer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("extractor: ner endpoint is empty")
	}
	r := &HTTPRecognizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
	if _, err := r.Entities(ctx, "Maximilianstraße"); err != nil {
		return nil, fmt.Errorf("extractor: ner service unavailable: %w", err)
	}
	return r, nil
}

func (r *HTTPRecognizer) Entities(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extractor: build ner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: ner request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor: ner service returned %s", resp.Status)
	}

	var out struct {
		Ents []Entity `json:"ents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("extractor: decode ner response: %w", err)
	}
	return out.Ents, nil
}
