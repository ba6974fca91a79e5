package extractor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/models"

	"github.com/agext/levenshtein"
)

// Mention is a place name reported by a LocationSource. Coordinates is set
// when the source resolved the name itself.
type Mention struct {
	Text        string
	Coordinates *models.Point
}

// LocationSource finds place mentions in text.
type LocationSource interface {
	Locate(ctx context.Context, text string) ([]Mention, error)
}

// NERSource reports location entities verbatim.
type NERSource struct {
	recognizer Recognizer
}

func NewNERSource(r Recognizer) *NERSource {
	return &NERSource{recognizer: r}
}

func (s *NERSource) Locate(ctx context.Context, text string) ([]Mention, error) {
	ents, err := s.recognizer.Entities(ctx, text)
	if err != nil {
		return nil, err
	}
	out := make([]Mention, 0, len(ents))
	for _, e := range ents {
		if e.IsLocation() {
			out = append(out, Mention{Text: e.Text})
		}
	}
	return out, nil
}

// GazetteerSource snaps location entities onto the closest street name in
// the gazetteer and reports the canonical name with its coordinates.
type GazetteerSource struct {
	recognizer Recognizer
	store      *gazetteer.Store
	threshold  float64
	streets    []string
}

// NewGazetteerSource creates a source matching entities with a normalised
// Levenshtein similarity of at least threshold.
func NewGazetteerSource(r Recognizer, store *gazetteer.Store, threshold float64) (*GazetteerSource, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: fuzzy threshold must be in (0, 1], got %v", ErrInvalidConfig, threshold)
	}
	return &GazetteerSource{
		recognizer: r,
		store:      store,
		threshold:  threshold,
		streets:    store.Names(models.KindStreet),
	}, nil
}

func (s *GazetteerSource) Locate(ctx context.Context, text string) ([]Mention, error) {
	ents, err := s.recognizer.Entities(ctx, text)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Mention
	for _, e := range ents {
		if !e.IsLocation() {
			continue
		}
		name, ok := s.bestMatch(e.Text)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		m := Mention{Text: name}
		if p, ok := s.store.CoordinatesOf(name); ok {
			m.Coordinates = p
		}
		out = append(out, m)
	}
	return out, nil
}

// bestMatch compares every trailing word window of the entity ("in der
// Maximilianstraße", "der Maximilianstraße", "Maximilianstraße") with every
// street and returns the best scoring street above the threshold.
func (s *GazetteerSource) bestMatch(entity string) (string, bool) {
	words := strings.Fields(entity)
	if len(words) == 0 {
		return "", false
	}

	var (
		best      string
		bestScore float64
	)
	for i := range words {
		window := strings.ToLower(strings.Join(words[i:], " "))
		wl := utf8.RuneCountInString(window)
		for _, street := range s.streets {
			key := gazetteer.Key(street)
			sl := utf8.RuneCountInString(key)
			// length difference alone bounds the achievable similarity
			if 1-math.Abs(float64(wl-sl))/math.Max(float64(wl), float64(sl)) < s.threshold {
				continue
			}
			score := levenshtein.Similarity(window, key, nil)
			if score > bestScore {
				best, bestScore = street, score
			}
		}
	}
	return best, bestScore >= s.threshold
}
