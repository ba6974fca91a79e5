package extractor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRecognizer is a mock implementation of the Recognizer interface
type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) Entities(ctx context.Context, text string) ([]Entity, error) {
	args := m.Called(ctx, text)
	ents, _ := args.Get(0).([]Entity)
	return ents, args.Error(1)
}

func augsburg() *gazetteer.Store {
	return gazetteer.New([]models.GazetteerEntry{
		{Name: "Maximilianstraße", Kind: models.KindStreet, Coordinates: &models.Point{Lat: 48.3668, Lon: 10.8986}},
		{Name: "Königsplatz", Kind: models.KindStreet, Coordinates: &models.Point{Lat: 48.3656, Lon: 10.8917}},
		{Name: "Karl-Marx-Straße", Kind: models.KindStreet},
		{Name: "Oberhausen", Kind: models.KindDistrict},
		{Name: "Links der Wertach", Kind: models.KindDistrict},
	})
}

func newExtractor(t *testing.T, cfg Config, store *gazetteer.Store, source LocationSource) *Extractor {
	t.Helper()
	e, err := New(cfg, store, source, zerolog.Nop())
	require.NoError(t, err)
	return e
}

type found struct {
	Kind models.Kind
	Text string
}

func summarize(cs []models.LocationCandidate) []found {
	out := make([]found, 0, len(cs))
	for _, c := range cs {
		out = append(out, found{Kind: c.Kind, Text: c.Text})
	}
	return out
}

func TestExtractor_Extract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []found
	}{
		{
			name: "streets in a title",
			text: "Sanierung der Maximilianstraße und Pläne für den Königsplatz",
			expected: []found{
				{Kind: models.KindStreet, Text: "Maximilianstraße"},
				{Kind: models.KindStreet, Text: "Königsplatz"},
			},
		},
		{
			name:     "zoning plan",
			text:     "Bebauungsplan Nr. 45/2",
			expected: []found{{Kind: models.KindZoningPlan, Text: "45/2"}},
		},
		{
			name:     "zoning plan with letter prefix",
			text:     "Aufstellung des Bebauungsplans; Bebauungsplan Nummer A12b - 3 liegt aus",
			expected: []found{{Kind: models.KindZoningPlan, Text: "A12b - 3"}},
		},
		{
			name:     "parcel",
			text:     "betrifft Flurstück Nr. 123/4 der Gemarkung",
			expected: []found{{Kind: models.KindParcel, Text: "123/4"}},
		},
		{
			name:     "purely numeric identifiers are dropped",
			text:     "Bebauungsplan Nr. 10 und Flur 7",
			expected: []found{},
		},
		{
			name:     "address suppresses its bare street",
			text:     "Umbau des Gebäudes Maximilianstraße 12a wird geprüft",
			expected: []found{{Kind: models.KindAddress, Text: "Maximilianstraße 12a"}},
		},
		{
			name:     "abbreviated address passes the prefix firewall",
			text:     "Anwesen Maximilianstr. 3",
			expected: []found{{Kind: models.KindAddress, Text: "Maximilianstr. 3"}},
		},
		{
			name:     "hyphenated street",
			text:     "Lärmschutz an der Karl-Marx-Straße 5",
			expected: []found{{Kind: models.KindAddress, Text: "Karl-Marx-Straße 5"}},
		},
		{
			name:     "unknown street is rejected",
			text:     "Ausbau der Xyzqwstraße",
			expected: []found{},
		},
		{
			name: "duplicates collapse",
			text: "Maximilianstraße, MAXIMILIANSTRASSE und nochmal Maximilianstraße",
			expected: []found{
				{Kind: models.KindStreet, Text: "Maximilianstraße"},
			},
		},
		{
			name:     "street inside a longer word",
			text:     "Die Königsplatzes Umgestaltung",
			expected: []found{},
		},
		{
			name:     "districts are off by default",
			text:     "Sanierung in Oberhausen",
			expected: []found{},
		},
		{
			name:     "empty text",
			text:     "   ",
			expected: []found{},
		},
	}

	e := newExtractor(t, DefaultConfig(), augsburg(), nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Extract(context.Background(), tt.text, "paper-1", "https://example.org/1.pdf")
			require.NotNil(t, got)
			assert.ElementsMatch(t, tt.expected, summarize(got))
			for _, c := range got {
				assert.Equal(t, "paper-1", c.RecordID)
				assert.Equal(t, "https://example.org/1.pdf", c.DocumentURL)
				assert.Equal(t, models.MethodRegex, c.Method)
				assert.NotEmpty(t, c.Context)
			}
		})
	}
}

func TestExtractor_ZoningPlanContext(t *testing.T) {
	e := newExtractor(t, DefaultConfig(), augsburg(), nil)

	got := e.Extract(context.Background(), "Bebauungsplan Nr. 45/2", "", "")
	require.Len(t, got, 1)
	assert.Equal(t, "Bebauungsplan Nr. 45/2", got[0].Context)
	assert.Empty(t, got[0].RecordID)
}

func TestExtractor_DecomposedUmlauts(t *testing.T) {
	e := newExtractor(t, DefaultConfig(), augsburg(), nil)

	// "Königsplatz" with o + combining diaeresis, as some PDFs produce it
	got := e.Extract(context.Background(), "am Ko\u0308nigsplatz", "", "")
	assert.Equal(t, []found{{Kind: models.KindStreet, Text: "Königsplatz"}}, summarize(got))
}

func TestExtractor_Districts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableDistricts = true

	t.Run("with district gazetteer", func(t *testing.T) {
		e := newExtractor(t, cfg, augsburg(), nil)
		got := e.Extract(context.Background(), "Neue Kita in Oberhausen geplant. Stadtteil Links der Wertach profitiert", "", "")
		assert.ElementsMatch(t, []found{
			{Kind: models.KindDistrict, Text: "Oberhausen"},
			{Kind: models.KindDistrict, Text: "Links der Wertach"},
		}, summarize(got))
	})

	t.Run("unknown district", func(t *testing.T) {
		e := newExtractor(t, cfg, augsburg(), nil)
		got := e.Extract(context.Background(), "Neue Kita in Haunstetten geplant", "", "")
		assert.Empty(t, got)
	})

	t.Run("without district gazetteer", func(t *testing.T) {
		store := gazetteer.New([]models.GazetteerEntry{{Name: "Königsplatz", Kind: models.KindStreet}})
		e := newExtractor(t, cfg, store, nil)
		got := e.Extract(context.Background(), "Neue Kita in Oberhausen geplant", "", "")
		assert.Empty(t, got)
	})
}

func TestExtractor_Blocklist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Blocklist = []string{"königsplatz"}
	e := newExtractor(t, cfg, augsburg(), nil)

	got := e.Extract(context.Background(), "Maximilianstraße und Königsplatz", "", "")
	assert.Equal(t, []found{{Kind: models.KindStreet, Text: "Maximilianstraße"}}, summarize(got))
}

func TestExtractor_EmptyGazetteerDisablesFirewall(t *testing.T) {
	e := newExtractor(t, DefaultConfig(), nil, nil)

	got := e.Extract(context.Background(), "Ausbau der Xyzqwstraße", "", "")
	assert.Equal(t, []found{{Kind: models.KindStreet, Text: "Xyzqwstraße"}}, summarize(got))
}

func TestExtractor_SafetyCap(t *testing.T) {
	var (
		entries []models.GazetteerEntry
		names   []string
	)
	for i := 0; i < 80; i++ {
		name := fmt.Sprintf("Q%c%cweg", 'a'+i/26, 'a'+i%26)
		names = append(names, name)
		entries = append(entries, models.GazetteerEntry{Name: name, Kind: models.KindStreet})
	}
	e := newExtractor(t, DefaultConfig(), gazetteer.New(entries), nil)

	got := e.Extract(context.Background(), strings.Join(names, ", "), "", "https://example.org/big.pdf")
	require.Len(t, got, 50)
	assert.Equal(t, "Qaaweg", got[0].Text)
}

func TestExtractor_LocationSource(t *testing.T) {
	text := "Sanierung der Maximilianstraße und Pläne für den Königsplatz"

	t.Run("ner candidates win deduplication", func(t *testing.T) {
		e := newExtractor(t, DefaultConfig(), augsburg(), NewNERSource(KeywordRecognizer{}))
		got := e.Extract(context.Background(), text, "", "")
		require.Len(t, got, 2)
		for _, c := range got {
			assert.Equal(t, models.MethodNER, c.Method)
			assert.Nil(t, c.Coordinates)
		}
	})

	t.Run("gazetteer source attaches coordinates", func(t *testing.T) {
		rec := new(MockRecognizer)
		rec.On("Entities", mock.Anything, text).Return([]Entity{
			{Text: "der Maximilianstrasse", Label: "LOC"},
			{Text: "Pläne", Label: "MISC"},
		}, nil)
		src, err := NewGazetteerSource(rec, augsburg(), 0.85)
		require.NoError(t, err)

		e := newExtractor(t, DefaultConfig(), augsburg(), src)
		got := e.Extract(context.Background(), text, "", "")

		require.Len(t, got, 2)
		assert.Equal(t, "Maximilianstraße", got[0].Text)
		assert.Equal(t, models.MethodGazetteer, got[0].Method)
		require.NotNil(t, got[0].Coordinates)
		assert.Equal(t, 48.3668, got[0].Coordinates.Lat)
		assert.Equal(t, "Königsplatz", got[1].Text)
		assert.Equal(t, models.MethodRegex, got[1].Method)
		rec.AssertExpectations(t)
	})

	t.Run("failing source degrades to regex", func(t *testing.T) {
		rec := new(MockRecognizer)
		rec.On("Entities", mock.Anything, text).Return(nil, assert.AnError)

		e := newExtractor(t, DefaultConfig(), augsburg(), NewNERSource(rec))
		got := e.Extract(context.Background(), text, "", "")
		assert.Len(t, got, 2)
		rec.AssertExpectations(t)
	})
}

func TestExtractor_Valid(t *testing.T) {
	e := newExtractor(t, DefaultConfig(), augsburg(), nil)

	tests := []struct {
		name string
		c    models.LocationCandidate
		want bool
	}{
		{name: "street", c: models.LocationCandidate{Kind: models.KindStreet, Text: "Königsplatz"}, want: true},
		{name: "address", c: models.LocationCandidate{Kind: models.KindAddress, Text: "Maximilianstraße 12"}, want: true},
		{name: "multi word", c: models.LocationCandidate{Kind: models.KindStreet, Text: "Am Roten Tor"}, want: true},
		{name: "lowercase start", c: models.LocationCandidate{Kind: models.KindStreet, Text: "in der Maximilianstraße"}},
		{name: "all caps", c: models.LocationCandidate{Kind: models.KindStreet, Text: "HAUPTSTRASSE"}},
		{name: "too short", c: models.LocationCandidate{Kind: models.KindStreet, Text: "Ab"}},
		{name: "single character", c: models.LocationCandidate{Kind: models.KindParcel, Text: "7"}},
		{name: "too long", c: models.LocationCandidate{Kind: models.KindStreet, Text: strings.Repeat("Lang", 16)}},
		{name: "too many words", c: models.LocationCandidate{Kind: models.KindStreet, Text: "Eins Zwei Drei Vier Fünf"}},
		{name: "digits inside word", c: models.LocationCandidate{Kind: models.KindStreet, Text: "Straße3x"}},
		{name: "numeric zoning plan", c: models.LocationCandidate{Kind: models.KindZoningPlan, Text: "12345"}},
		{name: "zoning plan", c: models.LocationCandidate{Kind: models.KindZoningPlan, Text: "45/2"}, want: true},
		{name: "parcel", c: models.LocationCandidate{Kind: models.KindParcel, Text: "123 / 4"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.valid(tt.c))
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrefixRatio = 0
	_, err := New(cfg, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
