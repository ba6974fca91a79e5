package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordRecognizer(t *testing.T) {
	ents, err := KeywordRecognizer{}.Entities(context.Background(), "Am Königsplatz, in der Maximilianstraße. Der Weg ist kurz (Frauentorgasse)")
	require.NoError(t, err)

	var texts []string
	for _, e := range ents {
		assert.True(t, e.IsLocation())
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{"Königsplatz", "Maximilianstraße", "Frauentorgasse"}, texts)
}

func TestHTTPRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ents": []Entity{{Text: body["text"], Label: "LOC"}, {Text: "Stadtrat", Label: "ORG"}},
		})
	}))
	defer srv.Close()

	r, err := NewHTTPRecognizer(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)

	ents, err := r.Entities(context.Background(), "Königsplatz")
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, Entity{Text: "Königsplatz", Label: "LOC"}, ents[0])
	assert.False(t, ents[1].IsLocation())
}

func TestNewHTTPRecognizer_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPRecognizer(context.Background(), srv.URL, time.Second)
	assert.Error(t, err)

	_, err = NewHTTPRecognizer(context.Background(), "", time.Second)
	assert.Error(t, err)
}
