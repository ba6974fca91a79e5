package gazetteer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"oparl-geo/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

const (
	StreetsFile   = "streets.geojson"
	DistrictsFile = "districts.geojson"
)

// Store is an in-memory, read-only set of known street and district names.
type Store struct {
	layers map[models.Kind]*layer
}

type layer struct {
	byKey map[string]models.GazetteerEntry
	// keys sorted ascending, for prefix scans
	keys []string
	// canonical names in load order
	names []string
}

// New builds a store from entries. Entries without a name are ignored and the
// first entry wins when two names only differ in case.
func New(entries []models.GazetteerEntry) *Store {
	s := &Store{layers: map[models.Kind]*layer{
		models.KindStreet:   newLayer(),
		models.KindDistrict: newLayer(),
	}}
	for _, e := range entries {
		l, ok := s.layers[e.Kind]
		if !ok {
			continue
		}
		l.add(e)
	}
	for _, l := range s.layers {
		sort.Strings(l.keys)
	}
	return s
}

func newLayer() *layer {
	return &layer{byKey: make(map[string]models.GazetteerEntry)}
}

func (l *layer) add(e models.GazetteerEntry) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return
	}
	k := Key(e.Name)
	if _, dup := l.byKey[k]; dup {
		return
	}
	l.byKey[k] = e
	l.keys = append(l.keys, k)
	l.names = append(l.names, e.Name)
}

// Load reads streets.geojson and districts.geojson from dir. A missing file
// yields an empty layer and a warning; a malformed one is an error.
func Load(dir string, logger zerolog.Logger) (*Store, error) {
	var entries []models.GazetteerEntry
	for kind, file := range map[models.Kind]string{
		models.KindStreet:   StreetsFile,
		models.KindDistrict: DistrictsFile,
	} {
		path := filepath.Join(dir, file)
		layerEntries, err := LoadFile(path, kind)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Str("path", path).Msg("gazetteer file not found, run `oparl-geo setup gazetteer` to fetch it")
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, layerEntries...)
	}

	return loaded(New(entries), "files", logger), nil
}

// EntrySource lists the stored entries of one kind.
type EntrySource interface {
	LoadEntries(ctx context.Context, kind models.Kind) ([]models.GazetteerEntry, error)
}

// LoadFrom builds a store from the street and district entries of src,
// typically the PostGIS gazetteer table.
func LoadFrom(ctx context.Context, src EntrySource, logger zerolog.Logger) (*Store, error) {
	var entries []models.GazetteerEntry
	for _, kind := range []models.Kind{models.KindStreet, models.KindDistrict} {
		layerEntries, err := src.LoadEntries(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("gazetteer: load %s entries: %w", kind, err)
		}
		entries = append(entries, layerEntries...)
	}
	return loaded(New(entries), "database", logger), nil
}

func loaded(s *Store, source string, logger zerolog.Logger) *Store {
	logger.Info().
		Str("source", source).
		Int("streets", s.Len(models.KindStreet)).
		Int("districts", s.Len(models.KindDistrict)).
		Msg("gazetteer loaded")
	return s
}

// LoadFile parses one GeoJSON feature collection into entries of kind.
func LoadFile(path string, kind models.Kind) ([]models.GazetteerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: read %s: %w", path, err)
	}
	entries, err := Parse(data, kind)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: %s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes a feature collection. The canonical name is the feature's
// "name" property; point geometries give the coordinates, other geometries
// contribute the center of their bounding box.
func Parse(data []byte, kind models.Kind) ([]models.GazetteerEntry, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	entries := make([]models.GazetteerEntry, 0, len(fc.Features))
	for _, f := range fc.Features {
		name := strings.TrimSpace(f.Properties.MustString("name", ""))
		if name == "" {
			continue
		}
		e := models.GazetteerEntry{Name: name, Kind: kind}
		if f.Geometry != nil {
			var c orb.Point
			if p, ok := f.Geometry.(orb.Point); ok {
				c = p
			} else {
				c = f.Geometry.Bound().Center()
			}
			e.Coordinates = &models.Point{Lat: c.Lat(), Lon: c.Lon()}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Write stores entries as a GeoJSON feature collection. Entries without
// coordinates are skipped.
func Write(path string, entries []models.GazetteerEntry) error {
	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		if e.Coordinates == nil {
			continue
		}
		f := geojson.NewFeature(orb.Point{e.Coordinates.Lon, e.Coordinates.Lat})
		f.Properties["name"] = e.Name
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("gazetteer: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("gazetteer: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("gazetteer: write %s: %w", path, err)
	}
	return nil
}

// Key is the normalised lookup form of a name.
func Key(name string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))
}

// Len returns the number of entries of kind.
func (s *Store) Len(kind models.Kind) int {
	if l, ok := s.layers[kind]; ok {
		return len(l.keys)
	}
	return 0
}

// Names returns the canonical names of kind in load order.
func (s *Store) Names(kind models.Kind) []string {
	l, ok := s.layers[kind]
	if !ok {
		return nil
	}
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Lookup finds the entry whose name equals name, ignoring case.
func (s *Store) Lookup(kind models.Kind, name string) (models.GazetteerEntry, bool) {
	l, ok := s.layers[kind]
	if !ok {
		return models.GazetteerEntry{}, false
	}
	e, ok := l.byKey[Key(name)]
	return e, ok
}

// Contains reports whether name is a known entry of kind.
func (s *Store) Contains(kind models.Kind, name string) bool {
	_, ok := s.Lookup(kind, name)
	return ok
}

// CoordinatesOf returns the coordinates of a street, falling back to districts.
func (s *Store) CoordinatesOf(name string) (*models.Point, bool) {
	for _, kind := range []models.Kind{models.KindStreet, models.KindDistrict} {
		if e, ok := s.Lookup(kind, name); ok && e.Coordinates != nil {
			p := *e.Coordinates
			return &p, true
		}
	}
	return nil, false
}

// MatchStreet reports whether text is a known street: either an exact match,
// or a prefix of some street name that covers at least ratio of its length.
// A trailing abbreviation dot is ignored for the prefix test.
func (s *Store) MatchStreet(text string, ratio float64) bool {
	l := s.layers[models.KindStreet]
	k := Key(text)
	if k == "" {
		return false
	}
	if _, ok := l.byKey[k]; ok {
		return true
	}

	prefix := strings.TrimSuffix(k, ".")
	if prefix == "" {
		return false
	}
	n := utf8.RuneCountInString(prefix)
	i := sort.SearchStrings(l.keys, prefix)
	for ; i < len(l.keys) && strings.HasPrefix(l.keys[i], prefix); i++ {
		if float64(n) >= ratio*float64(utf8.RuneCountInString(l.keys[i])) {
			return true
		}
	}
	return false
}

// Search returns up to limit entries whose name contains query, ignoring
// case. Prefix matches come first.
func (s *Store) Search(query string, limit int) []models.GazetteerEntry {
	q := Key(query)
	if q == "" || limit <= 0 {
		return []models.GazetteerEntry{}
	}

	var prefix, contains []models.GazetteerEntry
	for _, kind := range []models.Kind{models.KindStreet, models.KindDistrict} {
		l := s.layers[kind]
		for _, k := range l.keys {
			switch {
			case strings.HasPrefix(k, q):
				prefix = append(prefix, l.byKey[k])
			case strings.Contains(k, q):
				contains = append(contains, l.byKey[k])
			}
		}
	}

	out := append(prefix, contains...)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []models.GazetteerEntry{}
	}
	return out
}

// Nearest returns the entry with coordinates closest to (lat, lon) within
// maxMeters.
func (s *Store) Nearest(lat, lon, maxMeters float64) (models.GazetteerEntry, bool) {
	origin := orb.Point{lon, lat}
	var (
		best  models.GazetteerEntry
		bestD = maxMeters
		found bool
	)
	for _, kind := range []models.Kind{models.KindStreet, models.KindDistrict} {
		for _, e := range s.layers[kind].byKey {
			if e.Coordinates == nil {
				continue
			}
			d := geo.DistanceHaversine(origin, orb.Point{e.Coordinates.Lon, e.Coordinates.Lat})
			if d <= bestD && (!found || d < bestD || e.Name < best.Name) {
				best, bestD, found = e, d, true
			}
		}
	}
	return best, found
}
