// Package overpass fetches the street and district names of a city from
// OpenStreetMap and stores them as the local gazetteer.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

type Config struct {
	Endpoint      string
	Timeout       time.Duration
	UserAgent     string
	RetryAttempts int
	RetryPause    time.Duration
	// DistrictAdminLevel is the OSM admin_level of city districts.
	DistrictAdminLevel string
}

type center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *center           `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type response struct {
	Elements []element `json:"elements"`
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "oparl-geo/1.0"
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 5 * time.Second
	}
	if cfg.DistrictAdminLevel == "" {
		cfg.DistrictAdminLevel = "10"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// AreaName turns a configured city slug into the OSM area name.
func AreaName(city string) string {
	return cases.Title(language.German).String(strings.TrimSpace(city))
}

func (c *Client) areaClause(city string) string {
	return fmt.Sprintf(`area["name"=%q]["boundary"="administrative"]->.city;`, AreaName(city))
}

// Streets returns one entry per distinct named highway in the city, located
// at the way's center.
func (c *Client) Streets(ctx context.Context, city string) ([]models.GazetteerEntry, error) {
	q := fmt.Sprintf("[out:json][timeout:%d];\n%s\nway[\"highway\"][\"name\"](area.city);\nout center;",
		int(c.cfg.Timeout.Seconds()), c.areaClause(city))
	entries, err := c.fetch(ctx, q, models.KindStreet)
	if err != nil {
		return nil, fmt.Errorf("overpass: streets of %s: %w", city, err)
	}
	c.logger.Info().Str("city", city).Int("streets", len(entries)).Msg("streets fetched")
	return entries, nil
}

// Districts returns the named administrative subdivisions of the city.
func (c *Client) Districts(ctx context.Context, city string) ([]models.GazetteerEntry, error) {
	q := fmt.Sprintf("[out:json][timeout:%d];\n%s\nrelation[\"boundary\"=\"administrative\"][\"admin_level\"=%q][\"name\"](area.city);\nout center;",
		int(c.cfg.Timeout.Seconds()), c.areaClause(city), c.cfg.DistrictAdminLevel)
	entries, err := c.fetch(ctx, q, models.KindDistrict)
	if err != nil {
		return nil, fmt.Errorf("overpass: districts of %s: %w", city, err)
	}
	c.logger.Info().Str("city", city).Int("districts", len(entries)).Msg("districts fetched")
	return entries, nil
}

func (c *Client) fetch(ctx context.Context, query string, kind models.Kind) ([]models.GazetteerEntry, error) {
	var resp response
	if err := c.post(ctx, query, &resp); err != nil {
		return nil, err
	}
	return toEntries(resp.Elements, kind), nil
}

// toEntries keeps the first element of every name. Elements without a
// position are dropped.
func toEntries(elements []element, kind models.Kind) []models.GazetteerEntry {
	seen := make(map[string]struct{})
	entries := make([]models.GazetteerEntry, 0, len(elements))
	for _, el := range elements {
		name := strings.TrimSpace(el.Tags["name"])
		if name == "" {
			continue
		}
		var p *models.Point
		switch {
		case el.Center != nil:
			p = &models.Point{Lat: el.Center.Lat, Lon: el.Center.Lon}
		case el.Lat != nil && el.Lon != nil:
			p = &models.Point{Lat: *el.Lat, Lon: *el.Lon}
		default:
			continue
		}
		k := gazetteer.Key(name)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		entries = append(entries, models.GazetteerEntry{ID: el.ID, Name: name, Kind: kind, Coordinates: p})
	}
	return entries
}

func (c *Client) post(ctx context.Context, query string, out any) error {
	form := url.Values{"data": {query}}.Encode()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryPause
	policy := backoff.WithMaxRetries(b, uint64(max(c.cfg.RetryAttempts, 0)))
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("overpass query failed, retrying")
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

// WriteGazetteer stores streets and districts in the files the gazetteer
// loader expects.
func WriteGazetteer(dir string, streets, districts []models.GazetteerEntry) error {
	if err := gazetteer.Write(filepath.Join(dir, gazetteer.StreetsFile), streets); err != nil {
		return err
	}
	return gazetteer.Write(filepath.Join(dir, gazetteer.DistrictsFile), districts)
}
