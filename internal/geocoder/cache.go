package geocoder

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"oparl-geo/internal/models"

	"golang.org/x/text/unicode/norm"
)

// cacheEntry is one value of the on-disk cache. Negative entries remember a
// lookup that found nothing.
type cacheEntry struct {
	Query       string           `json:"query,omitempty"`
	Latitude    float64          `json:"latitude,omitempty"`
	Longitude   float64          `json:"longitude,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	RawType     string           `json:"raw_type,omitempty"`
	Importance  float64          `json:"importance,omitempty"`
	Precision   models.Precision `json:"precision,omitempty"`
	Negative    bool             `json:"negative,omitempty"`
	FailedAt    *time.Time       `json:"failed_at,omitempty"`
}

func (e cacheEntry) result() *models.GeocodeResult {
	return &models.GeocodeResult{
		Query:       e.Query,
		Latitude:    e.Latitude,
		Longitude:   e.Longitude,
		DisplayName: e.DisplayName,
		RawType:     e.RawType,
		Importance:  e.Importance,
		Precision:   e.Precision,
	}
}

// Cache is a flat key to entry map persisted as a JSON object.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]cacheEntry
	dirty   bool
}

// CacheKey is the lower-case hex MD5 of the lower-cased text.
func CacheKey(text string) string {
	sum := md5.Sum([]byte(strings.ToLower(norm.NFC.String(strings.TrimSpace(text)))))
	return hex.EncodeToString(sum[:])
}

// LoadCache reads path fully into memory. A missing file gives an empty
// cache; an empty path gives a cache that is never persisted.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]cacheEntry)}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("geocoder: read cache: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("geocoder: decode cache %s: %w", path, err)
	}
	return c, nil
}

func (c *Cache) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) put(key string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.dirty = true
}

func (c *Cache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.dirty = true
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush writes the cache if it changed since the last flush. The file is
// replaced atomically.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || c.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("geocoder: encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("geocoder: create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".geocode-cache-*")
	if err != nil {
		return fmt.Errorf("geocoder: create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("geocoder: write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("geocoder: close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("geocoder: replace cache: %w", err)
	}
	c.dirty = false
	return nil
}
