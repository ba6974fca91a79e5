package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrTransient marks provider failures worth retrying later: timeouts,
// throttling and server errors.
var ErrTransient = errors.New("geocoder: transient provider error")

// Place is a raw provider hit.
type Place struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
	Type        string
	Importance  float64
}

// Lookup resolves a free text query. It returns (nil, nil) when the provider
// has no match.
type Lookup interface {
	Search(ctx context.Context, query string) (*Place, error)
}

// NominatimClient queries a Nominatim compatible search endpoint.
type NominatimClient struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func NewNominatimClient(endpoint, userAgent string, timeout time.Duration) *NominatimClient {
	return &NominatimClient{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Type        string  `json:"type"`
	Importance  float64 `json:"importance"`
}

func (c *NominatimClient) Search(ctx context.Context, query string) (*Place, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("geocoder: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocoder: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "de")

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("geocoder: request %q: %w", query, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", ErrTransient, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("geocoder: provider returned %s", resp.Status)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("geocoder: decode response: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoder: invalid latitude %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoder: invalid longitude %q: %w", p.Lon, err)
	}
	return &Place{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: p.DisplayName,
		Type:        p.Type,
		Importance:  p.Importance,
	}, nil
}
