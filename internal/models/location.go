package models

// Kind classifies a location candidate.
type Kind string

const (
	KindStreet     Kind = "street"
	KindAddress    Kind = "address"
	KindZoningPlan Kind = "zoning_plan"
	KindParcel     Kind = "parcel"
	KindDistrict   Kind = "district"
)

// Identifier reports whether the kind is an administrative identifier
// (zoning plan, parcel) rather than a place that can be put on a map.
func (k Kind) Identifier() bool {
	return k == KindZoningPlan || k == KindParcel
}

// Method records how a candidate was found.
type Method string

const (
	MethodNER       Method = "ner"
	MethodGazetteer Method = "gazetteer"
	MethodRegex     Method = "regex"
)

// Source records where a location's coordinates came from.
type Source string

const (
	SourceGazetteer Source = "gazetteer"
	SourceGeocoder  Source = "geocoder"
)

// Precision tells consumers whether coordinates point at the place itself
// or only at the city it lies in.
type Precision string

const (
	PrecisionExact Precision = "exact"
	PrecisionCity  Precision = "city"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationCandidate is a spatial reference pulled out of free text.
type LocationCandidate struct {
	Kind        Kind   `json:"type"`
	Text        string `json:"value"`
	Method      Method `json:"method"`
	Context     string `json:"context,omitempty"`
	RecordID    string `json:"paper_id,omitempty"`
	DocumentURL string `json:"pdf_url,omitempty"`

	// Coordinates is only set when the candidate was resolved against the
	// gazetteer during extraction.
	Coordinates *Point `json:"-"`
}

// GeocodeResult is a successful resolution of a query to coordinates.
type GeocodeResult struct {
	Query       string    `json:"query"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	DisplayName string    `json:"display_name"`
	RawType     string    `json:"raw_type"`
	Importance  float64   `json:"importance"`
	Precision   Precision `json:"precision"`
}

// EnrichedLocation is a candidate plus whatever geocoding produced for it.
type EnrichedLocation struct {
	LocationCandidate

	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	MatchedQuery string    `json:"query,omitempty"`
	Source       Source    `json:"source,omitempty"`
	Precision    Precision `json:"precision,omitempty"`
}

// Geocoded reports whether the location carries coordinates.
func (l EnrichedLocation) Geocoded() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// GazetteerEntry is a known street or place name.
type GazetteerEntry struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Coordinates *Point `json:"coordinates,omitempty"`
}
