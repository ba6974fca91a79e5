package sink

import (
	"encoding/json"
	"strings"
	"time"

	"oparl-geo/internal/models"

	"github.com/google/uuid"
)

// locationNamespace scopes the name-based location ids.
var locationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://oparl.org/locations"))

// LocationID is stable for the same paper, kind and text across runs.
func LocationID(paperID string, kind models.Kind, value string) string {
	return uuid.NewSHA1(locationNamespace, []byte(paperID+"\x00"+string(kind)+"\x00"+value)).String()
}

// PaperRow is one row of the papers table.
type PaperRow struct {
	ID               string `parquet:"id"`
	Name             string `parquet:"name"`
	Reference        string `parquet:"reference"`
	Date             string `parquet:"date"`
	Year             *int32 `parquet:"year,optional"`
	Type             string `parquet:"type"`
	Modified         string `parquet:"modified"`
	PDFURL           string `parquet:"pdf_url"`
	FullText         string `parquet:"full_text,snappy"`
	PageCount        int32  `parquet:"page_count"`
	ExtractionMethod string `parquet:"extraction_method"`
	LocationCount    int32  `parquet:"location_count"`
	Locations        string `parquet:"locations,snappy"`
	City             string `parquet:"city"`
}

// LocationRow is one extracted location with a link back to its paper.
type LocationRow struct {
	LocationID    string   `parquet:"location_id"`
	PaperID       string   `parquet:"paper_id"`
	PaperName     string   `parquet:"paper_name"`
	PaperDate     string   `parquet:"paper_date"`
	PDFURL        string   `parquet:"pdf_url"`
	LocationType  string   `parquet:"location_type"`
	LocationValue string   `parquet:"location_value"`
	Latitude      *float64 `parquet:"latitude,optional"`
	Longitude     *float64 `parquet:"longitude,optional"`
	DisplayName   string   `parquet:"display_name"`
	Query         string   `parquet:"query"`
	Method        string   `parquet:"method"`
	Source        string   `parquet:"source"`
	Precision     string   `parquet:"precision"`
	Context       string   `parquet:"context"`
	City          string   `parquet:"city"`
}

func paperRow(r models.EnrichedRecord, city string) (PaperRow, error) {
	locs, err := json.Marshal(r.Locations)
	if err != nil {
		return PaperRow{}, err
	}
	return PaperRow{
		ID:               r.ID,
		Name:             r.Name,
		Reference:        r.Reference,
		Date:             r.Date,
		Year:             year(r.Date),
		Type:             r.PaperType,
		Modified:         r.Modified,
		PDFURL:           r.DocumentURL,
		FullText:         r.FullText,
		PageCount:        int32(r.PageCount),
		ExtractionMethod: r.ExtractionMethod,
		LocationCount:    int32(r.LocationCount),
		Locations:        string(locs),
		City:             city,
	}, nil
}

// locationRows flattens the locations of all records.
func locationRows(records []models.EnrichedRecord, city string) []LocationRow {
	var rows []LocationRow
	for _, r := range records {
		for _, loc := range r.Locations {
			rows = append(rows, LocationRow{
				LocationID:    LocationID(r.ID, loc.Kind, loc.Text),
				PaperID:       r.ID,
				PaperName:     r.Name,
				PaperDate:     r.Date,
				PDFURL:        r.DocumentURL,
				LocationType:  string(loc.Kind),
				LocationValue: loc.Text,
				Latitude:      loc.Latitude,
				Longitude:     loc.Longitude,
				DisplayName:   loc.DisplayName,
				Query:         loc.MatchedQuery,
				Method:        string(loc.Method),
				Source:        string(loc.Source),
				Precision:     string(loc.Precision),
				Context:       loc.Context,
				City:          city,
			})
		}
	}
	return rows
}

// year parses the leading date of an OParl date or date-time.
func year(date string) *int32 {
	if len(date) < 10 {
		return nil
	}
	t, err := time.Parse("2006-01-02", date[:10])
	if err != nil {
		return nil
	}
	y := int32(t.Year())
	return &y
}

// shortID returns the last path segment of an OParl URL.
func shortID(id string) string {
	id = strings.TrimRight(id, "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	if id == "" {
		return "unknown"
	}
	return id
}
