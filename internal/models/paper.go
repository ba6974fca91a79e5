package models

// File is an OParl file object attached to a paper.
type File struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	AccessURL string `json:"accessUrl"`
}

// Paper is the subset of an OParl paper the pipeline works with.
type Paper struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Reference     string `json:"reference,omitempty"`
	Date          string `json:"date,omitempty"`
	PaperType     string `json:"paperType,omitempty"`
	Created       string `json:"created,omitempty"`
	Modified      string `json:"modified,omitempty"`
	MainFile      *File  `json:"mainFile,omitempty"`
	AuxiliaryFile []File `json:"auxiliaryFile,omitempty"`
}

// DocumentURL returns the main file's access URL, falling back to the first
// auxiliary file. Empty if the paper has no document attached.
func (p Paper) DocumentURL() string {
	if p.MainFile != nil && p.MainFile.AccessURL != "" {
		return p.MainFile.AccessURL
	}
	for _, f := range p.AuxiliaryFile {
		if f.AccessURL != "" {
			return f.AccessURL
		}
	}
	return ""
}

// TextResult is the outcome of extracting text from one paper's document.
type TextResult struct {
	URL                  string  `json:"url"`
	Success              bool    `json:"success"`
	Text                 string  `json:"text,omitempty"`
	Method               string  `json:"method,omitempty"`
	PageCount            int     `json:"page_count"`
	FileSizeKB           float64 `json:"file_size_kb"`
	UsedEphemeralStorage bool    `json:"used_ephemeral_storage"`
	Err                  error   `json:"-"`
}

// ErrorMessage returns the failure reason, or "" for successful results.
func (r TextResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// EnrichedRecord is what sinks receive for every processed paper.
type EnrichedRecord struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Reference        string             `json:"reference,omitempty"`
	Date             string             `json:"date,omitempty"`
	PaperType        string             `json:"type,omitempty"`
	Modified         string             `json:"modified,omitempty"`
	DocumentURL      string             `json:"pdf_url,omitempty"`
	FullText         string             `json:"full_text"`
	PageCount        int                `json:"page_count"`
	ExtractionMethod string             `json:"extraction_method,omitempty"`
	Locations        []EnrichedLocation `json:"locations"`
	LocationCount    int                `json:"location_count"`
}

// NewEnrichedRecord assembles a record. Locations is never nil and
// LocationCount always matches it.
func NewEnrichedRecord(p Paper, text TextResult, locations []EnrichedLocation) EnrichedRecord {
	if locations == nil {
		locations = []EnrichedLocation{}
	}
	return EnrichedRecord{
		ID:               p.ID,
		Name:             p.Name,
		Reference:        p.Reference,
		Date:             p.Date,
		PaperType:        p.PaperType,
		Modified:         p.Modified,
		DocumentURL:      p.DocumentURL(),
		FullText:         text.Text,
		PageCount:        text.PageCount,
		ExtractionMethod: text.Method,
		Locations:        locations,
		LocationCount:    len(locations),
	}
}
