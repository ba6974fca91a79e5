package sink

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"oparl-geo/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/rs/zerolog"
)

const (
	nsRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsRDFS    = "http://www.w3.org/2000/01/rdf-schema#"
	nsXSD     = "http://www.w3.org/2001/XMLSchema#"
	nsDCTerms = "http://purl.org/dc/terms/"
	nsOParl   = "http://oparl.org/schema/1.1/"
	nsGeo     = "http://www.opengis.net/ont/geosparql#"

	crs84 = "<http://www.opengis.net/def/crs/EPSG/0/4326> "

	// maxRDFText bounds the full text stored per paper.
	maxRDFText = 1000
)

// DefaultBaseURI is used when no base URI is configured.
const DefaultBaseURI = "http://augsburg.oparl-analytics.org/"

// RDFSink appends N-Triples per batch and, when the final format is turtle,
// rewrites the accumulated file as Turtle on Finalize.
type RDFSink struct {
	path        string
	baseURI     string
	finalFormat string
	logger      zerolog.Logger

	mu      sync.Mutex
	triples int
}

func NewRDFSink(path, baseURI, finalFormat string, logger zerolog.Logger) (*RDFSink, error) {
	if baseURI == "" {
		baseURI = DefaultBaseURI
	}
	if !strings.HasSuffix(baseURI, "/") {
		baseURI += "/"
	}
	switch finalFormat {
	case "", "nt", "ntriples":
		finalFormat = "nt"
	case "turtle", "ttl":
		finalFormat = "turtle"
	default:
		return nil, fmt.Errorf("%w: unknown rdf format %q", ErrInvalidConfig, finalFormat)
	}
	return &RDFSink{path: path, baseURI: baseURI, finalFormat: finalFormat, logger: logger}, nil
}

// Path is the N-Triples file the sink appends to.
func (s *RDFSink) Path() string { return s.path }

// TurtlePath is where Finalize writes Turtle output.
func (s *RDFSink) TurtlePath() string {
	return strings.TrimSuffix(s.path, filepath.Ext(s.path)) + ".ttl"
}

func (s *RDFSink) WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var g graph
	for _, r := range records {
		s.addPaper(&g, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return 0, fmt.Errorf("sink: create %s: %w", filepath.Dir(s.path), err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("sink: open %s: %w", s.path, err)
	}
	w := bufio.NewWriter(f)
	for _, t := range g {
		fmt.Fprintf(w, "%s %s %s .\n", t.s, t.p, t.o)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("sink: write %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("sink: close %s: %w", s.path, err)
	}

	s.triples += len(g)
	s.logger.Info().Int("papers", len(records)).Int("triples", len(g)).Msg("rdf batch appended")
	return len(records), nil
}

// Finalize converts the N-Triples file to Turtle when configured.
func (s *RDFSink) Finalize(ctx context.Context) error {
	if s.finalFormat != "turtle" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.logger.Warn().Str("path", s.path).Msg("no rdf written, skipping turtle output")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", s.path, err)
	}
	defer in.Close()

	out, err := os.Create(s.TurtlePath())
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", s.TurtlePath(), err)
	}
	n, err := writeTurtle(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("sink: write turtle: %w", err)
	}

	s.logger.Info().Int("triples", n).Str("path", s.TurtlePath()).Msg("rdf serialized as turtle")
	return nil
}

type triple struct{ s, p, o string }

type graph []triple

func (g *graph) add(s, p, o string) {
	*g = append(*g, triple{s, p, o})
}

func (s *RDFSink) paperIRI(id string) string {
	return iri(s.baseURI + "paper/" + url.PathEscape(shortID(id)))
}

func (s *RDFSink) locationIRI(paperID string, loc models.EnrichedLocation) string {
	local := fmt.Sprintf("%s_%s_%s", shortID(paperID), loc.Kind, loc.Text)
	local = strings.NewReplacer(" ", "_", "/", "-").Replace(local)
	return iri(s.baseURI + "location/" + url.PathEscape(local))
}

func (s *RDFSink) addPaper(g *graph, r models.EnrichedRecord) {
	if r.ID == "" {
		return
	}
	paper := s.paperIRI(r.ID)

	g.add(paper, iri(nsRDF+"type"), iri(nsOParl+"Paper"))
	if r.Name != "" {
		g.add(paper, iri(nsRDFS+"label"), langLiteral(r.Name, "de"))
		g.add(paper, iri(nsOParl+"name"), literal(r.Name))
	}
	if r.Reference != "" {
		g.add(paper, iri(nsOParl+"reference"), literal(r.Reference))
	}
	if len(r.Date) >= 10 {
		if _, err := time.Parse("2006-01-02", r.Date[:10]); err == nil {
			g.add(paper, iri(nsDCTerms+"date"), typedLiteral(r.Date[:10], nsXSD+"date"))
		}
	}
	if r.PaperType != "" {
		g.add(paper, iri(nsOParl+"paperType"), literal(r.PaperType))
	}
	if r.FullText != "" {
		g.add(paper, iri(nsOParl+"text"), literal(truncateRunes(r.FullText, maxRDFText)))
	}
	if r.DocumentURL != "" {
		g.add(paper, iri(nsOParl+"mainFile"), iri(r.DocumentURL))
	}
	if t, err := time.Parse(time.RFC3339, r.Modified); err == nil {
		g.add(paper, iri(nsDCTerms+"modified"), typedLiteral(t.Format(time.RFC3339), nsXSD+"dateTime"))
	}

	for _, loc := range r.Locations {
		s.addLocation(g, paper, r.ID, loc)
	}
}

func (s *RDFSink) addLocation(g *graph, paper, paperID string, loc models.EnrichedLocation) {
	node := s.locationIRI(paperID, loc)

	g.add(paper, iri(nsOParl+"relatesToLocation"), node)
	g.add(node, iri(nsRDF+"type"), iri(nsGeo+"Feature"))
	if loc.Text != "" {
		g.add(node, iri(nsRDFS+"label"), langLiteral(loc.Text, "de"))
	}
	if loc.Kind != "" {
		g.add(node, iri(nsOParl+"locationType"), literal(string(loc.Kind)))
	}
	if loc.Geocoded() {
		point := orb.Point{*loc.Longitude, *loc.Latitude}
		g.add(node, iri(nsGeo+"hasGeometry"), typedLiteral(crs84+wkt.MarshalString(point), nsGeo+"wktLiteral"))
		g.add(node, iri(nsGeo+"lat"), typedLiteral(formatFloat(*loc.Latitude), nsXSD+"double"))
		g.add(node, iri(nsGeo+"long"), typedLiteral(formatFloat(*loc.Longitude), nsXSD+"double"))
	}
	if loc.DisplayName != "" {
		g.add(node, iri(nsOParl+"displayName"), literal(loc.DisplayName))
	}
	if loc.Method != "" {
		g.add(node, iri(nsOParl+"extractionMethod"), literal(string(loc.Method)))
	}
	if loc.DocumentURL != "" {
		g.add(node, iri(nsOParl+"sourceDocument"), iri(loc.DocumentURL))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func iri(s string) string {
	return "<" + iriEscaper.Replace(s) + ">"
}

var iriEscaper = strings.NewReplacer(
	" ", "%20", "<", "%3C", ">", "%3E", `"`, "%22", "{", "%7B", "}", "%7D",
	"|", "%7C", "^", "%5E", "`", "%60", `\`, "%5C",
)

var literalEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

func langLiteral(s, lang string) string {
	return literal(s) + "@" + lang
}

func typedLiteral(s, datatype string) string {
	return literal(s) + "^^" + iri(datatype)
}
