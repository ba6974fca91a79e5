package extractor

import (
	"context"
	"strings"
	"unicode/utf8"

	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// Extractor turns free text into filtered location candidates.
type Extractor struct {
	cfg       Config
	store     *gazetteer.Store
	source    LocationSource
	blocklist map[string]struct{}
	districts bool
	firewall  bool
	logger    zerolog.Logger
}

// New creates an extractor. A nil source means regex-only extraction; a nil
// store behaves like an empty gazetteer.
func New(cfg Config, store *gazetteer.Store, source LocationSource, logger zerolog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = gazetteer.New(nil)
	}

	e := &Extractor{
		cfg:       cfg,
		store:     store,
		source:    source,
		blocklist: make(map[string]struct{}, len(cfg.Blocklist)),
		districts: cfg.EnableDistricts,
		firewall:  store.Len(models.KindStreet) > 0,
		logger:    logger,
	}
	for _, b := range cfg.Blocklist {
		if k := gazetteer.Key(b); k != "" {
			e.blocklist[k] = struct{}{}
		}
	}

	if !e.firewall {
		logger.Warn().Msg("street gazetteer is empty, gazetteer firewall disabled")
	}
	if e.districts && store.Len(models.KindDistrict) == 0 {
		logger.Warn().Msg("district extraction needs a district gazetteer, leaving it disabled")
		e.districts = false
	}
	if source == nil {
		logger.Info().Msg("no location source configured, using regex extraction only")
	}
	return e, nil
}

// Extract returns the de-duplicated, validated candidates found in text.
// It never fails; an empty text yields an empty slice.
func (e *Extractor) Extract(ctx context.Context, text, recordID, documentURL string) []models.LocationCandidate {
	out := []models.LocationCandidate{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	text = norm.NFC.String(text)

	raw := e.recognize(ctx, text)
	raw = append(raw, e.identifiers(text)...)
	raw = append(raw, e.streets(text)...)
	if e.districts {
		raw = append(raw, e.districtMentions(text)...)
	}

	seen := make(map[string]bool, len(raw))
	for _, c := range raw {
		key := string(c.Kind) + "\x00" + gazetteer.Key(c.Text)
		if seen[key] {
			continue
		}
		seen[key] = true

		if !e.valid(c) {
			continue
		}
		if !e.passesFirewall(c) {
			e.logger.Debug().Str("candidate", c.Text).Str("kind", string(c.Kind)).Msg("rejected by gazetteer firewall")
			continue
		}
		c.RecordID = recordID
		c.DocumentURL = documentURL
		out = append(out, c)
	}

	return e.capped(out, documentURL)
}

func (e *Extractor) recognize(ctx context.Context, text string) []models.LocationCandidate {
	if e.source == nil {
		return nil
	}
	mentions, err := e.source.Locate(ctx, text)
	if err != nil {
		e.logger.Debug().Err(err).Msg("location source failed, continuing with regex extraction")
		return nil
	}

	out := make([]models.LocationCandidate, 0, len(mentions))
	for _, m := range mentions {
		t := clean(m.Text)
		c := models.LocationCandidate{Kind: models.KindStreet, Text: t, Method: models.MethodNER}
		if houseNumberSuffix.MatchString(t) {
			c.Kind = models.KindAddress
		}
		if m.Coordinates != nil {
			c.Method = models.MethodGazetteer
			p := *m.Coordinates
			c.Coordinates = &p
		}
		out = append(out, c)
	}
	return out
}

func (e *Extractor) identifiers(text string) []models.LocationCandidate {
	var out []models.LocationCandidate
	for _, m := range findAll(zoningPattern, text) {
		out = append(out, models.LocationCandidate{
			Kind:    models.KindZoningPlan,
			Text:    clean(m.groups[0]),
			Method:  models.MethodRegex,
			Context: contextAround(text, m.start, m.end),
		})
	}
	for _, m := range findAll(parcelPattern, text) {
		out = append(out, models.LocationCandidate{
			Kind:    models.KindParcel,
			Text:    clean(m.groups[0]),
			Method:  models.MethodRegex,
			Context: contextAround(text, m.start, m.end),
		})
	}
	return out
}

// streets finds addresses first, then bare street names that are not
// already the street part of an address.
func (e *Extractor) streets(text string) []models.LocationCandidate {
	var out []models.LocationCandidate
	inAddress := make(map[string]bool)
	for _, m := range findAll(addressPattern, text) {
		street := clean(m.groups[0])
		inAddress[gazetteer.Key(street)] = true
		out = append(out, models.LocationCandidate{
			Kind:    models.KindAddress,
			Text:    street + " " + m.groups[1],
			Method:  models.MethodRegex,
			Context: contextAround(text, m.start, m.end),
		})
	}
	for _, m := range findAll(streetPattern, text) {
		street := clean(text[m.start:m.end])
		if inAddress[gazetteer.Key(street)] {
			continue
		}
		out = append(out, models.LocationCandidate{
			Kind:    models.KindStreet,
			Text:    street,
			Method:  models.MethodRegex,
			Context: contextAround(text, m.start, m.end),
		})
	}
	return out
}

// districtMentions keeps the longest leading word run of each match that is
// a known district.
func (e *Extractor) districtMentions(text string) []models.LocationCandidate {
	var out []models.LocationCandidate
	for _, m := range findAll(districtPattern, text) {
		words := strings.Fields(m.groups[0])
		for n := len(words); n > 0; n-- {
			entry, ok := e.store.Lookup(models.KindDistrict, strings.Join(words[:n], " "))
			if !ok {
				continue
			}
			out = append(out, models.LocationCandidate{
				Kind:    models.KindDistrict,
				Text:    entry.Name,
				Method:  models.MethodRegex,
				Context: contextAround(text, m.start, m.end),
			})
			break
		}
	}
	return out
}

// valid applies the shape, length, blocklist and word count rules.
func (e *Extractor) valid(c models.LocationCandidate) bool {
	n := utf8.RuneCountInString(c.Text)
	if n <= 1 || n < e.cfg.MinLength || n > e.cfg.MaxLength {
		return false
	}
	if isNumeric(strings.ReplaceAll(c.Text, " ", "")) {
		return false
	}

	key := gazetteer.Key(c.Text)
	if _, blocked := e.blocklist[key]; blocked {
		return false
	}
	words := strings.Fields(c.Text)
	if _, blocked := e.blocklist[gazetteer.Key(words[0])]; blocked {
		return false
	}

	if c.Kind.Identifier() {
		return true
	}
	if len(words) > e.cfg.MaxWords {
		return false
	}
	return locationShape.MatchString(c.Text) && !allCaps(streetPart(c.Text))
}

func (e *Extractor) passesFirewall(c models.LocationCandidate) bool {
	if !e.firewall {
		return true
	}
	switch c.Kind {
	case models.KindStreet:
		return e.store.MatchStreet(c.Text, e.cfg.PrefixRatio)
	case models.KindAddress:
		return e.store.MatchStreet(streetPart(c.Text), e.cfg.PrefixRatio)
	}
	return true
}

// capped keeps at most MaxCandidates candidates with distinct texts.
func (e *Extractor) capped(in []models.LocationCandidate, documentURL string) []models.LocationCandidate {
	if len(in) <= e.cfg.MaxCandidates {
		return in
	}

	out := make([]models.LocationCandidate, 0, e.cfg.MaxCandidates)
	seen := make(map[string]bool)
	for _, c := range in {
		k := gazetteer.Key(c.Text)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
		if len(out) == e.cfg.MaxCandidates {
			break
		}
	}

	e.logger.Warn().
		Int("found", len(in)).
		Int("kept", len(out)).
		Str("document_url", documentURL).
		Msg("too many location candidates, truncating")
	return out
}
