// Package extract maps rendered profile documents onto profile.Record. Every
// field is filled by the first strategy in its list that yields a value, so
// markup variants are handled by adding strategies rather than branching on
// page types. Extraction is pure: the same document always produces the same
// record.
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/render"
)

// Extractor turns documents into records.
type Extractor struct {
	ids    *profile.Identifier
	rules  Rules
	schema map[string]struct{}
}

// New builds an Extractor. A nil identifier uses the default profile pattern.
func New(ids *profile.Identifier, rules Rules) *Extractor {
	if ids == nil {
		ids = profile.MustIdentifier("")
	}
	return &Extractor{
		ids:    ids,
		rules:  rules,
		schema: rules.schemaLabels(profile.Columns),
	}
}

// Extract parses doc into a Record. Failures are *profile.ExtractionError.
func (e *Extractor) Extract(doc *render.Document) (profile.Record, error) {
	q, err := doc.Query()
	if err != nil {
		return profile.Record{}, &profile.ExtractionError{URL: doc.URL, Reason: fmt.Sprintf("unparseable document: %v", err)}
	}
	return e.extract(doc.URL, doc.BaseURL(), q)
}

// ExtractHTML extracts a record from raw markup served at rawURL.
func (e *Extractor) ExtractHTML(rawURL string, html []byte) (profile.Record, error) {
	q, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return profile.Record{}, &profile.ExtractionError{URL: rawURL, Reason: fmt.Sprintf("unparseable document: %v", err)}
	}
	return e.extract(rawURL, rawURL, q)
}

func (e *Extractor) extract(rawURL, baseURL string, q *goquery.Document) (profile.Record, error) {
	p := newPage(rawURL, baseURL, q, e.rules.Sections)

	rec := profile.Record{
		ProfileID:    e.ids.ID(rawURL),
		URL:          rawURL,
		CompanyName:  Chain(p, e.rules.CompanyName),
		Description:  Chain(p, e.rules.Description),
		Industry:     Chain(p, e.rules.Industry),
		Location:     Chain(p, e.rules.Location),
		Website:      NormalizeWebsite(Chain(p, e.rules.Website)),
		ContactEmail: Chain(p, e.rules.ContactEmail),
		ContactPhone: Chain(p, e.rules.ContactPhone),
		FundingInfo:  Chain(p, e.rules.FundingInfo),
		ExtraFields:  e.extraFields(p),
	}
	if err := rec.Validate(); err != nil {
		return profile.Record{}, err
	}
	return rec, nil
}

func (e *Extractor) extraFields(p *Page) profile.Fields {
	var extra []profile.Field
	for _, f := range p.Pairs() {
		if _, ok := e.schema[f.Key]; ok {
			continue
		}
		extra = append(extra, f)
	}
	return profile.NewFields(extra...)
}
