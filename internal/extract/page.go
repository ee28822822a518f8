package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

// Page is a parsed profile document plus lazily computed views shared by the
// strategies.
type Page struct {
	URL  string
	Doc  *goquery.Document
	Base *url.URL

	sections SectionConfig

	pairsReady bool
	pairs      []profile.Field

	scriptsReady bool
	scriptPairs  []profile.Field
}

// SectionConfig locates the "additional info" block of a profile.
type SectionConfig struct {
	// Sections are the containers holding label/value pairs.
	Sections []string
	// Item, Label, and Value select label/value triples inside a section.
	// dt/dd pairs are always recognized.
	Item  string
	Label string
	Value string
}

func newPage(rawURL, baseURL string, doc *goquery.Document, sections SectionConfig) *Page {
	base, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		base, _ = url.Parse(rawURL)
	}
	if base == nil {
		base = &url.URL{}
	}
	return &Page{URL: rawURL, Doc: doc, Base: base, sections: sections}
}

// Pairs returns the label/value pairs of the additional-info sections in
// document order. Labels are normalized; values are cleaned. Duplicates are
// kept.
func (p *Page) Pairs() []profile.Field {
	if p.pairsReady {
		return p.pairs
	}
	p.pairsReady = true
	if len(p.sections.Sections) == 0 {
		return nil
	}
	combined := strings.Join(p.sections.Sections, ", ")
	p.Doc.Find(combined).Each(func(_ int, section *goquery.Selection) {
		// Nested sections are covered by their outermost match.
		if section.ParentsFiltered(combined).Length() > 0 {
			return
		}
		p.collectPairs(section)
	})
	return p.pairs
}

func (p *Page) collectPairs(section *goquery.Selection) {
	section.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		p.addPair(dt.Text(), dd.Text())
	})
	if p.sections.Item == "" || p.sections.Label == "" || p.sections.Value == "" {
		return
	}
	section.Find(p.sections.Item).Each(func(_ int, item *goquery.Selection) {
		label := item.Find(p.sections.Label).First()
		value := item.Find(p.sections.Value).First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		p.addPair(label.Text(), value.Text())
	})
}

func (p *Page) addPair(label, value string) {
	key := NormalizeLabel(label)
	value = Clean(value)
	if key == "" || value == "" {
		return
	}
	p.pairs = append(p.pairs, profile.Field{Key: key, Value: value})
}

// ScriptPairs returns every scalar (key, value) found in embedded JSON and
// JSON-LD scripts, in document order. Keys are lower-cased and values are
// entity-decoded once.
func (p *Page) ScriptPairs() []profile.Field {
	if p.scriptsReady {
		return p.scriptPairs
	}
	p.scriptsReady = true
	p.Doc.Find(`script[type="application/json"], script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		body := strings.TrimSpace(s.Text())
		if body == "" {
			return
		}
		var pairs []profile.Field
		err := scanJSON([]byte(body), func(key, value string) {
			pairs = append(pairs, profile.Field{Key: strings.ToLower(key), Value: Decode(value)})
		})
		// Malformed scripts contribute nothing.
		if err == nil {
			p.scriptPairs = append(p.scriptPairs, pairs...)
		}
	})
	return p.scriptPairs
}

// scanJSON walks a JSON document in order and reports each object member
// whose value is a string or number.
func scanJSON(data []byte, visit func(key, value string)) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := walkJSON(dec, "", visit); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after json value")
	}
	return nil
}

func walkJSON(dec *json.Decoder, key string, visit func(key, value string)) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return err
				}
				k, ok := kt.(string)
				if !ok {
					return errors.New("non-string object key")
				}
				if err := walkJSON(dec, k, visit); err != nil {
					return err
				}
			}
		case '[':
			for dec.More() {
				if err := walkJSON(dec, "", visit); err != nil {
					return err
				}
			}
		}
		_, err := dec.Token()
		return err
	case string:
		if key != "" {
			visit(key, t)
		}
	case json.Number:
		if key != "" {
			visit(key, t.String())
		}
	}
	return nil
}
