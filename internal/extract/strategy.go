package extract

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Strategy pulls one candidate value out of a page. An empty result means the
// strategy found nothing and the next one in the list is tried.
type Strategy interface {
	Apply(p *Page) string
}

// Chain runs strategies in order and returns the first non-empty value.
func Chain(p *Page, strategies []Strategy) string {
	for _, s := range strategies {
		if v := Clean(s.Apply(p)); v != "" {
			return v
		}
	}
	return ""
}

// Text returns the text of the first element matching Selector whose cleaned
// text is non-empty and, when MaxLen is set, at most MaxLen runes long.
type Text struct {
	Selector string
	MaxLen   int
}

func (t Text) Apply(p *Page) string {
	var out string
	p.Doc.Find(t.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v := Clean(s.Text())
		if v == "" || (t.MaxLen > 0 && utf8.RuneCountInString(v) > t.MaxLen) {
			return true
		}
		out = v
		return false
	})
	return out
}

// Attr returns an attribute of the first matching element that carries a
// non-empty value. href and src values are resolved against the page.
type Attr struct {
	Selector string
	Attr     string
}

func (a Attr) Apply(p *Page) string {
	var out string
	p.Doc.Find(a.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr(a.Attr)
		v = Clean(v)
		if !ok || v == "" {
			return true
		}
		if a.Attr == "href" || a.Attr == "src" {
			if ref, err := url.Parse(v); err == nil {
				v = p.Base.ResolveReference(ref).String()
			}
		}
		out = v
		return false
	})
	return out
}

// Meta reads <meta property=...> or <meta name=...> content, trying names in
// order.
type Meta struct {
	Names []string
}

func (m Meta) Apply(p *Page) string {
	for _, name := range m.Names {
		for _, attr := range []string{"property", "name"} {
			sel := `meta[` + attr + `="` + name + `"]`
			if v, ok := p.Doc.Find(sel).First().Attr("content"); ok {
				if v = Clean(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// Label looks up labeled pairs of the additional-info section. Labels are
// compared after normalization, in the order given.
type Label struct {
	Labels []string
}

func (l Label) Apply(p *Page) string {
	pairs := p.Pairs()
	for _, want := range l.Labels {
		want = NormalizeLabel(want)
		for _, f := range pairs {
			if f.Key == want {
				return f.Value
			}
		}
	}
	return ""
}

func (l Label) labels() []string { return l.Labels }

var inlineLabel = regexp.MustCompile(`^([^:]{1,60}):\s*(.+)$`)

const blockElements = "p, li, div, dd, td, section, ul, ol, table, article"

// InlineLabel scans innermost text blocks for "Label: value" lines anywhere
// on the page.
type InlineLabel struct {
	Labels []string
}

func (l InlineLabel) Apply(p *Page) string {
	wanted := make(map[string]int, len(l.Labels))
	for i, label := range l.Labels {
		wanted[NormalizeLabel(label)] = i
	}
	best, bestRank := "", len(l.Labels)
	p.Doc.Find("body").Find("p, li, div, dd, td, span").Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockElements).Length() > 0 {
			return
		}
		m := inlineLabel.FindStringSubmatch(Clean(s.Text()))
		if m == nil {
			return
		}
		rank, ok := wanted[NormalizeLabel(m[1])]
		if !ok || rank >= bestRank {
			return
		}
		if v := Clean(m[2]); v != "" {
			best, bestRank = v, rank
		}
	})
	return best
}

func (l InlineLabel) labels() []string { return l.Labels }

// Href returns the target of the first link whose href starts with Prefix,
// such as mailto: or tel:, without the prefix or any query.
type Href struct {
	Prefix string
}

func (h Href) Apply(p *Page) string {
	prefix := strings.ToLower(h.Prefix)
	var out string
	p.Doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !strings.HasPrefix(strings.ToLower(href), prefix) {
			return true
		}
		v := href[len(prefix):]
		if i := strings.IndexByte(v, '?'); i >= 0 {
			v = v[:i]
		}
		if unescaped, err := url.PathUnescape(v); err == nil {
			v = unescaped
		}
		out = Clean(v)
		return out == ""
	})
	return out
}

// ExternalLink returns the first absolute http(s) link leaving the directory
// site, skipping hosts listed in Exclude (matched as suffixes).
type ExternalLink struct {
	Exclude []string
}

func (e ExternalLink) Apply(p *Page) string {
	site := strings.TrimPrefix(strings.ToLower(p.Base.Hostname()), "www.")
	var out string
	p.Doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		ref, err := url.Parse(strings.TrimSpace(s.AttrOr("href", "")))
		if err != nil {
			return true
		}
		u := p.Base.ResolveReference(ref)
		if u.Scheme != "http" && u.Scheme != "https" {
			return true
		}
		host := strings.ToLower(u.Hostname())
		if host == "" || sameSite(host, site) || excluded(host, e.Exclude) {
			return true
		}
		out = u.String()
		return false
	})
	return out
}

func sameSite(host, site string) bool {
	if site == "" {
		return false
	}
	return host == site || strings.HasSuffix(host, "."+site)
}

func excluded(host string, list []string) bool {
	for _, ex := range list {
		ex = strings.ToLower(ex)
		if host == ex || strings.HasSuffix(host, "."+ex) {
			return true
		}
	}
	return false
}

// ScriptJSON returns the first scalar stored under any of Keys inside the
// page's embedded JSON scripts. Keys are tried in priority order and matched
// case-insensitively.
type ScriptJSON struct {
	Keys []string
}

func (j ScriptJSON) Apply(p *Page) string {
	pairs := p.ScriptPairs()
	for _, key := range j.Keys {
		key = strings.ToLower(key)
		for _, f := range pairs {
			if f.Key != key {
				continue
			}
			if v := Clean(f.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

// Paragraphs joins up to Max paragraphs longer than MinLen runes. It is the
// description of last resort.
type Paragraphs struct {
	MinLen int
	Max    int
}

func (pg Paragraphs) Apply(p *Page) string {
	var parts []string
	p.Doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v := Clean(s.Text())
		if utf8.RuneCountInString(v) <= pg.MinLen {
			return true
		}
		parts = append(parts, v)
		return pg.Max <= 0 || len(parts) < pg.Max
	})
	return strings.Join(parts, " ")
}
