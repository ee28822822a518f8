package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

// Clean trims the value and collapses whitespace runs to a single space. Text
// read through goquery is already entity-decoded, so Clean never decodes. An
// empty result means the value is absent.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}

// Decode unescapes HTML entities in text that never went through the HTML
// parser, such as string values inside embedded JSON.
func Decode(s string) string {
	return html.UnescapeString(s)
}

// NormalizeLabel turns an on-page label such as "Year Founded:" into the key
// "year_founded".
func NormalizeLabel(label string) string {
	label = strings.ToLower(Clean(label))
	label = strings.TrimSpace(strings.TrimRight(label, ":"))
	return strings.Join(strings.Fields(label), "_")
}

// NormalizeWebsite canonicalizes absolute http(s) URLs and returns anything
// else unchanged.
func NormalizeWebsite(raw string) string {
	raw = Clean(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return raw
	}
	normalized, err := profile.NormalizeURL(raw)
	if err != nil {
		return raw
	}
	return normalized
}
