package extract

// Rules lists the ordered strategies for every schema field together with the
// additional-info section layout.
type Rules struct {
	CompanyName  []Strategy
	Description  []Strategy
	Industry     []Strategy
	Location     []Strategy
	Website      []Strategy
	ContactEmail []Strategy
	ContactPhone []Strategy
	FundingInfo  []Strategy
	Sections     SectionConfig
}

// MaxCompanyNameLength bounds headline text accepted as a company name.
const MaxCompanyNameLength = 200

var socialHosts = []string{
	"facebook.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"youtube.com",
	"google.com",
	"apple.com",
}

// DefaultRules targets Startup SG profile pages and degrades to generic
// heuristics on other directories.
func DefaultRules() Rules {
	return Rules{
		CompanyName: []Strategy{
			Text{Selector: "h1", MaxLen: MaxCompanyNameLength},
			Text{Selector: "[class*='company-name']", MaxLen: MaxCompanyNameLength},
			Text{Selector: "[class*='startup-name']", MaxLen: MaxCompanyNameLength},
			Text{Selector: "[class*='profile-name']", MaxLen: MaxCompanyNameLength},
			Text{Selector: "[data-testid*='name']", MaxLen: MaxCompanyNameLength},
			Meta{Names: []string{"og:title"}},
			ScriptJSON{Keys: []string{"companyName", "company_name"}},
		},
		Description: []Strategy{
			Label{Labels: []string{"description", "about"}},
			Text{Selector: "[class*='description']"},
			InlineLabel{Labels: []string{"description", "about"}},
			ScriptJSON{Keys: []string{"description", "about"}},
			Meta{Names: []string{"og:description", "description"}},
			Paragraphs{MinLen: 50, Max: 3},
		},
		Industry: []Strategy{
			Label{Labels: []string{"industry", "industries", "sector"}},
			InlineLabel{Labels: []string{"industry", "industries", "sector"}},
			Text{Selector: "[class*='industry']"},
			ScriptJSON{Keys: []string{"industry", "sector"}},
		},
		Location: []Strategy{
			Label{Labels: []string{"location", "address", "headquarters", "country"}},
			InlineLabel{Labels: []string{"location", "address", "headquarters"}},
			Text{Selector: "[class*='location']"},
			ScriptJSON{Keys: []string{"location", "addressLocality", "address"}},
		},
		Website: []Strategy{
			Label{Labels: []string{"website", "web", "homepage"}},
			Attr{Selector: "a[class*='website']", Attr: "href"},
			InlineLabel{Labels: []string{"website"}},
			ScriptJSON{Keys: []string{"website", "sameAs"}},
			ExternalLink{Exclude: socialHosts},
		},
		ContactEmail: []Strategy{
			Href{Prefix: "mailto:"},
			Label{Labels: []string{"email", "contact_email", "e-mail"}},
			InlineLabel{Labels: []string{"email", "e-mail"}},
			ScriptJSON{Keys: []string{"email"}},
		},
		ContactPhone: []Strategy{
			Href{Prefix: "tel:"},
			Label{Labels: []string{"phone", "contact_number", "telephone"}},
			InlineLabel{Labels: []string{"phone", "telephone"}},
			ScriptJSON{Keys: []string{"phone", "telephone"}},
		},
		FundingInfo: []Strategy{
			Label{Labels: []string{"funding", "funding_info", "total_funding", "funding_raised"}},
			InlineLabel{Labels: []string{"funding", "total funding"}},
			Text{Selector: "[class*='funding']"},
			ScriptJSON{Keys: []string{"funding", "totalFunding"}},
		},
		Sections: SectionConfig{
			Sections: []string{
				".additional-info",
				"[class*='additional']",
				".profile-details",
				"[class*='company-info']",
				"dl",
			},
			Item:  ".item, .info-item, [class*='detail-item'], tr",
			Label: ".label, .info-label, [class*='label'], th",
			Value: ".value, .info-value, [class*='value'], td",
		},
	}
}

type labeled interface {
	labels() []string
}

// schemaLabels collects every label a schema strategy claims plus the column
// names themselves, normalized. Such labels never land in extra_fields.
func (r Rules) schemaLabels(columns []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range columns {
		out[NormalizeLabel(c)] = struct{}{}
	}
	for _, list := range r.fields() {
		for _, s := range list {
			if l, ok := s.(labeled); ok {
				for _, label := range l.labels() {
					out[NormalizeLabel(label)] = struct{}{}
				}
			}
		}
	}
	return out
}

func (r Rules) fields() [][]Strategy {
	return [][]Strategy{
		r.CompanyName,
		r.Description,
		r.Industry,
		r.Location,
		r.Website,
		r.ContactEmail,
		r.ContactPhone,
		r.FundingInfo,
	}
}
