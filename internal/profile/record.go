// Package profile defines the normalized company-profile record shared by the
// extractor, the pipeline, and every output sink.
package profile

// Column names in schema order. Sinks that emit tabular output use this slice
// as their header row.
var Columns = []string{
	"profile_id",
	"url",
	"company_name",
	"description",
	"industry",
	"location",
	"website",
	"contact_email",
	"contact_phone",
	"funding_info",
	"extra_fields",
}

// Record is one normalized company profile. An empty optional field means the
// value was absent on the page.
type Record struct {
	ProfileID    string `json:"profile_id"`
	URL          string `json:"url"`
	CompanyName  string `json:"company_name"`
	Description  string `json:"description"`
	Industry     string `json:"industry"`
	Location     string `json:"location"`
	Website      string `json:"website"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	FundingInfo  string `json:"funding_info"`
	ExtraFields  Fields `json:"extra_fields"`
}

// Validate enforces the invariants every stored record must satisfy.
func (r Record) Validate() error {
	switch {
	case r.ProfileID == "":
		return &ExtractionError{URL: r.URL, Reason: "missing profile id"}
	case r.URL == "":
		return &ExtractionError{URL: r.URL, Reason: "missing url"}
	case r.CompanyName == "":
		return &ExtractionError{URL: r.URL, Reason: ReasonMissingRequired}
	}
	return nil
}

// Row renders the record as spreadsheet cells in Columns order. Extra fields
// are flattened to compact JSON in the last cell.
func (r Record) Row() []string {
	extra := ""
	if r.ExtraFields.Len() > 0 {
		if b, err := r.ExtraFields.MarshalJSON(); err == nil {
			extra = string(b)
		}
	}
	return []string{
		r.ProfileID,
		r.URL,
		r.CompanyName,
		r.Description,
		r.Industry,
		r.Location,
		r.Website,
		r.ContactEmail,
		r.ContactPhone,
		r.FundingInfo,
		extra,
	}
}
