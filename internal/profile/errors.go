package profile

import "fmt"

// ReasonMissingRequired is the extraction failure reason used when no
// strategy produced a company name.
const ReasonMissingRequired = "missing required field"

// ExtractionError reports a document that could not be turned into a Record.
type ExtractionError struct {
	URL    string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// DuplicateError reports a record whose profile id was already collected.
type DuplicateError struct {
	ProfileID string
	URL       string
	FirstURL  string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate profile %s: %s already collected from %s", e.ProfileID, e.URL, e.FirstURL)
}
