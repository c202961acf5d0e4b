package deepresearch

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/kalambet/deepdesk/internal/mna"
)

// MaxSourceURLs caps the number of URLs attached to one task.
const MaxSourceURLs = 10

// CreateRequest describes a new research task.
type CreateRequest struct {
	ResearchType      ResearchType
	Subject           string
	Focus             string
	ClientContext     string
	SpecificQuestions string
	Mode              Mode
	DataCategories    []string
	DealContext       string
	URLs              []string
	AlertEmail        string
}

// ValidationError names the offending field of a CreateRequest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the request the way the submission form does.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "a research subject is required"}
	}
	if !r.ResearchType.Valid() {
		return &ValidationError{Field: "research type", Reason: fmt.Sprintf("unknown type %q", r.ResearchType)}
	}
	if !r.Mode.Valid() {
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
	if r.ResearchType == TypeMnA {
		if len(r.DataCategories) == 0 {
			return &ValidationError{Field: "data categories", Reason: "select at least one data category"}
		}
		for _, c := range r.DataCategories {
			if _, ok := mna.LookupCategory(c); !ok {
				return &ValidationError{Field: "data categories", Reason: fmt.Sprintf("unknown category %q", c)}
			}
		}
	}
	if len(r.URLs) > MaxSourceURLs {
		return &ValidationError{Field: "urls", Reason: fmt.Sprintf("at most %d URLs allowed, got %d", MaxSourceURLs, len(r.URLs))}
	}
	for _, raw := range r.URLs {
		if err := ValidateSourceURL(raw); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSourceURL accepts absolute http(s) URLs whose host is a valid
// (possibly internationalized) domain name or IP literal.
func ValidateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("%q must use http or https", raw)}
	}
	host := u.Hostname()
	if host == "" {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("%q has no host", raw)}
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("%q has an invalid host: %v", raw, err)}
	}
	return nil
}

func (r CreateRequest) payload() map[string]any {
	p := map[string]any{
		"researchType":      string(r.ResearchType),
		"researchSubject":   strings.TrimSpace(r.Subject),
		"researchFocus":     strings.TrimSpace(r.Focus),
		"clientContext":     strings.TrimSpace(r.ClientContext),
		"specificQuestions": strings.TrimSpace(r.SpecificQuestions),
		"researchMode":      string(r.Mode),
	}
	if r.ResearchType == TypeMnA {
		p["dataCategories"] = r.DataCategories
		p["dealContext"] = strings.TrimSpace(r.DealContext)
	}
	if len(r.URLs) > 0 {
		p["urls"] = r.URLs
	}
	if r.AlertEmail != "" {
		p["alertEmail"] = r.AlertEmail
	}
	return p
}
