package ai

import "strings"

// ModelChoice is the caller-facing name of a model tier
type ModelChoice string

const (
	ModelStandard ModelChoice = "standard"
	ModelLite     ModelChoice = "lite"
)

const (
	DefaultStandardModel = "gemini-2.5-flash"
	DefaultLiteModel     = "gemini-2.5-flash-lite"
)

// Catalog maps model choices to provider model identifiers
type Catalog struct {
	Standard string
	Lite     string
}

// NewCatalog creates a Catalog, filling empty identifiers with the defaults
func NewCatalog(standard, lite string) Catalog {
	if strings.TrimSpace(standard) == "" {
		standard = DefaultStandardModel
	}
	if strings.TrimSpace(lite) == "" {
		lite = DefaultLiteModel
	}
	return Catalog{Standard: standard, Lite: lite}
}

// Resolve returns the model identifier for choice. Unknown or malformed
// choices resolve to the standard model. Empty identifiers resolve to the defaults.
func (c Catalog) Resolve(choice string) string {
	c = NewCatalog(c.Standard, c.Lite)
	switch ModelChoice(strings.ToLower(strings.TrimSpace(choice))) {
	case ModelLite:
		return c.Lite
	default:
		return c.Standard
	}
}
