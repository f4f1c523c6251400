package model

import (
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// CandidateRecord is an unvalidated in-memory record produced during one run.
type CandidateRecord struct {
	Brand           string         `json:"brand"`
	Identifier      string         `json:"identifier"`
	Series          string         `json:"series,omitempty"`
	Attrs           map[string]any `json:"attrs,omitempty"`
	Overflow        map[string]any `json:"overflow,omitempty"`
	Verified        bool           `json:"verified"`
	Literal         bool           `json:"literal"`
	Synthesized     bool           `json:"synthesized"`
	LiteralFallback string         `json:"literal_fallback,omitempty"`
	DocType         DocType        `json:"doc_type"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// NewCandidate returns a CandidateRecord with initialized maps.
func NewCandidate(brand, identifier string) *CandidateRecord {
	return &CandidateRecord{
		Brand:      brand,
		Identifier: identifier,
		Attrs:      make(map[string]any),
		Overflow:   make(map[string]any),
	}
}

// Warn appends a warning message to the record.
func (r *CandidateRecord) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Clone returns a copy of r whose maps can be modified independently.
func (r *CandidateRecord) Clone() *CandidateRecord {
	c := *r
	c.Attrs = make(map[string]any, len(r.Attrs))
	for k, v := range r.Attrs {
		c.Attrs[k] = v
	}
	c.Overflow = make(map[string]any, len(r.Overflow))
	for k, v := range r.Overflow {
		c.Overflow[k] = v
	}
	c.Warnings = append([]string(nil), r.Warnings...)
	return &c
}

// NaturalKey returns the case-folded (brand, identifier) persistence key.
func (r *CandidateRecord) NaturalKey() string {
	return NaturalKey(r.Brand, r.Identifier)
}

// NaturalKey builds the case-folded uniqueness key for a brand and identifier.
func NaturalKey(brand, identifier string) string {
	return fold.String(strings.TrimSpace(brand)) + "\x00" + fold.String(strings.TrimSpace(identifier))
}

// PopulatedAttrs counts typed attributes with a non-empty value.
func (r *CandidateRecord) PopulatedAttrs() int {
	n := 0
	for _, v := range r.Attrs {
		if !IsEmptyValue(v) {
			n++
		}
	}
	return n
}

// IsEmptyValue reports whether v carries no information.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// SkipReason is a typed reason a candidate was not persisted.
type SkipReason string

const (
	SkipInvalidIdentifier    SkipReason = "invalid_identifier"
	SkipMissingBrand         SkipReason = "missing_brand"
	SkipMissingCoreSpec      SkipReason = "missing_core_spec"
	SkipTemplateUnresolved   SkipReason = "template_unresolved"
	SkipDuplicateWithinBatch SkipReason = "duplicate_within_batch"
	SkipSchemaNotReady       SkipReason = "schema_not_ready"
	SkipStoreError           SkipReason = "store_error"
)

// Skip records why a single candidate was rejected.
type Skip struct {
	Identifier string     `json:"identifier"`
	Brand      string     `json:"brand,omitempty"`
	Reason     SkipReason `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
}
