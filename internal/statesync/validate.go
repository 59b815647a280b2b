package statesync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/syncdesk/internal/statemap"
	"github.com/hyperengineering/syncdesk/internal/table"
)

// Predicate reports whether a column header matches a rule.
type Predicate func(header string) bool

// Contains matches headers containing sub, ignoring case.
func Contains(sub string) Predicate {
	sub = strings.ToLower(sub)
	return func(header string) bool {
		return strings.Contains(strings.ToLower(header), sub)
	}
}

// ColumnRule locates one column of the Clarity export. Matchers are tried in
// order; for each matcher the first unclaimed column wins.
type ColumnRule struct {
	Canonical string
	Label     string
	Matchers  []Predicate
}

// DefaultTargetRules finds the mirrored status column before the identifier
// column, so a header such as "Estado Freshdesk ID" cannot be taken as the id.
func DefaultTargetRules() []ColumnRule {
	return []ColumnRule{
		{
			Canonical: ColumnMirrorStatus,
			Label:     "Estado Freshdesk",
			Matchers:  []Predicate{Contains("estado freshdesk"), Contains("freshdesk")},
		},
		{
			Canonical: ColumnID,
			Label:     "ID",
			Matchers:  []Predicate{Contains("id")},
		},
	}
}

// ColumnNotFoundError reports a required column missing from an export.
type ColumnNotFoundError struct {
	Table     string
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("%s: column %q not found (available: %s)",
		e.Table, e.Column, strings.Join(e.Available, ", "))
}

// ValidationError collects every problem found in the two exports.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Overlap is the informational intersection of the two id sets.
type Overlap struct {
	Matched    int `json:"matched"`
	OnlySource int `json:"only_source"`
	OnlyTarget int `json:"only_target"`
}

// ValidationResult carries the normalized tables. Source and Target are
// copies; only their column labels differ from the input.
type ValidationResult struct {
	Source  *table.Table
	Target  *table.Table
	Mapped  map[string]string
	Overlap Overlap
}

// Validate checks both exports and renames the located Clarity columns to
// their canonical names. The inputs are not modified.
func Validate(source, target *table.Table, rules []ColumnRule) (*ValidationResult, error) {
	if len(rules) == 0 {
		rules = DefaultTargetRules()
	}
	if source == nil || target == nil {
		return nil, &ValidationError{Problems: []error{table.ErrEmpty}}
	}

	var problems []error
	if source.Len() == 0 {
		problems = append(problems, fmt.Errorf("%s: %w", source.Name, table.ErrEmpty))
	}
	if target.Len() == 0 {
		problems = append(problems, fmt.Errorf("%s: %w", target.Name, table.ErrEmpty))
	}
	for _, col := range []string{ColumnTicketID, ColumnSourceStatus} {
		if !source.Has(col) {
			problems = append(problems, &ColumnNotFoundError{Table: source.Name, Column: col, Available: source.Columns})
		}
	}

	found, missing := matchColumns(target.Columns, rules)
	for _, rule := range missing {
		problems = append(problems, &ColumnNotFoundError{Table: target.Name, Column: rule.Label, Available: target.Columns})
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	normalized := target.Clone()
	for header, canonical := range found {
		// Free the canonical name if an unrelated column already holds it.
		if header != canonical && normalized.Has(canonical) {
			if err := normalized.Rename(canonical, canonical+" (original)"); err != nil {
				return nil, &ValidationError{Problems: []error{err}}
			}
		}
	}
	for header, canonical := range found {
		if err := normalized.Rename(header, canonical); err != nil {
			return nil, &ValidationError{Problems: []error{err}}
		}
	}

	return &ValidationResult{
		Source:  source.Clone(),
		Target:  normalized,
		Mapped:  found,
		Overlap: overlap(source.Values(ColumnTicketID), normalized.Values(ColumnID)),
	}, nil
}

// matchColumns applies rules in order. Each column is claimed at most once.
func matchColumns(columns []string, rules []ColumnRule) (map[string]string, []ColumnRule) {
	found := make(map[string]string)
	claimed := make(map[string]bool)
	var missing []ColumnRule
	for _, rule := range rules {
		header, ok := firstMatch(columns, rule.Matchers, claimed)
		if !ok {
			missing = append(missing, rule)
			continue
		}
		claimed[header] = true
		found[header] = rule.Canonical
	}
	return found, missing
}

func firstMatch(columns []string, matchers []Predicate, claimed map[string]bool) (string, bool) {
	for _, match := range matchers {
		for _, col := range columns {
			if !claimed[col] && match(col) {
				return col, true
			}
		}
	}
	return "", false
}

func overlap(sourceIDs, targetIDs []string) Overlap {
	src := idSet(sourceIDs)
	dst := idSet(targetIDs)
	var o Overlap
	for id := range src {
		if dst[id] {
			o.Matched++
		} else {
			o.OnlySource++
		}
	}
	for id := range dst {
		if !src[id] {
			o.OnlyTarget++
		}
	}
	return o
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, raw := range ids {
		if id := statemap.NormalizeID(raw); id != "" {
			set[id] = true
		}
	}
	return set
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
