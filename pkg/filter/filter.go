// Package filter narrows a scraped record list with column rules, the way the
// dashboard's filter bar does.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// ErrInvalidRule is returned by Parse for malformed rule text.
var ErrInvalidRule = errors.New("invalid filter rule")

// Column is a filterable record field.
type Column string

const (
	ColumnID          Column = "id"
	ColumnName        Column = "name"
	ColumnCreatedAt   Column = "created_at"
	ColumnPermissions Column = "permissions"
)

// Operator compares a cell against a rule's terms.
type Operator string

const (
	OpContains    Operator = "contains"
	OpStarts      Operator = "starts"
	OpEnds        Operator = "ends"
	OpEquals      Operator = "equals"
	OpNotContains Operator = "not_contains"
	OpNotEnds     Operator = "not_ends"
)

var columns = map[Column]bool{
	ColumnID: true, ColumnName: true, ColumnCreatedAt: true, ColumnPermissions: true,
}

var operators = map[Operator]bool{
	OpContains: true, OpStarts: true, OpEnds: true, OpEquals: true, OpNotContains: true, OpNotEnds: true,
}

// Rule is one column condition. Value holds comma-separated terms: positive
// operators match if any term matches, negative operators if none does.
type Rule struct {
	Column   Column   `json:"column"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// String renders the rule in Parse syntax.
func (r Rule) String() string {
	return fmt.Sprintf("%s:%s:%s", r.Column, r.Operator, r.Value)
}

// Parse reads "column:operator:value". The value may itself contain colons.
func Parse(s string) (Rule, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Rule{}, fmt.Errorf("%w %q: want column:operator:value", ErrInvalidRule, s)
	}

	r := Rule{
		Column:   Column(strings.ToLower(strings.TrimSpace(parts[0]))),
		Operator: Operator(strings.ToLower(strings.TrimSpace(parts[1]))),
		Value:    parts[2],
	}
	if !columns[r.Column] {
		return Rule{}, fmt.Errorf("%w %q: unknown column %q", ErrInvalidRule, s, r.Column)
	}
	if !operators[r.Operator] {
		return Rule{}, fmt.Errorf("%w %q: unknown operator %q", ErrInvalidRule, s, r.Operator)
	}
	return r, nil
}

// ParseAll parses every rule, stopping at the first error.
func ParseAll(specs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Match reports whether rec satisfies the rule. Matching ignores case and an
// unknown operator matches everything.
func (r Rule) Match(rec record.ListRecord) bool {
	cell := strings.ToLower(cellValue(rec, r.Column))
	terms := r.terms()

	switch r.Operator {
	case OpContains:
		return anyTerm(terms, func(t string) bool { return strings.Contains(cell, t) })
	case OpStarts:
		return anyTerm(terms, func(t string) bool { return strings.HasPrefix(cell, t) })
	case OpEnds:
		return anyTerm(terms, func(t string) bool { return strings.HasSuffix(cell, t) })
	case OpEquals:
		return anyTerm(terms, func(t string) bool { return cell == t })
	case OpNotContains:
		return !anyTerm(terms, func(t string) bool { return strings.Contains(cell, t) })
	case OpNotEnds:
		return !anyTerm(terms, func(t string) bool { return strings.HasSuffix(cell, t) })
	default:
		return true
	}
}

// terms splits Value on commas, trimmed, lowercased, empties dropped.
func (r Rule) terms() []string {
	var out []string
	for _, t := range strings.Split(r.Value, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func anyTerm(terms []string, pred func(string) bool) bool {
	for _, t := range terms {
		if pred(t) {
			return true
		}
	}
	return false
}

func cellValue(rec record.ListRecord, c Column) string {
	switch c {
	case ColumnID:
		return string(rec.ID)
	case ColumnName:
		return rec.Name
	case ColumnCreatedAt:
		return rec.CreatedAt
	case ColumnPermissions:
		return rec.Permissions
	default:
		return ""
	}
}

// Apply returns the records matching every rule, in their original order.
// No rules returns all records.
func Apply(records []record.ListRecord, rules []Rule) []record.ListRecord {
	out := make([]record.ListRecord, 0, len(records))
	for _, rec := range records {
		if matchAll(rec, rules) {
			out = append(out, rec)
		}
	}
	return out
}

func matchAll(rec record.ListRecord, rules []Rule) bool {
	for _, r := range rules {
		if !r.Match(rec) {
			return false
		}
	}
	return true
}
