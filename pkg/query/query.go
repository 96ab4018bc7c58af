// Package query normalizes pagination, sort and filter input and wraps result
// slices in the pagination envelope. It never talks to storage; filters are
// handed over as plain conditions for the store to translate.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mcclellann/loanledger/pkg/models"
)

// Defaults holds the fallback pagination values.
type Defaults struct {
	Page    int
	PerPage int
}

// DefaultPagination matches the service-wide defaults.
var DefaultPagination = Defaults{Page: 1, PerPage: 10}

type Pagination struct {
	Page    int
	PerPage int
}

// Offset is the number of rows skipped before the page starts.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// NormalizePage parses raw page values. Missing, non-numeric or < 1 values
// fall back to the defaults; it never fails.
func NormalizePage(rawPage, rawPerPage string, defaults Defaults) Pagination {
	if defaults.Page < 1 {
		defaults.Page = DefaultPagination.Page
	}
	if defaults.PerPage < 1 {
		defaults.PerPage = DefaultPagination.PerPage
	}
	return Pagination{
		Page:    positiveOr(rawPage, defaults.Page),
		PerPage: positiveOr(rawPerPage, defaults.PerPage),
	}
}

func positiveOr(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// SortSpec is a resolved sort request.
type SortSpec struct {
	Field     string
	Ascending bool
}

// SortMarker is the prefix recognised on a sort field.
const SortMarker = "-"

// ParseSort resolves raw into a SortSpec. The marker convention is inverted
// from the common one and kept for API compatibility: a leading "-" sorts
// ascending, no marker sorts descending. Fields outside allowed fall back to
// fallback, keeping the requested direction.
func ParseSort(raw, fallback string, allowed ...string) SortSpec {
	raw = strings.TrimSpace(raw)
	marked := strings.HasPrefix(raw, SortMarker)
	field := strings.TrimPrefix(raw, SortMarker)

	if field == "" || (len(allowed) > 0 && !contains(allowed, field)) {
		field = fallback
	}
	return SortSpec{Field: field, Ascending: marked}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Operator is a comparison understood by the stores.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Condition is one field/operator/value triple of a filter.
type Condition struct {
	Field string
	Op    Operator
	Value string
}

// Filter is an ordered conjunction of conditions.
type Filter []Condition

// NewCondition validates a single triple.
func NewCondition(field, op, value string) (Condition, error) {
	c := Condition{Field: strings.TrimSpace(field), Op: Operator(strings.ToLower(strings.TrimSpace(op))), Value: value}
	if c.Field == "" {
		return Condition{}, fmt.Errorf("%w: filter field is empty", models.ErrValidation)
	}
	if !c.Op.valid() {
		return Condition{}, fmt.Errorf("%w: unsupported filter operator %q", models.ErrValidation, op)
	}
	return c, nil
}

// ParseFilter parses "field:op:value" expressions. The value keeps any
// further colons, so timestamps survive.
func ParseFilter(raw []string) (Filter, error) {
	var f Filter
	for _, expr := range raw {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		parts := strings.SplitN(expr, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: malformed filter %q, want field:op:value", models.ErrValidation, expr)
		}
		c, err := NewCondition(parts[0], parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		f = append(f, c)
	}
	return f, nil
}

// ListQuery is everything a store needs to serve one listing page.
type ListQuery struct {
	Pagination Pagination
	Filter     Filter
	Sort       SortSpec
}

// Page is the pagination envelope shared by every listing.
type Page[T any] struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Items      []T `json:"items"`
}

// NewPage wraps items with pagination metadata.
func NewPage[T any](total int, p Pagination, items []T) Page[T] {
	return Page[T]{
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: TotalPages(total, p.PerPage),
		Items:      items,
	}
}

// TotalPages is ceil(total/perPage).
func TotalPages(total, perPage int) int {
	if perPage < 1 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// Slice returns the page p of items.
func Slice[T any](items []T, p Pagination) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// RecordPage is a Page whose slice is exposed as "records", the key used by
// ledger history listings.
type RecordPage[T any] struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Records    []T `json:"records"`
}

// AsRecords converts p into a RecordPage.
func (p Page[T]) AsRecords() RecordPage[T] {
	return RecordPage[T]{
		Total:      p.Total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: p.TotalPages,
		Records:    p.Items,
	}
}
