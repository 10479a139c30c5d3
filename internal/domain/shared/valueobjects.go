// Package shared contains common domain types, errors and events that are
// used across all domain packages.
package shared

import (
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// ValidateID checks that an opaque identifier is present and has no
// surrounding whitespace.
func ValidateID(domain, op, field, id string) error {
	if id == "" {
		return NewDomainError(domain, op, ErrValidation, field+" is required")
	}
	if strings.TrimSpace(id) != id {
		return NewDomainError(domain, op, ErrInvalidID, field+" must not contain surrounding whitespace")
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Points Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Points is an amount of house points. Awards and prices are always
// positive; balances are never negative.
type Points int64

// MaxAward caps a single award so a typo cannot mint a season's worth of points.
const MaxAward Points = 10000

// IsPositive reports whether p > 0.
func (p Points) IsPositive() bool {
	return p > 0
}

// Int64 returns the underlying value.
func (p Points) Int64() int64 {
	return int64(p)
}

// NewAwardPoints validates the amount of a single award.
func NewAwardPoints(amount int64) (Points, error) {
	if amount <= 0 {
		return 0, NewDomainError("shared", "NewAwardPoints", ErrValidation, "points must be positive")
	}
	if Points(amount) > MaxAward {
		return 0, NewDomainError("shared", "NewAwardPoints", ErrValidation, "points exceed the per-award maximum")
	}
	return Points(amount), nil
}

// NewPrice validates an item price.
func NewPrice(amount int64) (Points, error) {
	if amount <= 0 {
		return 0, NewDomainError("shared", "NewPrice", ErrValidation, "price must be positive")
	}
	return Points(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Grade Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Grade is a high-school grade level. Zero means "not set".
type Grade int

const (
	MinGrade Grade = 9
	MaxGrade Grade = 12
)

// IsValid checks if the grade is within 9..12.
func (g Grade) IsValid() bool {
	return g >= MinGrade && g <= MaxGrade
}

// IsSet reports whether a grade was assigned.
func (g Grade) IsSet() bool {
	return g != 0
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a half-open time period [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return !tm.Before(t.From) && tm.Before(t.To)
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
