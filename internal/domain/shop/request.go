package shop

import (
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

// RequestStatus is the review state of a shop request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// IsValid checks the status is known.
func (s RequestStatus) IsValid() bool {
	return s == RequestPending || s == RequestApproved || s == RequestRejected
}

// IsTerminal reports whether no further review is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// Request is a teacher's proposal for a new shop item, reviewed by an admin.
type Request struct {
	ID              string
	TeacherID       string
	TeacherName     string
	ItemName        string
	ItemDescription string
	SuggestedPrice  int64
	Category        Category
	Justification   string
	RequestedAt     time.Time
	Status          RequestStatus
	AdminNotes      string
	ReviewedBy      string
	ReviewedAt      *time.Time

	// Version - optimistic concurrency token, managed by the store.
	Version int64
}

// Approve marks the request approved. It fails unless the request is pending,
// which is what stops a duplicate submission from creating two items.
func (r *Request) Approve(reviewer, notes string, at time.Time) error {
	return r.review(RequestApproved, reviewer, notes, at)
}

// Reject marks the request rejected.
func (r *Request) Reject(reviewer, notes string, at time.Time) error {
	return r.review(RequestRejected, reviewer, notes, at)
}

func (r *Request) review(to RequestStatus, reviewer, notes string, at time.Time) error {
	if r.Status != RequestPending {
		return shared.ErrRequestNotPending
	}
	r.Status = to
	r.ReviewedBy = reviewer
	r.AdminNotes = strings.TrimSpace(notes)
	r.ReviewedAt = &at
	return nil
}

// NewRequestParams holds a teacher's submission.
type NewRequestParams struct {
	ID              string
	TeacherID       string
	TeacherName     string
	ItemName        string
	ItemDescription string
	SuggestedPrice  int64
	Category        Category
	Justification   string
}

// NewRequest validates params and returns a pending request.
func NewRequest(params NewRequestParams, now time.Time) (Request, error) {
	if err := shared.ValidateID("shop", "SubmitRequest", "id", params.ID); err != nil {
		return Request{}, err
	}
	if err := shared.ValidateID("shop", "SubmitRequest", "teacher id", params.TeacherID); err != nil {
		return Request{}, err
	}
	name := strings.TrimSpace(params.ItemName)
	if name == "" {
		return Request{}, shared.WrapError("shop", "SubmitRequest", shared.ErrValidation, "item name is required", shared.ErrInvalidShopRequest)
	}
	if params.SuggestedPrice <= 0 {
		return Request{}, shared.WrapError("shop", "SubmitRequest", shared.ErrValidation, "suggested price must be positive", shared.ErrInvalidShopRequest)
	}
	if !params.Category.IsValid() {
		return Request{}, shared.WrapError("shop", "SubmitRequest", shared.ErrValidation, "unknown category", shared.ErrInvalidShopRequest)
	}
	return Request{
		ID:              params.ID,
		TeacherID:       params.TeacherID,
		TeacherName:     strings.TrimSpace(params.TeacherName),
		ItemName:        name,
		ItemDescription: strings.TrimSpace(params.ItemDescription),
		SuggestedPrice:  params.SuggestedPrice,
		Category:        params.Category,
		Justification:   strings.TrimSpace(params.Justification),
		RequestedAt:     now,
		Status:          RequestPending,
	}, nil
}
