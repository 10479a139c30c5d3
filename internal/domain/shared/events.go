// Package shared contains common domain types, errors and events that are
// used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Every event is published only after the transaction
// that produced it has committed.
const (
	// Ledger events
	EventPointsAwarded         EventType = "ledger.points_awarded"
	EventItemPurchased         EventType = "ledger.item_purchased"
	EventPurchaseStatusChanged EventType = "ledger.purchase_status_changed"
	EventLedgerDrift           EventType = "ledger.drift_detected"

	// Shop events
	EventShopRequestApproved EventType = "shop.request_approved"
	EventShopRequestRejected EventType = "shop.request_rejected"
	EventItemActivityChanged EventType = "shop.item_activity_changed"

	// Account events
	EventProfileUpdated EventType = "account.profile_updated"

	// Leaderboard events
	EventSnapshotTaken EventType = "leaderboard.snapshot_taken"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// AggregateCarrier is implemented by events that carry the committed state
// of the aggregates they touched.
type AggregateCarrier interface {
	Aggregates() []AggregateState
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Aggregate State
// ═══════════════════════════════════════════════════════════════════════════

// AggregateKind names a family of engine-owned counters.
type AggregateKind string

const (
	AggregateAccount AggregateKind = "account"
	AggregateHouse   AggregateKind = "house"
	AggregateItem    AggregateKind = "item"
)

// Counter names used in AggregateState.Counters.
const (
	CounterPointsEarned    = "points_earned"
	CounterPointsSpent     = "points_spent"
	CounterAvailablePoints = "available_points"
	CounterTotalPoints     = "total_points"
	CounterSoldCount       = "sold_count"
	CounterStockQuantity   = "stock_quantity"
	CounterPrice           = "price"
)

// AggregateState is the committed value of one aggregate at a given version.
// Consumers drop states whose version is not newer than what they hold.
type AggregateState struct {
	Kind     AggregateKind    `json:"kind"`
	ID       string           `json:"id"`
	Version  int64            `json:"version"`
	Counters map[string]int64 `json:"counters"`
}

// Topic returns the subscription topic for the aggregate.
func (s AggregateState) Topic() string {
	return string(s.Kind) + ":" + s.ID
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted after an award commits.
type PointsAwardedEvent struct {
	BaseEvent
	AwardID   string           `json:"award_id"`
	StudentID string           `json:"student_id"`
	TeacherID string           `json:"teacher_id"`
	HouseID   string           `json:"house_id"`
	Points    int64            `json:"points"`
	Category  string           `json:"category"`
	State     []AggregateState `json:"state"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"award_id":   e.AwardID,
		"student_id": e.StudentID,
		"teacher_id": e.TeacherID,
		"house_id":   e.HouseID,
		"points":     e.Points,
		"category":   e.Category,
	}
}

// Aggregates implements AggregateCarrier.
func (e PointsAwardedEvent) Aggregates() []AggregateState {
	return e.State
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(awardID, studentID, teacherID, houseID string, points int64, category string, at time.Time, state ...AggregateState) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, studentID, at),
		AwardID:   awardID,
		StudentID: studentID,
		TeacherID: teacherID,
		HouseID:   houseID,
		Points:    points,
		Category:  category,
		State:     state,
	}
}

// ItemPurchasedEvent is emitted after a purchase commits.
type ItemPurchasedEvent struct {
	BaseEvent
	PurchaseID string           `json:"purchase_id"`
	StudentID  string           `json:"student_id"`
	ItemID     string           `json:"item_id"`
	Price      int64            `json:"price"`
	State      []AggregateState `json:"state"`
}

// Payload implements Event interface.
func (e ItemPurchasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"purchase_id": e.PurchaseID,
		"student_id":  e.StudentID,
		"item_id":     e.ItemID,
		"price":       e.Price,
	}
}

// Aggregates implements AggregateCarrier.
func (e ItemPurchasedEvent) Aggregates() []AggregateState {
	return e.State
}

// NewItemPurchasedEvent creates a new ItemPurchasedEvent.
func NewItemPurchasedEvent(purchaseID, studentID, itemID string, price int64, at time.Time, state ...AggregateState) ItemPurchasedEvent {
	return ItemPurchasedEvent{
		BaseEvent:  NewBaseEvent(EventItemPurchased, studentID, at),
		PurchaseID: purchaseID,
		StudentID:  studentID,
		ItemID:     itemID,
		Price:      price,
		State:      state,
	}
}

// PurchaseStatusChangedEvent is emitted when a pending purchase is
// fulfilled or cancelled.
type PurchaseStatusChangedEvent struct {
	BaseEvent
	PurchaseID string `json:"purchase_id"`
	StudentID  string `json:"student_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	ChangedBy  string `json:"changed_by"`
}

// Payload implements Event interface.
func (e PurchaseStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"purchase_id": e.PurchaseID,
		"student_id":  e.StudentID,
		"old_status":  e.OldStatus,
		"new_status":  e.NewStatus,
		"changed_by":  e.ChangedBy,
	}
}

// NewPurchaseStatusChangedEvent creates a new PurchaseStatusChangedEvent.
func NewPurchaseStatusChangedEvent(purchaseID, studentID, oldStatus, newStatus, changedBy string, at time.Time) PurchaseStatusChangedEvent {
	return PurchaseStatusChangedEvent{
		BaseEvent:  NewBaseEvent(EventPurchaseStatusChanged, purchaseID, at),
		PurchaseID: purchaseID,
		StudentID:  studentID,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		ChangedBy:  changedBy,
	}
}

// LedgerDriftEvent is emitted by the audit when a stored aggregate no longer
// matches the value rebuilt from the ledger.
type LedgerDriftEvent struct {
	BaseEvent
	Kind     AggregateKind `json:"kind"`
	Counter  string        `json:"counter"`
	Stored   int64         `json:"stored"`
	Expected int64         `json:"expected"`
}

// Payload implements Event interface.
func (e LedgerDriftEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":     string(e.Kind),
		"counter":  e.Counter,
		"stored":   e.Stored,
		"expected": e.Expected,
	}
}

// NewLedgerDriftEvent creates a new LedgerDriftEvent.
func NewLedgerDriftEvent(kind AggregateKind, id, counter string, stored, expected int64, at time.Time) LedgerDriftEvent {
	return LedgerDriftEvent{
		BaseEvent: NewBaseEvent(EventLedgerDrift, id, at),
		Kind:      kind,
		Counter:   counter,
		Stored:    stored,
		Expected:  expected,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Shop Events
// ═══════════════════════════════════════════════════════════════════════════

// ShopRequestReviewedEvent is emitted when an admin approves or rejects a
// teacher's shop request.
type ShopRequestReviewedEvent struct {
	BaseEvent
	RequestID  string           `json:"request_id"`
	TeacherID  string           `json:"teacher_id"`
	ReviewedBy string           `json:"reviewed_by"`
	ItemID     string           `json:"item_id,omitempty"`
	Notes      string           `json:"notes,omitempty"`
	State      []AggregateState `json:"state,omitempty"`
}

// Payload implements Event interface.
func (e ShopRequestReviewedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id":  e.RequestID,
		"teacher_id":  e.TeacherID,
		"reviewed_by": e.ReviewedBy,
		"item_id":     e.ItemID,
		"notes":       e.Notes,
	}
}

// Aggregates implements AggregateCarrier.
func (e ShopRequestReviewedEvent) Aggregates() []AggregateState {
	return e.State
}

// Approved reports whether the review created an item.
func (e ShopRequestReviewedEvent) Approved() bool {
	return e.Type == EventShopRequestApproved
}

// NewShopRequestApprovedEvent creates an approval event.
func NewShopRequestApprovedEvent(requestID, teacherID, reviewedBy, itemID, notes string, at time.Time, state ...AggregateState) ShopRequestReviewedEvent {
	return ShopRequestReviewedEvent{
		BaseEvent:  NewBaseEvent(EventShopRequestApproved, requestID, at),
		RequestID:  requestID,
		TeacherID:  teacherID,
		ReviewedBy: reviewedBy,
		ItemID:     itemID,
		Notes:      notes,
		State:      state,
	}
}

// NewShopRequestRejectedEvent creates a rejection event.
func NewShopRequestRejectedEvent(requestID, teacherID, reviewedBy, notes string, at time.Time) ShopRequestReviewedEvent {
	return ShopRequestReviewedEvent{
		BaseEvent:  NewBaseEvent(EventShopRequestRejected, requestID, at),
		RequestID:  requestID,
		TeacherID:  teacherID,
		ReviewedBy: reviewedBy,
		Notes:      notes,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Catalog Events
// ═══════════════════════════════════════════════════════════════════════════

// CatalogChangedEvent is emitted after an admin edit of catalog-owned fields
// bumps an aggregate's version without changing its counters.
type CatalogChangedEvent struct {
	BaseEvent
	ChangedBy string           `json:"changed_by"`
	Active    *bool            `json:"active,omitempty"`
	State     []AggregateState `json:"state"`
}

// Payload implements Event interface.
func (e CatalogChangedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"changed_by": e.ChangedBy,
	}
	if e.Active != nil {
		p["active"] = *e.Active
	}
	return p
}

// Aggregates implements AggregateCarrier.
func (e CatalogChangedEvent) Aggregates() []AggregateState {
	return e.State
}

// NewProfileUpdatedEvent creates an event for an account profile upsert.
func NewProfileUpdatedEvent(changedBy string, at time.Time, state AggregateState) CatalogChangedEvent {
	return CatalogChangedEvent{
		BaseEvent: NewBaseEvent(EventProfileUpdated, state.ID, at),
		ChangedBy: changedBy,
		State:     []AggregateState{state},
	}
}

// NewItemActivityChangedEvent creates an event for an item being enabled or
// disabled.
func NewItemActivityChangedEvent(changedBy string, active bool, at time.Time, state AggregateState) CatalogChangedEvent {
	return CatalogChangedEvent{
		BaseEvent: NewBaseEvent(EventItemActivityChanged, state.ID, at),
		ChangedBy: changedBy,
		Active:    &active,
		State:     []AggregateState{state},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// SnapshotTakenEvent is emitted when a ranking snapshot is stored.
type SnapshotTakenEvent struct {
	BaseEvent
	Scope   string `json:"scope"`
	Entries int    `json:"entries"`
}

// Payload implements Event interface.
func (e SnapshotTakenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"scope":   e.Scope,
		"entries": e.Entries,
	}
}

// NewSnapshotTakenEvent creates a new SnapshotTakenEvent.
func NewSnapshotTakenEvent(scope string, entries int, at time.Time) SnapshotTakenEvent {
	return SnapshotTakenEvent{
		BaseEvent: NewBaseEvent(EventSnapshotTaken, scope, at),
		Scope:     scope,
		Entries:   entries,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string           `json:"id"`
	Type          EventType        `json:"type"`
	AggregateID   string           `json:"aggregate_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       int              `json:"version"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Payload       json.RawMessage  `json:"payload"`
	Aggregates    []AggregateState `json:"aggregates,omitempty"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
