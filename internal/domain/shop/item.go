// Package shop contains the points shop: items students can buy and the
// requests teachers submit to add new items.
package shop

import (
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY
// ══════════════════════════════════════════════════════════════════════════════

// Category groups shop items.
type Category string

const (
	CategoryApparel        Category = "Apparel"
	CategorySchoolSupplies Category = "School Supplies"
	CategoryPrivileges     Category = "Privileges"
	CategoryExperiences    Category = "Experiences"
	CategoryFoodTreats     Category = "Food & Treats"
	CategoryAccessories    Category = "Accessories"
	CategoryOther          Category = "Other"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryApparel,
		CategorySchoolSupplies,
		CategoryPrivileges,
		CategoryExperiences,
		CategoryFoodTreats,
		CategoryAccessories,
		CategoryOther,
	}
}

// IsValid checks the category is known.
func (c Category) IsValid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ITEM
// ══════════════════════════════════════════════════════════════════════════════

// Item is something students can buy with points.
type Item struct {
	// ID - opaque identifier.
	ID string

	// Name - display name.
	Name string

	// Description - free text.
	Description string

	// Category - shop category.
	Category Category

	// ImageURL - optional picture.
	ImageURL string

	// Price - cost in points, always positive.
	Price int64

	// StockQuantity - total units available; nil means unlimited.
	StockQuantity *int64

	// SoldCount - units sold so far. Engine-owned.
	SoldCount int64

	// Active - inactive items cannot be bought.
	Active bool

	// CreatedBy - teacher who requested the item.
	CreatedBy string

	// ApprovedBy - admin who approved it.
	ApprovedBy string

	// ApprovedAt - approval time, nil if created directly.
	ApprovedAt *time.Time

	// CreatedAt - creation time.
	CreatedAt time.Time

	// Version - optimistic concurrency token, managed by the store.
	Version int64
}

// IsUnlimited reports whether the item has no stock limit.
func (i Item) IsUnlimited() bool {
	return i.StockQuantity == nil
}

// RemainingStock returns units left; ok is false for unlimited items.
func (i Item) RemainingStock() (remaining int64, ok bool) {
	if i.StockQuantity == nil {
		return 0, false
	}
	remaining = *i.StockQuantity - i.SoldCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// IsAvailable reports whether a purchase could currently succeed on stock grounds.
func (i Item) IsAvailable() bool {
	if !i.Active {
		return false
	}
	remaining, limited := i.RemainingStock()
	return !limited || remaining > 0
}

// Sell records one unit sold, refusing inactive or exhausted items.
func (i *Item) Sell() error {
	if !i.Active {
		return shared.ErrItemInactive
	}
	if i.StockQuantity != nil && i.SoldCount >= *i.StockQuantity {
		return shared.ErrOutOfStock
	}
	i.SoldCount++
	return nil
}

// State returns the committed counter values for subscribers.
func (i Item) State() shared.AggregateState {
	counters := map[string]int64{
		shared.CounterSoldCount: i.SoldCount,
		shared.CounterPrice:     i.Price,
	}
	if i.StockQuantity != nil {
		counters[shared.CounterStockQuantity] = *i.StockQuantity
	}
	return shared.AggregateState{
		Kind:     shared.AggregateItem,
		ID:       i.ID,
		Version:  i.Version,
		Counters: counters,
	}
}

// Stock is a convenience constructor for a limited stock quantity.
func Stock(n int64) *int64 {
	return &n
}

// NewItemParams holds the fields of a new item.
type NewItemParams struct {
	ID            string
	Name          string
	Description   string
	Category      Category
	ImageURL      string
	Price         int64
	StockQuantity *int64
	CreatedBy     string
	ApprovedBy    string
}

// NewItem validates params and returns an active item with nothing sold.
func NewItem(params NewItemParams, now time.Time) (Item, error) {
	if err := shared.ValidateID("shop", "CreateItem", "id", params.ID); err != nil {
		return Item{}, err
	}
	name := strings.TrimSpace(params.Name)
	if name == "" || len(name) > 200 {
		return Item{}, shared.NewValidationError("shop", "CreateItem", "name must be 1-200 chars")
	}
	if !params.Category.IsValid() {
		return Item{}, shared.NewValidationError("shop", "CreateItem", "unknown category")
	}
	if _, err := shared.NewPrice(params.Price); err != nil {
		return Item{}, err
	}
	if params.StockQuantity != nil && *params.StockQuantity < 0 {
		return Item{}, shared.NewValidationError("shop", "CreateItem", "stock quantity cannot be negative")
	}
	item := Item{
		ID:            params.ID,
		Name:          name,
		Description:   strings.TrimSpace(params.Description),
		Category:      params.Category,
		ImageURL:      params.ImageURL,
		Price:         params.Price,
		StockQuantity: params.StockQuantity,
		Active:        true,
		CreatedBy:     params.CreatedBy,
		CreatedAt:     now,
	}
	if params.ApprovedBy != "" {
		at := now
		item.ApprovedBy = params.ApprovedBy
		item.ApprovedAt = &at
	}
	return item, nil
}
