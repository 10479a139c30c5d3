// Package house contains the House aggregate. A house belongs to one grade
// and accumulates the points awarded to its students.
package house

import (
	"regexp"
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

var colorHexPattern = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)

// House is a team of students competing for the cup.
type House struct {
	// ID - opaque identifier.
	ID string

	// Name - display name, e.g. "Phoenix".
	Name string

	// Grade - the grade level this house competes in.
	Grade shared.Grade

	// ColorHex - brand color, "#RRGGBB".
	ColorHex string

	// Mascot - optional mascot name.
	Mascot string

	// Motto - optional motto.
	Motto string

	// TotalPoints - sum of points over all committed awards to this house. Engine-owned.
	TotalPoints int64

	// Version - optimistic concurrency token, managed by the store.
	Version int64

	// CreatedAt - creation time.
	CreatedAt time.Time
}

// Credit adds awarded points to the house total.
func (h *House) Credit(points shared.Points) error {
	if !points.IsPositive() {
		return shared.NewValidationError("house", "Credit", "points must be positive")
	}
	h.TotalPoints += points.Int64()
	return nil
}

// State returns the committed counter values for subscribers.
func (h House) State() shared.AggregateState {
	return shared.AggregateState{
		Kind:    shared.AggregateHouse,
		ID:      h.ID,
		Version: h.Version,
		Counters: map[string]int64{
			shared.CounterTotalPoints: h.TotalPoints,
		},
	}
}

// NewHouseParams holds the catalog-owned fields of a new house.
type NewHouseParams struct {
	ID       string
	Name     string
	Grade    shared.Grade
	ColorHex string
	Mascot   string
	Motto    string
}

// NewHouse validates params and returns a house with a zero total.
func NewHouse(params NewHouseParams, now time.Time) (House, error) {
	if err := shared.ValidateID("house", "Create", "id", params.ID); err != nil {
		return House{}, err
	}
	name := strings.TrimSpace(params.Name)
	if name == "" || len(name) > 100 {
		return House{}, shared.NewValidationError("house", "Create", "name must be 1-100 chars")
	}
	if !params.Grade.IsValid() {
		return House{}, shared.NewValidationError("house", "Create", "grade must be between 9 and 12")
	}
	color := params.ColorHex
	if color != "" {
		if !colorHexPattern.MatchString(color) {
			return House{}, shared.NewValidationError("house", "Create", "color must be a 6-digit hex value")
		}
		if !strings.HasPrefix(color, "#") {
			color = "#" + color
		}
	}
	return House{
		ID:        params.ID,
		Name:      name,
		Grade:     params.Grade,
		ColorHex:  strings.ToUpper(color),
		Mascot:    strings.TrimSpace(params.Mascot),
		Motto:     strings.TrimSpace(params.Motto),
		CreatedAt: now,
	}, nil
}
