// Package leaderboard is the ranking engine: pure functions that order houses
// or students by score and classify how each moved since a previous snapshot.
package leaderboard

import (
	"fmt"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a 1-based position in a ranking. Zero means unranked.
type Rank int

// IsValid checks the rank is positive.
func (r Rank) IsValid() bool {
	return r > 0
}

// String returns "#n".
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// RankChange is previous rank minus current rank.
// Positive means the entity moved up.
type RankChange int

// Direction converts the change into a trend.
func (rc RankChange) Direction() Trend {
	switch {
	case rc > 0:
		return TrendUp
	case rc < 0:
		return TrendDown
	default:
		return TrendStable
	}
}

// Trend classifies movement since the previous snapshot.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATE & ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Candidate is a scored entity fed to the engine.
type Candidate struct {
	ID       string
	Name     string
	Score    int64
	ColorHex string
}

// Entry is one ranked line.
type Entry struct {
	Rank       Rank       `json:"rank"`
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Score      int64      `json:"score"`
	ColorHex   string     `json:"color_hex,omitempty"`
	RankChange RankChange `json:"rank_change"`
	Trend      Trend      `json:"trend"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is an ordered, immutable result of the engine.
type Ranking struct {
	entries []Entry
	byID    map[string]int
}

// Entries returns a copy of all entries in rank order.
func (r *Ranking) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of ranked entities.
func (r *Ranking) Len() int {
	return len(r.entries)
}

// Get returns the entry for id.
func (r *Ranking) Get(id string) (Entry, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// RankOf returns the rank of id, or 0 if absent.
func (r *Ranking) RankOf(id string) Rank {
	e, ok := r.Get(id)
	if !ok {
		return 0
	}
	return e.Rank
}

// Top returns the first n entries.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]Entry, n)
	copy(out, r.entries[:n])
	return out
}

// Neighbors returns up to rangeSize entries on either side of id, inclusive.
func (r *Ranking) Neighbors(id string, rangeSize int) []Entry {
	idx, ok := r.byID[id]
	if !ok {
		return nil
	}
	from := idx - rangeSize
	to := idx + rangeSize + 1
	if from < 0 {
		from = 0
	}
	if to > len(r.entries) {
		to = len(r.entries)
	}
	out := make([]Entry, to-from)
	copy(out, r.entries[from:to])
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Order sorts candidates in place: score descending, then id ascending.
// The order is total, so equal inputs always yield equal outputs.
func Order(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// Compute ranks candidates. Rank is position + 1; tied scores do not share
// a rank. If previous is nil every trend is stable; an entity missing from
// previous is also stable. The input slice is not modified.
func Compute(candidates []Candidate, previous *Snapshot) *Ranking {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	Order(sorted)

	r := &Ranking{
		entries: make([]Entry, len(sorted)),
		byID:    make(map[string]int, len(sorted)),
	}
	for i, c := range sorted {
		rank := Rank(i + 1)
		var change RankChange
		if previous != nil {
			if prev := previous.RankOf(c.ID); prev.IsValid() {
				change = RankChange(prev - rank)
			}
		}
		r.entries[i] = Entry{
			Rank:       rank,
			ID:         c.ID,
			Name:       c.Name,
			Score:      c.Score,
			ColorHex:   c.ColorHex,
			RankChange: change,
			Trend:      change.Direction(),
		}
		r.byID[c.ID] = i
	}
	return r
}

// TopN returns the first n candidates under the ranking order.
// n <= 0 yields nil.
func TopN(candidates []Candidate, n int) []Candidate {
	if n <= 0 {
		return nil
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	Order(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
