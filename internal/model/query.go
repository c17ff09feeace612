package model

import (
	"sort"
	"strings"
)

// SortKey selects the primary ordering of a list query.
type SortKey string

const (
	SortByName SortKey = "name"
	SortByYear SortKey = "year"
)

// Query is consumed by Store.List.
//
// Q matches name or label case-insensitively. Limit <= 0 means no limit.
// Archived robots are skipped unless IncludeArchived is set.
type Query struct {
	Q               string  `json:"q,omitempty"`
	Sort            SortKey `json:"sort,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Offset          int     `json:"offset,omitempty"`
	IncludeArchived bool    `json:"includeArchived,omitempty"`
}

// SortOrDefault returns the effective sort key; unknown keys fall back to name.
func (q Query) SortOrDefault() SortKey {
	if q.Sort == SortByYear {
		return SortByYear
	}
	return SortByName
}

// Text returns the trimmed, lower-cased search text.
func (q Query) Text() string {
	return strings.ToLower(strings.TrimSpace(q.Q))
}

// Matches reports whether r passes the archive and text filters of q.
func (q Query) Matches(r Robot) bool {
	if r.Archived && !q.IncludeArchived {
		return false
	}
	text := q.Text()
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Name), text) ||
		strings.Contains(strings.ToLower(r.Label), text)
}

// Less orders robots by the primary key, then by case-insensitive name, then by id.
func Less(a, b Robot, key SortKey) bool {
	if key == SortByYear && a.Year != b.Year {
		return a.Year < b.Year
	}
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}

// Apply filters, sorts and paginates robots in memory. The input slice is not modified.
func (q Query) Apply(robots []Robot) []Robot {
	out := make([]Robot, 0, len(robots))
	for _, r := range robots {
		if q.Matches(r) {
			out = append(out, r)
		}
	}

	key := q.SortOrDefault()
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j], key) })

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Robot{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}
