// Package temporal thins dated image identifiers so that selected
// acquisition dates are spaced at least a given number of days apart.
//
// Identifiers follow the PlanetScope scene naming convention: an 8-digit
// YYYYMMDD acquisition date, an underscore, then an opaque suffix
// (e.g. "20210104_101245_1032"). Two identifiers are siblings when their
// date prefixes are identical; siblings are always kept or dropped as a
// group.
package temporal

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the layout of the identifier date prefix.
const DateLayout = "20060102"

// Separator splits the date prefix from the rest of an identifier.
const Separator = '_'

// ParseDate extracts the acquisition date from an identifier.
//
// The identifier must start with 8 ASCII digits forming a valid calendar
// date, followed by either the end of the string or Separator. Dates are
// returned at midnight UTC.
func ParseDate(id string) (time.Time, error) {
	if len(id) < len(DateLayout) {
		return time.Time{}, &FormatError{ID: id, Reason: "shorter than an 8-digit date prefix"}
	}
	prefix := id[:len(DateLayout)]
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return time.Time{}, &FormatError{ID: id, Reason: "date prefix is not numeric"}
		}
	}
	if len(id) > len(DateLayout) && id[len(DateLayout)] != Separator {
		return time.Time{}, &FormatError{ID: id, Reason: fmt.Sprintf("expected %q after date prefix", Separator)}
	}
	t, err := time.ParseInLocation(DateLayout, prefix, time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{ID: id, Reason: "date prefix is not a calendar date"}
	}
	return t, nil
}

type datedID struct {
	date time.Time
	id   string
}

// Select returns the identifiers whose acquisition dates are at least
// intervalDays apart.
//
// Identifiers are stably sorted by date and walked one date group at a
// time. A group is selected when nothing has been selected yet or when its
// date is at least intervalDays after the last selected date; every
// identifier of a selected group is kept, in input order. The output is in
// ascending date order.
//
// Any identifier without a valid date prefix fails the whole call.
func Select(ids []string, intervalDays int) ([]string, error) {
	if intervalDays < 0 {
		return nil, &ConfigError{Field: "interval_days", Message: fmt.Sprintf("must be >= 0, got %d", intervalDays)}
	}

	dated := make([]datedID, 0, len(ids))
	for _, id := range ids {
		d, err := ParseDate(id)
		if err != nil {
			return nil, err
		}
		dated = append(dated, datedID{date: d, id: id})
	}

	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].date.Before(dated[j].date)
	})

	selected := make([]string, 0, len(dated))
	var last time.Time
	haveLast := false

	for i := 0; i < len(dated); {
		groupDate := dated[i].date
		j := i
		for j < len(dated) && dated[j].date.Equal(groupDate) {
			j++
		}

		if !haveLast || daysBetween(last, groupDate) >= int64(intervalDays) {
			for _, d := range dated[i:j] {
				selected = append(selected, d.id)
			}
			last = groupDate
			haveLast = true
		}
		i = j
	}

	return selected, nil
}

// daysBetween counts whole days from a to b. Both are UTC midnights.
func daysBetween(a, b time.Time) int64 {
	return (b.Unix() - a.Unix()) / 86400
}

// Dates returns the distinct acquisition dates of ids in ascending order.
func Dates(ids []string) ([]time.Time, error) {
	seen := make(map[time.Time]struct{}, len(ids))
	out := make([]time.Time, 0, len(ids))
	for _, id := range ids {
		d, err := ParseDate(id)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
