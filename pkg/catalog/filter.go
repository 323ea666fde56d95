package catalog

import (
	"encoding/json"
	"time"
)

// Filter is a catalog search filter in the quick-search JSON form.
type Filter map[string]any

// And combines filters; every one must match.
func And(filters ...Filter) Filter {
	config := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			config = append(config, f)
		}
	}
	return Filter{"type": "AndFilter", "config": config}
}

// Or combines filters; any one may match.
func Or(filters ...Filter) Filter {
	return Filter{"type": "OrFilter", "config": filters}
}

// DateRange matches items whose field lies within [gte, lte]. A zero
// bound is left open.
func DateRange(field string, gte, lte time.Time) Filter {
	config := map[string]string{}
	if !gte.IsZero() {
		config["gte"] = gte.UTC().Format(time.RFC3339)
	}
	if !lte.IsZero() {
		config["lte"] = lte.UTC().Format(time.RFC3339)
	}
	return Filter{"type": "DateRangeFilter", "field_name": field, "config": config}
}

// Acquired matches items acquired within [start, end].
func Acquired(start, end time.Time) Filter {
	return DateRange("acquired", start, end)
}

// CloudCover matches items with at most maxFraction cloud cover (0..1).
func CloudCover(maxFraction float64) Filter {
	return Filter{
		"type":       "RangeFilter",
		"field_name": "cloud_cover",
		"config":     map[string]float64{"lte": maxFraction},
	}
}

// Geometry matches items intersecting a GeoJSON geometry.
func Geometry(geojson json.RawMessage) Filter {
	return Filter{"type": "GeometryFilter", "field_name": "geometry", "config": geojson}
}

// StringIn matches items whose field is one of values.
func StringIn(field string, values ...string) Filter {
	return Filter{"type": "StringInFilter", "field_name": field, "config": values}
}
