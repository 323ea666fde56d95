package graph

import (
	"fmt"
	"strings"
	"time"
)

// Satellite selects the imagery source of a workflow.
type Satellite string

const (
	Landsat   Satellite = "Landsat"
	Sentinel2 Satellite = "Sentinel-2"
	Planet    Satellite = "Planet"
)

// Satellites lists the supported imagery sources.
var Satellites = []Satellite{Landsat, Sentinel2, Planet}

// ParseSatellite validates a satellite selector.
//
// Matching is case-insensitive and tolerates "sentinel2" for Sentinel-2.
func ParseSatellite(s string) (Satellite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "landsat":
		return Landsat, nil
	case "sentinel-2", "sentinel2":
		return Sentinel2, nil
	case "planet", "planetscope":
		return Planet, nil
	}
	return "", fmt.Errorf("unsupported satellite %q (expected Landsat, Sentinel-2 or Planet)", s)
}

// Scale returns the nominal pixel size in meters used for reductions.
func (s Satellite) Scale() int {
	switch s {
	case Sentinel2:
		return 10
	case Planet:
		return 3
	default:
		return 30
	}
}

// CloudProperty returns the image property holding scene cloud cover.
func (s Satellite) CloudProperty() string {
	switch s {
	case Sentinel2:
		return "CLOUDY_PIXEL_PERCENTAGE"
	case Planet:
		return "cloud_cover"
	default:
		return "CLOUD_COVER"
	}
}

// Common band names shared by every source after renaming.
var (
	LandsatBandNames  = []string{"blue", "green", "red", "nir", "swir1", "swir2", "qa_pixel"}
	SentinelBandNames = []string{"blue", "green", "red", "nir", "swir1", "swir2", "SNOW"}
	PlanetBandNames   = []string{"blue", "green", "red", "nir", "CLEAR"}
)

// landsatSensors maps Landsat Collection 2 Level-2 collections to their
// source bands, in LandsatBandNames order. Order matters: newest first.
var landsatSensors = []struct {
	Collection string
	Bands      []string
}{
	{"LANDSAT/LC08/C02/T1_L2", []string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7", "QA_PIXEL"}},
	{"LANDSAT/LE07/C02/T1_L2", []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7", "QA_PIXEL"}},
	{"LANDSAT/LT05/C02/T1_L2", []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7", "QA_PIXEL"}},
	{"LANDSAT/LT04/C02/T1_L2", []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7", "QA_PIXEL"}},
}

const (
	sentinelCollection   = "COPERNICUS/S2_SR_HARMONIZED"
	cloudScorePlus       = "GOOGLE/CLOUD_SCORE_PLUS/V1/S2_HARMONIZED"
	sentinelMaskedOutput = "CLOUDS"
)

var (
	sentinelBands = []string{"B2", "B3", "B4", "B8", "B11", "B12", "MSK_SNWPRB"}
	planetBands   = []string{"B1", "B2", "B3", "B4", "Q1"}
)

// Landsat cloud mask bits in QA_PIXEL.
const (
	LandsatCloudShadowBit = 3
	LandsatCloudBit       = 5
)

// SentinelCloudScoreThreshold is the Cloud Score+ "cs" value above which a
// pixel is flagged as cloud.
const SentinelCloudScoreThreshold = 0.65

// CollectionOptions parameterizes an image collection source.
type CollectionOptions struct {
	// Start and End bound acquisition dates; both inclusive.
	Start time.Time
	End   time.Time

	// CloudFilter is the maximum scene cloud cover in percent.
	// Zero disables scene filtering.
	CloudFilter int

	// CloudMasking masks remaining cloudy pixels.
	CloudMasking bool

	// MosaicSameDay merges images acquired on the same day.
	MosaicSameDay bool

	// Region restricts images to those intersecting this geometry node.
	Region *Node

	// CollectionAsset is the image collection asset for Planet imagery.
	CollectionAsset string

	// ImageIDs restricts Planet imagery to these scene identifiers.
	ImageIDs []string
}

// Load creates an image collection source node.
func Load(collection string) *Node {
	return Call("ImageCollection.load", map[string]any{"id": collection})
}

// SelectBands selects and renames bands of every image.
func SelectBands(collection *Node, bands, names []string) *Node {
	return Call("ImageCollection.select", map[string]any{
		"input":         collection,
		"bandSelectors": bands,
		"newNames":      names,
	})
}

// Merge concatenates image collections.
func Merge(collections ...*Node) *Node {
	return Call("ImageCollection.merge", map[string]any{"collections": collections})
}

// FilterDate keeps images acquired within [start, end].
func FilterDate(collection *Node, start, end time.Time) *Node {
	return Call("ImageCollection.filterDate", map[string]any{
		"collection": collection,
		"start":      start.Format("2006-01-02"),
		"end":        end.Format("2006-01-02"),
	})
}

// FilterLTE keeps elements whose property is at most value.
func FilterLTE(collection *Node, property string, value any) *Node {
	return Call("Collection.filter", map[string]any{
		"collection": collection,
		"filter": Call("Filter.lessThanOrEquals", map[string]any{
			"leftField":  property,
			"rightValue": value,
		}),
	})
}

// FilterInList keeps elements whose property is one of values.
func FilterInList(collection *Node, property string, values []any) *Node {
	return Call("Collection.filter", map[string]any{
		"collection": collection,
		"filter": Call("Filter.inList", map[string]any{
			"leftField":  property,
			"rightValue": values,
		}),
	})
}

// FilterBounds keeps elements intersecting region.
func FilterBounds(collection, region *Node) *Node {
	return Call("Collection.filterBounds", map[string]any{
		"collection": collection,
		"geometry":   region,
	})
}

// MapFunction applies a named remote function to every element.
func MapFunction(collection *Node, fn string, args map[string]any) *Node {
	mapped := map[string]any{"collection": collection, "baseAlgorithm": fn}
	if len(args) > 0 {
		mapped["arguments"] = args
	}
	return Call("Collection.map", mapped)
}

// MosaicSameDay merges images sharing an acquisition day.
func MosaicSameDay(collection *Node) *Node {
	return Call("ImageCollection.mosaicSameDay", map[string]any{"collection": collection})
}

// LandsatCollection builds the merged Landsat 4/5/7/8 surface reflectance
// source.
func LandsatCollection(opts CollectionOptions) *Node {
	sensors := make([]*Node, 0, len(landsatSensors))
	for _, s := range landsatSensors {
		sensors = append(sensors, SelectBands(Load(s.Collection), s.Bands, LandsatBandNames))
	}

	c := FilterDate(Merge(sensors...), opts.Start, opts.End)
	if opts.CloudFilter > 0 {
		c = FilterLTE(c, Landsat.CloudProperty(), opts.CloudFilter)
	}
	if opts.Region != nil {
		c = FilterBounds(c, opts.Region)
	}
	if opts.CloudMasking {
		c = MapFunction(c, "glourbee.maskLandsatClouds", map[string]any{
			"qaBand":         "qa_pixel",
			"cloudShadowBit": LandsatCloudShadowBit,
			"cloudBit":       LandsatCloudBit,
			"outputMaskBand": sentinelMaskedOutput,
		})
	}
	if opts.MosaicSameDay {
		c = MosaicSameDay(c)
	}
	return c
}

// SentinelCollection builds the Sentinel-2 surface reflectance source
// linked with Cloud Score+.
func SentinelCollection(opts CollectionOptions) *Node {
	cs := FilterDate(Load(cloudScorePlus), opts.Start, opts.End)
	if opts.Region != nil {
		cs = FilterBounds(cs, opts.Region)
	}

	c := FilterDate(SelectBands(Load(sentinelCollection), sentinelBands, SentinelBandNames), opts.Start, opts.End)
	if opts.Region != nil {
		c = FilterBounds(c, opts.Region)
	}
	c = Call("ImageCollection.linkCollection", map[string]any{
		"collection": c,
		"linked":     cs,
		"bands":      []string{"cs"},
	})

	if opts.CloudFilter > 0 {
		c = FilterLTE(c, Sentinel2.CloudProperty(), opts.CloudFilter)
	}
	if opts.CloudMasking {
		c = MapFunction(c, "glourbee.scaleAndMaskS2Clouds", map[string]any{
			"cloudScoreBand": "cs",
			"threshold":      SentinelCloudScoreThreshold,
			"snowBand":       "SNOW",
			"scale":          10000,
			"outputMaskBand": sentinelMaskedOutput,
		})
		c = SelectBands(c,
			[]string{"blue", "green", "red", "nir", "swir1", "swir2", sentinelMaskedOutput},
			[]string{"blue", "green", "red", "nir", "swir1", "swir2", sentinelMaskedOutput})
	}
	if opts.MosaicSameDay {
		c = MosaicSameDay(c)
	}
	return c
}

// PlanetCollection builds the PlanetScope source from a collection asset,
// optionally restricted to a list of scene identifiers.
func PlanetCollection(opts CollectionOptions) (*Node, error) {
	if strings.TrimSpace(opts.CollectionAsset) == "" {
		return nil, fmt.Errorf("planet collection asset is required")
	}
	c := SelectBands(Load(opts.CollectionAsset), planetBands, PlanetBandNames)
	if opts.Region != nil {
		c = FilterBounds(c, opts.Region)
	}
	if len(opts.ImageIDs) > 0 {
		ids := make([]any, len(opts.ImageIDs))
		for i, id := range opts.ImageIDs {
			ids[i] = id
		}
		c = FilterInList(c, "system:index", ids)
	}
	return c, nil
}

// Source builds the image collection node for sat.
func Source(sat Satellite, opts CollectionOptions) (*Node, error) {
	switch sat {
	case Landsat:
		return LandsatCollection(opts), nil
	case Sentinel2:
		return SentinelCollection(opts), nil
	case Planet:
		return PlanetCollection(opts)
	}
	return nil, fmt.Errorf("unsupported satellite %q", sat)
}
