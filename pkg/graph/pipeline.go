package graph

import (
	"encoding/json"
	"regexp"
	"time"
)

// Remote operators exposed by the glourbee script library.
const (
	FnIndicators    = "glourbee.calculateIndicators"
	FnClassify      = "glourbee.classifyObjects"
	FnDGOMetrics    = "glourbee.calculateDGOsMetrics"
	FnGSWIndicators = "glourbee.calculateGSWIndicators"
)

// GSWCollection is the JRC Global Surface Water monthly history.
const GSWCollection = "JRC/GSW1_4/MonthlyHistory"

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// literalValues keeps numeric identifiers numeric so remote filters
// compare them against integer properties.
func literalValues(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		if jsonNumber.MatchString(id) {
			out[i] = json.Number(id)
			continue
		}
		out[i] = id
	}
	return out
}

// LoadFeatures creates a feature collection source node.
func LoadFeatures(assetID string) *Node {
	return Call("FeatureCollection.load", map[string]any{"tableId": assetID})
}

// FeatureSubset loads assetID and keeps features whose field is one of ids.
func FeatureSubset(assetID, field string, ids []string) *Node {
	return FilterInList(LoadFeatures(assetID), field, literalValues(ids))
}

// Union dissolves a feature collection into a single geometry.
func Union(features *Node) *Node {
	return Call("FeatureCollection.geometry", map[string]any{
		"collection": Call("FeatureCollection.union", map[string]any{
			"collection": features,
			"maxError":   1,
		}),
	})
}

// Indicators maps the spectral index computation over collection.
func Indicators(collection *Node, sat Satellite) *Node {
	return Call(FnIndicators, map[string]any{
		"collection": collection,
		"satellite":  string(sat),
	})
}

// Classify maps the water, vegetation and active channel classification.
func Classify(collection *Node, sat Satellite) *Node {
	return Call(FnClassify, map[string]any{
		"collection": collection,
		"satellite":  string(sat),
	})
}

// DGOMetrics reduces classified imagery over every DGO polygon.
func DGOMetrics(collection, dgos *Node, scale int) *Node {
	return Call(FnDGOMetrics, map[string]any{
		"collection": collection,
		"dgos":       dgos,
		"scale":      scale,
	})
}

// MetricsRequest describes one metrics computation over a DGO subset.
type MetricsRequest struct {
	Satellite Satellite
	Start     time.Time
	End       time.Time

	CloudFilter   int
	CloudMasking  bool
	MosaicSameDay bool

	DGOAsset string
	FIDField string

	// FeatureIDs restricts the computation to these DGOs. Empty means
	// every feature of DGOAsset.
	FeatureIDs []string

	// Planet only.
	CollectionAsset string
	ImageIDs        []string
}

// Metrics builds the full indicators, classification and DGO metrics
// graph for req.
func Metrics(req MetricsRequest) (*Node, error) {
	var dgos *Node
	if len(req.FeatureIDs) > 0 {
		dgos = FeatureSubset(req.DGOAsset, req.FIDField, req.FeatureIDs)
	} else {
		dgos = LoadFeatures(req.DGOAsset)
	}

	source, err := Source(req.Satellite, CollectionOptions{
		Start:           req.Start,
		End:             req.End,
		CloudFilter:     req.CloudFilter,
		CloudMasking:    req.CloudMasking,
		MosaicSameDay:   req.MosaicSameDay,
		Region:          Union(dgos),
		CollectionAsset: req.CollectionAsset,
		ImageIDs:        req.ImageIDs,
	})
	if err != nil {
		return nil, err
	}

	classified := Classify(Indicators(source, req.Satellite), req.Satellite)
	return DGOMetrics(classified, dgos, req.Satellite.Scale()), nil
}

// GSWIndicators builds the Global Surface Water indicators table for
// every DGO of dgoAsset.
func GSWIndicators(dgoAsset string) *Node {
	return Call(FnGSWIndicators, map[string]any{
		"collection": Load(GSWCollection),
		"dgos":       LoadFeatures(dgoAsset),
	})
}
