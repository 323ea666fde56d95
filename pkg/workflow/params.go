package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/graph"
)

// Defaults applied by Params.Normalize.
const (
	DefaultSplitSize   = 50
	DefaultCloudFilter = 80
	DefaultFIDField    = "DGO_FID"
	DateLayout         = "2006-01-02"
)

var (
	DefaultStart = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultEnd   = time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC)
)

// ValidationError reports an invalid workflow parameter. It is a
// configuration error: no remote call has been made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return fanout.ErrConfiguration
}

// Params configures a metrics workflow.
type Params struct {
	Name      string          `json:"name,omitempty" yaml:"name"`
	Satellite graph.Satellite `json:"satellite" yaml:"satellite"`

	// DGOAsset is the feature collection of DGO polygons.
	DGOAsset string `json:"dgo_asset" yaml:"dgo_asset"`
	FIDField string `json:"fid_field" yaml:"fid_field"`

	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`

	// CloudFilter is the maximum scene cloud cover in percent; 0 disables.
	CloudFilter   int  `json:"cloud_filter" yaml:"cloud_filter"`
	CloudMasking  bool `json:"cloud_masking" yaml:"cloud_masking"`
	MosaicSameDay bool `json:"mosaic_same_day" yaml:"mosaic_same_day"`

	SplitSize int `json:"split_size" yaml:"split_size"`

	// Planet only.
	CollectionAsset string   `json:"collection_asset,omitempty" yaml:"collection_asset"`
	ImageIDs        []string `json:"image_ids,omitempty" yaml:"image_ids"`
}

// DefaultParams returns the parameters of a standard Landsat run.
func DefaultParams() Params {
	return Params{
		Satellite:     graph.Landsat,
		FIDField:      DefaultFIDField,
		Start:         DefaultStart,
		End:           DefaultEnd,
		CloudFilter:   DefaultCloudFilter,
		CloudMasking:  true,
		MosaicSameDay: true,
		SplitSize:     DefaultSplitSize,
	}
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return t, nil
}

// Validate checks p and normalizes the satellite name. It never contacts
// a remote service.
func (p *Params) Validate() error {
	sat, err := graph.ParseSatellite(string(p.Satellite))
	if err != nil {
		return &ValidationError{Field: "satellite", Message: err.Error()}
	}
	p.Satellite = sat

	if strings.TrimSpace(p.DGOAsset) == "" {
		return &ValidationError{Field: "dgo_asset", Message: "is required"}
	}
	if strings.TrimSpace(p.FIDField) == "" {
		return &ValidationError{Field: "fid_field", Message: "is required"}
	}
	if p.SplitSize <= 0 {
		return &ValidationError{Field: "split_size", Message: "must be > 0"}
	}
	if p.CloudFilter < 0 || p.CloudFilter > 100 {
		return &ValidationError{Field: "cloud_filter", Message: "must be within 0..100"}
	}

	if sat == graph.Planet {
		if strings.TrimSpace(p.CollectionAsset) == "" {
			return &ValidationError{Field: "collection_asset", Message: "is required for Planet imagery"}
		}
		return nil
	}

	if p.Start.IsZero() || p.End.IsZero() {
		return &ValidationError{Field: "date_range", Message: "start and end are required"}
	}
	if p.End.Before(p.Start) {
		return &ValidationError{
			Field:   "date_range",
			Message: fmt.Sprintf("end %s is before start %s", p.End.Format(DateLayout), p.Start.Format(DateLayout)),
		}
	}
	return nil
}

func (p *Params) metricsRequest(featureIDs []string) graph.MetricsRequest {
	return graph.MetricsRequest{
		Satellite:       p.Satellite,
		Start:           p.Start,
		End:             p.End,
		CloudFilter:     p.CloudFilter,
		CloudMasking:    p.CloudMasking,
		MosaicSameDay:   p.MosaicSameDay,
		DGOAsset:        p.DGOAsset,
		FIDField:        p.FIDField,
		FeatureIDs:      featureIDs,
		CollectionAsset: p.CollectionAsset,
		ImageIDs:        p.ImageIDs,
	}
}
