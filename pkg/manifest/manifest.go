// Package manifest provides loading and validation of glourbee workflow
// manifests.
//
// A workflow manifest is a YAML or JSON file that describes one metrics
// run: the imagery and DGO parameters, the compute project it runs in and
// where the merged results go.
//
// Manifests are validated against a JSON Schema before they are parsed.
// The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: rhone-landsat
//	workflow:
//	  satellite: Landsat
//	  dgo_asset: projects/ee-glourb/assets/dgos/rhone
//	  start: "2000-01-01"
//	  end: "2020-12-31"
//	  split_size: 50
//	compute:
//	  project: ee-glourb
//	  concurrency: 4
//	output:
//	  destination: s3://glourb-results/rhone/metrics.csv
package manifest

import (
	"path/filepath"
	"strings"

	"github.com/3leaps/glourbee/pkg/graph"
	"github.com/3leaps/glourbee/pkg/workflow"
)

// Manifest represents a validated workflow manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name labels the run in the registry.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Workflow WorkflowConfig `json:"workflow" yaml:"workflow"`
	Compute  ComputeConfig  `json:"compute,omitempty" yaml:"compute,omitempty"`
	Output   OutputConfig   `json:"output,omitempty" yaml:"output,omitempty"`
}

// WorkflowConfig holds the metrics parameters.
type WorkflowConfig struct {
	Satellite string `json:"satellite" yaml:"satellite"`
	DGOAsset  string `json:"dgo_asset" yaml:"dgo_asset"`
	FIDField  string `json:"fid_field,omitempty" yaml:"fid_field,omitempty"`

	// Start and End are YYYY-MM-DD dates.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`

	// Pointers distinguish an explicit zero or false from an omitted field.
	CloudFilter   *int  `json:"cloud_filter,omitempty" yaml:"cloud_filter,omitempty"`
	CloudMasking  *bool `json:"cloud_masking,omitempty" yaml:"cloud_masking,omitempty"`
	MosaicSameDay *bool `json:"mosaic_same_day,omitempty" yaml:"mosaic_same_day,omitempty"`

	SplitSize int `json:"split_size,omitempty" yaml:"split_size,omitempty"`

	CollectionAsset string   `json:"collection_asset,omitempty" yaml:"collection_asset,omitempty"`
	ImageIDs        []string `json:"image_ids,omitempty" yaml:"image_ids,omitempty"`
}

// ComputeConfig overrides the compute settings of the loaded configuration.
type ComputeConfig struct {
	Project     string  `json:"project,omitempty" yaml:"project,omitempty"`
	AssetFolder string  `json:"asset_folder,omitempty" yaml:"asset_folder,omitempty"`
	Concurrency int     `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	RateLimit   float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// OutputConfig configures where collected results are written.
type OutputConfig struct {
	// Destination is a local path, a file: URI or an s3:// URI.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Format is "csv" or "xlsx". Empty infers it from the destination.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Columns are glob patterns selecting result columns.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`

	// Purge deletes the remote exports after a successful collect.
	Purge bool `json:"purge,omitempty" yaml:"purge,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	DefaultFormat = "csv"
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Output.Format == "" {
		m.Output.Format = InferFormat(m.Output.Destination)
	}
}

// InferFormat returns "xlsx" for .xlsx destinations and "csv" otherwise.
func InferFormat(destination string) string {
	if strings.EqualFold(filepath.Ext(destination), ".xlsx") {
		return "xlsx"
	}
	return DefaultFormat
}

// Params converts the workflow section into validated workflow parameters.
// Omitted fields take the workflow defaults.
func (m *Manifest) Params() (workflow.Params, error) {
	w := m.Workflow
	p := workflow.DefaultParams()
	p.Name = m.Name
	p.Satellite = graph.Satellite(w.Satellite)
	p.DGOAsset = w.DGOAsset
	p.CollectionAsset = w.CollectionAsset
	p.ImageIDs = w.ImageIDs

	if w.FIDField != "" {
		p.FIDField = w.FIDField
	}
	if w.SplitSize > 0 {
		p.SplitSize = w.SplitSize
	}
	if w.CloudFilter != nil {
		p.CloudFilter = *w.CloudFilter
	}
	if w.CloudMasking != nil {
		p.CloudMasking = *w.CloudMasking
	}
	if w.MosaicSameDay != nil {
		p.MosaicSameDay = *w.MosaicSameDay
	}
	if w.Start != "" {
		start, err := workflow.ParseDate("start", w.Start)
		if err != nil {
			return workflow.Params{}, err
		}
		p.Start = start
	}
	if w.End != "" {
		end, err := workflow.ParseDate("end", w.End)
		if err != nil {
			return workflow.Params{}, err
		}
		p.End = end
	}

	if err := p.Validate(); err != nil {
		return workflow.Params{}, err
	}
	return p, nil
}
