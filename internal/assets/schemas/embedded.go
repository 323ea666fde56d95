// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so the CLI and library validate
// manifests regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// WorkflowManifestSchema is the embedded workflow-manifest JSON schema.
//
//go:embed workflow-manifest.schema.json
var WorkflowManifestSchema []byte
