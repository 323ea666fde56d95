package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	schemasassets "github.com/3leaps/glourbee/internal/assets/schemas"
)

// ErrValidationFailed is wrapped by every schema rejection.
var ErrValidationFailed = errors.New("manifest validation failed")

// Load reads the manifest at path. See LoadFromBytes.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("manifest file not found: %s", path)
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes decodes a manifest. A .json path is parsed strictly as
// JSON, anything else as YAML. The document is checked against the
// embedded schema before decoding, so unknown fields are rejected rather
// than dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	normalized := data
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
		}
		var err error
		if normalized, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("normalize manifest: %w", err)
		}
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}

// ValidationError is one schema violation at a JSON pointer.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors lists every violation, ordered by path.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "manifest has %d errors:", len(e))
	for _, v := range e {
		b.WriteString("\n  - " + v.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error { return ErrValidationFailed }

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	const url = "workflow-manifest.schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(schemasassets.WorkflowManifestSchema)); err != nil {
		return nil, fmt.Errorf("load manifest schema: %w", err)
	}
	return c.Compile(url)
})

func validate(doc any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	err = schema.Validate(doc)
	var verr *jsonschema.ValidationError
	if err == nil || !errors.As(err, &verr) {
		return err
	}

	var out ValidationErrors
	seen := map[ValidationError]bool{}
	var leaves func(*jsonschema.ValidationError)
	leaves = func(e *jsonschema.ValidationError) {
		for _, c := range e.Causes {
			leaves(c)
		}
		v := ValidationError{Path: e.InstanceLocation, Message: e.Message}
		if len(e.Causes) == 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	leaves(verr)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
