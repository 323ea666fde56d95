package compute

import (
	"fmt"
	"path"
	"strings"
)

// DefaultAssetFolder is the project folder receiving exported tables.
const DefaultAssetFolder = "metrics/tmp"

// AssetID returns the full asset id of name inside folder of project.
func AssetID(project, folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return fmt.Sprintf("projects/%s/assets/%s", project, name)
	}
	return fmt.Sprintf("projects/%s/assets/%s/%s", project, folder, name)
}

// ResolveAssetID converts a task destination URI into an asset id of
// project. Destination URIs are typically console links whose path or query
// ends with "<project>/assets/<path>".
func ResolveAssetID(uri, project string) (string, error) {
	marker := project + "/assets/"
	idx := strings.Index(uri, marker)
	if idx < 0 {
		return "", fmt.Errorf("destination %q is not an asset of project %q", uri, project)
	}
	rest := uri[idx+len(marker):]
	if cut := strings.IndexAny(rest, "?#&"); cut >= 0 {
		rest = rest[:cut]
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", fmt.Errorf("destination %q has an empty asset path", uri)
	}
	return "projects/" + project + "/assets/" + rest, nil
}

// AssetName returns the last path element of an asset id.
func AssetName(assetID string) string {
	return path.Base(assetID)
}
