package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/glourbee/pkg/output"
)

// fakeCatalog serves one quick-search page followed by a continuation.
func fakeCatalog(t *testing.T, gotFilter *map[string]any) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/quick-search":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if gotFilter != nil {
				*gotFilter = body
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"features": []map[string]any{
					{"id": "20200101_101010_1_0f22"},
					{"id": "20200103_101010_1_0f22"},
				},
				"_links": map[string]any{"_next": srv.URL + "/page2"},
			})
		case r.URL.Path == "/page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"features": []map[string]any{
					{"id": "20200112_101010_1_0f22"},
					{"id": "20200130_101010_1_0f22"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	t.Setenv("GLOURBEE_CATALOG_URL", srv.URL)
}

func TestCatalogSearch(t *testing.T) {
	dir := isolate(t)
	newFakeCompute(t)
	var body map[string]any
	fakeCatalog(t, &body)

	geometry := filepath.Join(dir, "aoi.geojson")
	require.NoError(t, os.WriteFile(geometry, []byte(`{"type":"Point","coordinates":[4.8,45.7]}`), 0o644))

	out, err := execute(t, "catalog", "search",
		"--data-dir", dir,
		"--start", "2020-01-01",
		"--end", "2020-01-31",
		"--cloud-cover", "0.2",
		"--geometry", geometry,
		"--interval-days", "10",
		"--format", "json")
	require.NoError(t, err)

	var images []output.ImageRecord
	require.NoError(t, json.Unmarshal([]byte(out), &images), out)
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	assert.Equal(t, []string{"20200101_101010_1_0f22", "20200112_101010_1_0f22", "20200130_101010_1_0f22"}, ids)
	assert.Equal(t, "2020-01-12", images[1].Date)

	filter, ok := body["filter"].(map[string]any)
	require.True(t, ok, "%v", body)
	assert.Equal(t, "AndFilter", filter["type"])
	assert.Len(t, filter["config"], 3)
}

func TestCatalogSearch_IDsOnly(t *testing.T) {
	dir := isolate(t)
	newFakeCompute(t)
	fakeCatalog(t, nil)

	out, err := execute(t, "catalog", "search", "--data-dir", dir, "--ids-only")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20200101_101010_1_0f22",
		"20200103_101010_1_0f22",
		"20200112_101010_1_0f22",
		"20200130_101010_1_0f22",
	}, strings.Fields(out))
}

func TestCatalogSearch_InvalidFlags(t *testing.T) {
	dir := isolate(t)
	fakeCatalog(t, nil)

	for _, args := range [][]string{
		{"--cloud-cover", "1.5"},
		{"--interval-days", "-1"},
		{"--start", "01/01/2020"},
		{"--geometry", filepath.Join(dir, "missing.geojson")},
	} {
		_, err := execute(t, append([]string{"catalog", "search", "--data-dir", dir}, args...)...)
		require.Error(t, err, args)
		assert.Equal(t, ExitInvalidArgument, exitCode(err), args)
	}
}
