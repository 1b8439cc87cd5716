package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/partdb/config"
	"github.com/c360studio/partdb/stateless"
)

const manifestList = `
manifest_list:
  - name: "Crypto"
    manifest: "${PARTDB_APP_TEST_DIR}/tfm_crypto.yaml"
  - name: "Storage"
    manifest: "storage/tfm_storage.yaml"
    pid: 260
`

const cryptoManifest = `
name: TFM_SP_CRYPTO
psa_framework_version: 1.1
services:
  - name: TFM_CRYPTO
    sid: 0x80
    connection_based: false
`

const storageManifest = `
name: TFM_SP_STORAGE
psa_framework_version: 1.0
services:
  - name: TFM_STORAGE
    sid: 0x60
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// testConfig lays out a firmware tree under a temp root and returns a
// configuration building it.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "build", "tfm_manifest_list.yaml"), manifestList)
	writeFile(t, filepath.Join(root, "partitions", "crypto", "tfm_crypto.yaml"), cryptoManifest)
	writeFile(t, filepath.Join(root, "src", "storage", "tfm_storage.yaml"), storageManifest)
	writeFile(t, filepath.Join(root, ".env"), "PARTDB_APP_TEST_DIR="+filepath.Join(root, "partitions", "crypto")+"\n")

	cfg := config.DefaultConfig()
	cfg.Build.Root = root
	cfg.Build.ManifestLists = []string{"build/tfm_manifest_list.yaml", "src"}
	cfg.Build.EnvFiles = []string{".env"}
	cfg.Build.OutDir = "generated"
	cfg.Platform.Header = ""
	cfg.Platform.Layout = &stateless.Layout{
		Capacity:        32,
		IndexBitWidth:   5,
		IndicatorOffset: 30,
		VersionOffset:   8,
		VersionBitWidth: 8,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppRunToWriter(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	app, err := NewApp(cfg, nil, &out)
	require.NoError(t, err)
	require.NoError(t, app.Run())

	var got struct {
		Partitions []struct {
			PID        int    `yaml:"pid"`
			HeaderFile string `yaml:"header_file"`
		} `yaml:"partitions"`
		StatelessServices []map[string]any `yaml:"stateless_services"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))

	require.Len(t, got.Partitions, 2)
	assert.Equal(t, 261, got.Partitions[0].PID)
	assert.Equal(t, 260, got.Partitions[1].PID)
	assert.Equal(t, "generated/psa_manifest/tfm_crypto.h", got.Partitions[0].HeaderFile)

	require.Len(t, got.StatelessServices, 32)
	assert.Equal(t, "TFM_CRYPTO", got.StatelessServices[0]["name"])
	assert.Equal(t, "0x40000100", got.StatelessServices[0]["stateless_handle_value"])
}

func TestAppRunToFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Path = "out/spm_config.h"
	cfg.Output.Format = "defines"
	cfg.Output.MetricsFile = "out/partdb.prom"

	var out bytes.Buffer
	app, err := NewApp(cfg, nil, &out)
	require.NoError(t, err)
	require.NoError(t, app.Run())
	assert.Empty(t, out.String())

	defines, err := os.ReadFile(filepath.Join(cfg.Build.Root, "out", "spm_config.h"))
	require.NoError(t, err)
	assert.Contains(t, string(defines), "CONFIG_TFM_SPM_BACKEND_IPC")

	prom, err := os.ReadFile(filepath.Join(cfg.Build.Root, "out", "partdb.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `partdb_builds_total{result="success"} 1`)
}

func TestAppRunFailureRecordsMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.Backend = "SFN"
	cfg.Output.MetricsFile = "partdb.prom"

	app, err := NewApp(cfg, nil, &bytes.Buffer{})
	require.NoError(t, err)
	require.Error(t, app.Run())

	prom, err := os.ReadFile(filepath.Join(cfg.Build.Root, "partdb.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `partdb_builds_total{result="failure"} 1`)
}

func TestAppLists(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(cfg, nil, nil)
	require.NoError(t, err)

	lists, err := app.Lists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, filepath.Join(cfg.Build.Root, "build", "tfm_manifest_list.yaml"), lists[0].Path)
	assert.Equal(t, filepath.Join(cfg.Build.Root, "src"), lists[0].OriginalDir)

	cfg.Build.ManifestLists = nil
	_, err = app.Lists()
	assert.Error(t, err)
}

func TestAppLayout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Platform.Layout = nil
	cfg.Platform.Header = "spm_ipc.h"
	cfg.Platform.Profile = "profile.toml"

	writeFile(t, filepath.Join(cfg.Build.Root, "spm_ipc.h"), strings.Join([]string{
		"#define STATIC_HANDLE_NUM_LIMIT 32",
		"#define STATIC_HANDLE_IDX_BIT_WIDTH 5",
		"#define STATIC_HANDLE_INDICATOR_OFFSET 30",
		"#define STATIC_HANDLE_VER_OFFSET 8",
		"#define STATIC_HANDLE_VER_BIT_WIDTH 8",
	}, "\n"))
	writeFile(t, filepath.Join(cfg.Build.Root, "profile.toml"), "name = \"small\"\n\n[constants]\nSTATIC_HANDLE_NUM_LIMIT = 8\n")

	app, err := NewApp(cfg, nil, nil)
	require.NoError(t, err)

	layout, err := app.Layout()
	require.NoError(t, err)
	assert.Equal(t, 8, layout.Capacity)
	assert.Equal(t, 5, layout.IndexBitWidth)

	// A missing header is tolerated when a profile supplies the rest
	require.NoError(t, os.Remove(filepath.Join(cfg.Build.Root, "spm_ipc.h")))
	_, err = app.Layout()
	assert.Error(t, err, "profile alone does not define every macro")

	cfg.Platform.Profile = ""
	_, err = app.Layout()
	assert.Error(t, err)
}

func TestAppPlatformFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Platform.Header = "spm_ipc.h"

	app, err := NewApp(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(cfg.Build.Root, "spm_ipc.h"),
		filepath.Join(cfg.Build.Root, ".env"),
	}, app.platformFiles())
}
