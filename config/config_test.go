package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensor.yml")
	writeFile(t, path, `
sources:
  - source: tensor.sources.generator.Generator
    service: gen
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.Interval)
	assert.Equal(t, 60.0, cfg.TTL)
	assert.Equal(t, 0.2, cfg.Stagger)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, 60.0, cfg.Sources[0].Interval)
	assert.Equal(t, 60.0, cfg.Sources[0].TTL)
}

func TestLoadBootstrapsLegacyOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensor.yml")
	writeFile(t, path, `
server: riemann.example.com
port: 5555
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, "tensor.outputs.riemann.RiemannTCP", cfg.Outputs[0].Output)
	assert.Equal(t, "riemann.example.com", cfg.Outputs[0].Server)
	assert.Equal(t, 5555, cfg.Outputs[0].Port)
}

func TestLoadBootstrapsUDPLegacyOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensor.yml")
	writeFile(t, path, `
server: riemann.example.com
proto: udp
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tensor.outputs.riemann.RiemannUDP", cfg.Outputs[0].Output)
}

func TestLoadExplicitOutputsSkipBootstrap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensor.yml")
	writeFile(t, path, `
outputs:
  - output: tensor.outputs.elasticsearch.ElasticSearchLog
    url: http://localhost:9200
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, "tensor.outputs.elasticsearch.ElasticSearchLog", cfg.Outputs[0].Output)
}

func TestLoadMergesIncludePath(t *testing.T) {
	dir := t.TempDir()
	includeDir := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(includeDir, 0755))
	writeFile(t, filepath.Join(includeDir, "a.yml"), `
sources:
  - source: tensor.sources.generator.Generator
    service: extra
`)

	path := filepath.Join(dir, "tensor.yml")
	writeFile(t, path, `
include_path: `+includeDir+`
sources:
  - source: tensor.sources.generator.Generator
    service: base
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2, "include_path fragments must concatenate sequences rather than override them")
}

func TestLoadMissingIncludePathIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensor.yml")
	writeFile(t, path, `
include_path: /no/such/directory
server: localhost
`)
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestSourceConfigRouteNames(t *testing.T) {
	var s SourceConfig
	assert.Nil(t, s.RouteNames())

	s.Route = "alerts"
	assert.Equal(t, []string{"alerts"}, s.RouteNames())

	s.Route = []interface{}{"alerts", "archive"}
	assert.Equal(t, []string{"alerts", "archive"}, s.RouteNames())
}

func TestSourceConfigTagList(t *testing.T) {
	var s SourceConfig
	assert.Nil(t, s.TagList())
	s.Tags = "a, b ,c"
	assert.Equal(t, []string{"a", "b", "c"}, s.TagList())
}
