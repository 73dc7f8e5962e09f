package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/warctools/stream"
	"github.com/stripe/warctools/warc"
)

func createTestConfig(t *testing.T, conf string) string {
	path := filepath.Join(t.TempDir(), "warctools.conf")
	err := ioutil.WriteFile(path, []byte(conf), 0644)
	require.NoError(t, err)
	return path
}

func TestExampleConfig(t *testing.T) {
	config, err := loadConfig("warctools.conf.example")
	require.NoError(t, err, "warctools.conf.example should exist and be valid")
	assert.Equal(t, defaultConfig(), config, "warctools.conf.example should eval to the default config")

	_, err = validateConfig(config)
	assert.NoError(t, err, "the default config should be valid")
}

func TestSimpleConfig(t *testing.T) {
	path := createTestConfig(t, `
		compression = "file"
		format = "snappy"
		record_type = "warc"

		[s3]
		region = "us-west-2"
		max_retries = 5

		[remote]
		max_bandwidth_mb_per_second = 10
	`)

	config, err := loadConfig(path)
	require.NoError(t, err, "loading a basic config should work")

	assert.Equal(t, stream.CompressionFile, config.Compression, "Compression should be set")
	assert.Equal(t, stream.FormatSnappy, config.Format, "Format should be set")
	assert.Equal(t, "warc", config.RecordType, "RecordType should be set")
	assert.Equal(t, "us-west-2", config.S3.Region, "S3.Region should be set")
	assert.Equal(t, 5, config.S3.MaxRetries, "S3.MaxRetries should be set")
	assert.Equal(t, 10, config.Remote.MaxBandwidthMBPerSecond, "Remote.MaxBandwidthMBPerSecond should be set")

	defaults := defaultConfig()
	defaults.Compression = config.Compression
	defaults.Format = config.Format
	defaults.RecordType = config.RecordType
	defaults.S3.Region = config.S3.Region
	defaults.S3.MaxRetries = config.S3.MaxRetries
	defaults.Remote = config.Remote
	assert.Equal(t, defaults, config, "unset properties should be the defaults")

	config, err = validateConfig(config)
	require.NoError(t, err)

	opts := config.streamOptions()
	assert.Equal(t, warc.RecordType, opts.RecordType)
	assert.Equal(t, stream.CompressionFile, opts.Compression)
}

func TestConfigSearchPath(t *testing.T) {
	path := createTestConfig(t, `
		parallelism = 16
	`)

	config, err := loadConfig("/this/does/not/exist.conf:" + path)
	require.NoError(t, err, "it should skip missing files on the search path")
	assert.Equal(t, 16, config.Parallelism)

	config, err = loadConfig("/this/does/not/exist.conf")
	assert.Equal(t, errNoConfig, err, "it should return errNoConfig if nothing exists")
	assert.Equal(t, defaultConfig(), config)
}

func TestUnrecognizedConfig(t *testing.T) {
	path := createTestConfig(t, `
		compression = "none"
		foo = "bar"
	`)

	_, err := loadConfig(path)
	assert.Error(t, err, "it should throw an error if there are unrecognized properties")
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(c *warctoolsConfig){
		"compression": func(c *warctoolsConfig) { c.Compression = "lz4" },
		"format":      func(c *warctoolsConfig) { c.Format = "zstd" },
		"snappy":      func(c *warctoolsConfig) { c.Format = stream.FormatSnappy },
		"record type": func(c *warctoolsConfig) { c.RecordType = "arc" },
		"chunk size":  func(c *warctoolsConfig) { c.ChunkSize = 0 },
		"parallelism": func(c *warctoolsConfig) { c.Parallelism = -1 },
		"max retries": func(c *warctoolsConfig) { c.S3.MaxRetries = -1 },
		"bandwidth":   func(c *warctoolsConfig) { c.Remote.MaxBandwidthMBPerSecond = -5 },
	}

	for name, mutate := range cases {
		config := defaultConfig()
		mutate(&config)

		_, err := validateConfig(config)
		assert.Error(t, err, "an invalid %s should be rejected", name)
	}
}
