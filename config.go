package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/stripe/warctools/stream"
)

const defaultSearchPath = "warctools.conf:/etc/warctools.conf"

var errNoConfig = errors.New("no config file found")

type warctoolsConfig struct {
	Compression stream.Compression `toml:"compression"`
	Format      stream.Format      `toml:"format"`
	RecordType  string             `toml:"record_type"`
	ChunkSize   int                `toml:"chunk_size"`
	Parallelism int                `toml:"parallelism"`

	S3     s3Config     `toml:"s3"`
	HDFS   hdfsConfig   `toml:"hdfs"`
	Remote remoteConfig `toml:"remote"`
	Statsd statsdConfig `toml:"statsd"`
}

type s3Config struct {
	Region          string `toml:"region"`
	AccessKeyId     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	MaxRetries      int    `toml:"max_retries"`
}

type hdfsConfig struct {
	Namenode string `toml:"namenode"`
	User     string `toml:"user"`
}

type remoteConfig struct {
	MaxBandwidthMBPerSecond int `toml:"max_bandwidth_mb_per_second"`
}

type statsdConfig struct {
	Address string `toml:"address"`
}

func defaultConfig() warctoolsConfig {
	return warctoolsConfig{
		Compression: stream.CompressionAuto,
		Format:      stream.FormatGzip,
		RecordType:  "",
		ChunkSize:   stream.DefaultChunkSize,
		Parallelism: 4,
		S3: s3Config{
			Region:          "",
			AccessKeyId:     "",
			SecretAccessKey: "",
			MaxRetries:      3,
		},
		HDFS: hdfsConfig{
			Namenode: "",
			User:     "",
		},
		Remote: remoteConfig{
			MaxBandwidthMBPerSecond: 0,
		},
		Statsd: statsdConfig{
			Address: "",
		},
	}
}

// loadConfig reads the first config file on searchPath that exists. If none
// do, it returns the default config along with errNoConfig.
func loadConfig(searchPath string) (warctoolsConfig, error) {
	if searchPath == "" {
		searchPath = defaultSearchPath
	}

	config := defaultConfig()
	paths := filepath.SplitList(searchPath)
	for _, path := range paths {
		md, err := toml.DecodeFile(path, &config)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return config, err
		} else if len(md.Undecoded()) > 0 {
			return config, fmt.Errorf("found unrecognized properties: %v", md.Undecoded())
		}

		return config, nil
	}

	return config, errNoConfig
}

func validateConfig(config warctoolsConfig) (warctoolsConfig, error) {
	switch config.Compression {
	case stream.CompressionAuto, stream.CompressionNone, stream.CompressionRecord, stream.CompressionFile:
	default:
		return config, fmt.Errorf("unrecognized compression option: %s", config.Compression)
	}

	switch config.Format {
	case stream.FormatGzip:
	case stream.FormatSnappy:
		if config.Compression != stream.CompressionFile {
			return config, errors.New("snappy can only be used with whole-file compression")
		}
	default:
		return config, fmt.Errorf("unrecognized compression format: %s", config.Format)
	}

	if config.RecordType != "" && stream.LookupRecordType(config.RecordType) == nil {
		return config, fmt.Errorf("unknown record type: %s", config.RecordType)
	}

	if config.ChunkSize <= 0 {
		return config, fmt.Errorf("invalid chunk size: %d", config.ChunkSize)
	}

	if config.Parallelism <= 0 {
		return config, fmt.Errorf("invalid parallelism: %d", config.Parallelism)
	}

	if config.S3.MaxRetries < 0 {
		return config, fmt.Errorf("invalid S3 max retries: %d", config.S3.MaxRetries)
	}

	if config.Remote.MaxBandwidthMBPerSecond < 0 {
		return config, fmt.Errorf("invalid bandwidth limit: %d", config.Remote.MaxBandwidthMBPerSecond)
	}

	return config, nil
}

// streamOptions turns the config into options for opening a container.
func (c warctoolsConfig) streamOptions() stream.Options {
	opts := stream.Options{
		Compression: c.Compression,
		Format:      c.Format,
		ChunkSize:   c.ChunkSize,
	}

	if c.RecordType != "" {
		opts.RecordType = stream.LookupRecordType(c.RecordType)
	}

	return opts
}
