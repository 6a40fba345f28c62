// Copyright 2026 SEQSENSE, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the configuration of kvsannotator command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/mediasource"
)

// Config is the root of the configuration file.
type Config struct {
	Region                 string       `yaml:"region"`
	SourceStream           string       `yaml:"source_stream"`
	OutputStream           string       `yaml:"output_stream"`
	MaxConcurrentFragments int          `yaml:"max_concurrent_fragments"`
	MaxTimeoutMs           int          `yaml:"max_timeout_ms"`
	LogLevel               string       `yaml:"log_level"` // debug, info, warn, error
	Ingest                 IngestConfig `yaml:"ingest"`
	Media                  MediaConfig  `yaml:"media"`
}

// IngestConfig configures the Kafka topic of face search results.
type IngestConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	GroupID   string   `yaml:"group_id"`
	Retries   int      `yaml:"retries"`
	BackoffMs int      `yaml:"backoff_ms"`
	BatchSize int      `yaml:"batch_size"`
}

// MediaConfig configures the output stream.
type MediaConfig struct {
	CameraID            string `yaml:"camera_id"`
	FrameRate           int    `yaml:"frame_rate"`
	Width               int    `yaml:"width"`
	Height              int    `yaml:"height"`
	BitRate             int    `yaml:"bit_rate"`
	RetentionHours      int    `yaml:"retention_hours"`
	HardwareAccelerated bool   `yaml:"hardware_accelerated"`
	NALAdaptation       string `yaml:"nal_adaptation"` // ANNEXB_NALS or NONE
	AbsoluteTimecode    bool   `yaml:"absolute_timecode"`
}

var logLevels = map[string]kva.LogLevel{
	"debug": kva.LogLevelDebug,
	"info":  kva.LogLevelInfo,
	"warn":  kva.LogLevelWarn,
	"error": kva.LogLevelError,
}

// Default returns the configuration with default values.
func Default() *Config {
	return &Config{
		MaxConcurrentFragments: 100,
		MaxTimeoutMs:           100,
		LogLevel:               "info",
		Ingest: IngestConfig{
			Retries:   10,
			BackoffMs: 3000,
			BatchSize: 100,
		},
		Media: MediaConfig{
			CameraID:       mediasource.DefaultCameraID,
			FrameRate:      mediasource.DefaultFrameRate,
			Width:          mediasource.DefaultWidth,
			Height:         mediasource.DefaultHeight,
			BitRate:        mediasource.DefaultBitRate,
			RetentionHours: mediasource.DefaultRetentionHours,
			NALAdaptation:  mediasource.NALAdaptationAnnexBNALs.String(),
		},
	}
}

// Load reads the YAML file at path. Missing keys are set to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration. Missing keys are set to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	errRequired    = errors.New("required")
	errNotPositive = errors.New("must be positive")
)

// Validate returns *kva.ConfigurationError naming the first invalid key.
func (c *Config) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"max_concurrent_fragments", c.MaxConcurrentFragments},
		{"ingest.retries", c.Ingest.Retries},
		{"ingest.batch_size", c.Ingest.BatchSize},
		{"media.frame_rate", c.Media.FrameRate},
		{"media.width", c.Media.Width},
		{"media.height", c.Media.Height},
		{"media.bit_rate", c.Media.BitRate},
		{"media.retention_hours", c.Media.RetentionHours},
	}
	switch {
	case c.SourceStream == "":
		return &kva.ConfigurationError{Field: "source_stream", Err: errRequired}
	case c.OutputStream == "":
		return &kva.ConfigurationError{Field: "output_stream", Err: errRequired}
	case c.OutputStream == c.SourceStream:
		return &kva.ConfigurationError{Field: "output_stream", Err: errors.New("must differ from source_stream")}
	case len(c.Ingest.Brokers) == 0:
		return &kva.ConfigurationError{Field: "ingest.brokers", Err: errRequired}
	case c.Ingest.Topic == "":
		return &kva.ConfigurationError{Field: "ingest.topic", Err: errRequired}
	case c.Ingest.BackoffMs < 0:
		return &kva.ConfigurationError{Field: "ingest.backoff_ms", Err: errors.New("must not be negative")}
	case c.Media.CameraID == "":
		return &kva.ConfigurationError{Field: "media.camera_id", Err: errRequired}
	case c.MaxTimeoutMs < 0:
		return &kva.ConfigurationError{Field: "max_timeout_ms", Err: errors.New("must not be negative")}
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &kva.ConfigurationError{Field: p.field, Err: errNotPositive}
		}
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		return &kva.ConfigurationError{Field: "log_level", Err: fmt.Errorf("unknown level %q", c.LogLevel)}
	}
	if _, err := mediasource.ParseNALAdaptation(c.Media.NALAdaptation); err != nil {
		return &kva.ConfigurationError{Field: "media.nal_adaptation", Err: err}
	}
	return nil
}

// Level returns the log level. Unknown levels are treated as info.
func (c *Config) Level() kva.LogLevel {
	if l, ok := logLevels[c.LogLevel]; ok {
		return l
	}
	return kva.LogLevelInfo
}

func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMs) * time.Millisecond
}

func (c *IngestConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// CameraConfiguration returns the output media source configuration.
// Codec private data is left empty to be filled by the encoder.
func (c *MediaConfig) CameraConfiguration() (*mediasource.CameraConfiguration, error) {
	nal, err := mediasource.ParseNALAdaptation(c.NALAdaptation)
	if err != nil {
		return nil, &kva.ConfigurationError{Field: "media.nal_adaptation", Err: err}
	}
	return &mediasource.CameraConfiguration{
		CameraID:            c.CameraID,
		FrameRate:           c.FrameRate,
		Width:               c.Width,
		Height:              c.Height,
		BitRate:             c.BitRate,
		RetentionHours:      c.RetentionHours,
		HardwareAccelerated: c.HardwareAccelerated,
		EncodingMimeType:    mediasource.DefaultMimeType,
		NALAdaptation:       nal,
		AbsoluteTimecode:    c.AbsoluteTimecode,
	}, nil
}
