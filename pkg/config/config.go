// Package config loads engine configuration from a TOML file with
// environment-variable overrides. Invalid configuration is fatal at startup:
// callers should treat a Validate error as unrecoverable and exit before any
// partial run is attempted.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full recognized option surface.
type Config struct {
	Encoder  Encoder  `toml:"encoder"`
	Store    Store    `toml:"store"`
	Pipeline Pipeline `toml:"pipeline"`
	Cluster  Cluster  `toml:"cluster"`
	Weights  Weights  `toml:"weights"`
	NATS     NATS     `toml:"nats"`
}

// Encoder configures the external embedding/scoring sidecar.
type Encoder struct {
	BaseURL string        `toml:"base_url"`
	Dims    int           `toml:"dims"`
	Timeout Duration      `toml:"timeout"`
	// RatePerSec caps encode/score requests to the sidecar. Zero disables.
	RatePerSec float64 `toml:"rate_per_sec"`
}

// Store configures the Qdrant vector store.
type Store struct {
	Addr        string        `toml:"addr"`
	Collection  string        `toml:"collection"`
	Timeout     Duration `toml:"timeout"`
	UpsertChunk int           `toml:"upsert_chunk"`
	ScrollPage  int           `toml:"scroll_page"`
}

// Pipeline configures the adaptive batch pipeline.
type Pipeline struct {
	DataDir             string        `toml:"data_dir"`
	CheckpointFile      string        `toml:"checkpoint_file"`
	BatchMin            int           `toml:"batch_min"`
	BatchMax            int           `toml:"batch_max"`
	BatchStep           int           `toml:"batch_step"`
	StableStreak        int           `toml:"stable_streak"`
	CPUThreshold        float64       `toml:"cpu_threshold"`
	MemThreshold        float64       `toml:"mem_threshold"`
	DownloadConcurrency int           `toml:"download_concurrency"`
	DownloadTimeout     Duration `toml:"download_timeout"`
	DownloadRetries     int           `toml:"download_retries"`
	DownloadRatePerSec  float64       `toml:"download_rate_per_sec"`
	CheckpointEvery     int           `toml:"checkpoint_every"`
	MaxItemAttempts     int           `toml:"max_item_attempts"`
	Cooldown            Duration `toml:"cooldown"`
}

// Cluster configures the clustering engine.
type Cluster struct {
	DefaultK        int    `toml:"default_k"`
	KCandidates     []int  `toml:"k_candidates"`
	Representatives int    `toml:"representatives"`
	Seed            int64  `toml:"seed"`
	MaxIter         int    `toml:"max_iter"`
	NInit           int    `toml:"n_init"`
	SilhouetteSample int   `toml:"silhouette_sample"`
	ArtifactPath    string `toml:"artifact_path"`
}

// Weights are the text-weight tiers used by the fusion encoder.
type Weights struct {
	Full    float64 `toml:"full"`
	Partial float64 `toml:"partial"`
	Minimal float64 `toml:"minimal"`
}

// NATS configures the optional live intake transport.
type NATS struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Encoder: Encoder{
			BaseURL:    "http://localhost:8890",
			Dims:       768,
			Timeout:    Duration(60 * time.Second),
			RatePerSec: 4,
		},
		Store: Store{
			Addr:        "localhost:6334",
			Collection:  "image_embeddings",
			Timeout:     Duration(30 * time.Second),
			UpsertChunk: 10,
			ScrollPage:  500,
		},
		Pipeline: Pipeline{
			DataDir:             "data",
			CheckpointFile:      "data/processed_hashes.json",
			BatchMin:            8,
			BatchMax:            64,
			BatchStep:           8,
			StableStreak:        10,
			CPUThreshold:        95,
			MemThreshold:        85,
			DownloadConcurrency: 16,
			DownloadTimeout:     Duration(30 * time.Second),
			DownloadRetries:     3,
			DownloadRatePerSec:  0,
			CheckpointEvery:     100,
			MaxItemAttempts:     3,
			Cooldown:            Duration(2 * time.Second),
		},
		Cluster: Cluster{
			DefaultK:         120,
			KCandidates:      []int{80, 120, 160},
			Representatives:  10,
			Seed:             42,
			MaxIter:          300,
			NInit:            10,
			SilhouetteSample: 10000,
			ArtifactPath:     "data/clusters.json",
		},
		Weights: Weights{Full: 0.30, Partial: 0.15, Minimal: 0.05},
		NATS:    NATS{URL: "", Subject: "style.images.scraped"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STYLE_ENCODER_URL"); v != "" {
		c.Encoder.BaseURL = v
	}
	if v := os.Getenv("STYLE_QDRANT_ADDR"); v != "" {
		c.Store.Addr = v
	}
	if v := os.Getenv("STYLE_COLLECTION"); v != "" {
		c.Store.Collection = v
	}
	if v := os.Getenv("STYLE_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("STYLE_EMBED_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Encoder.Dims = n
		}
	}
}

// Validate rejects configurations that cannot produce a correct run.
func (c Config) Validate() error {
	switch {
	case c.Encoder.Dims <= 0:
		return fmt.Errorf("config: encoder dims must be positive, got %d", c.Encoder.Dims)
	case c.Encoder.BaseURL == "":
		return fmt.Errorf("config: encoder base_url is required")
	case c.Store.Addr == "":
		return fmt.Errorf("config: store addr is required")
	case c.Store.Collection == "":
		return fmt.Errorf("config: store collection is required")
	case c.Store.UpsertChunk <= 0:
		return fmt.Errorf("config: upsert_chunk must be positive, got %d", c.Store.UpsertChunk)
	case c.Pipeline.BatchMin <= 0 || c.Pipeline.BatchMax < c.Pipeline.BatchMin:
		return fmt.Errorf("config: batch bounds [%d, %d] are invalid", c.Pipeline.BatchMin, c.Pipeline.BatchMax)
	case c.Pipeline.DownloadConcurrency <= 0:
		return fmt.Errorf("config: download_concurrency must be positive, got %d", c.Pipeline.DownloadConcurrency)
	case c.Pipeline.MaxItemAttempts <= 0:
		return fmt.Errorf("config: max_item_attempts must be positive, got %d", c.Pipeline.MaxItemAttempts)
	case c.Cluster.DefaultK <= 0:
		return fmt.Errorf("config: default_k must be positive, got %d", c.Cluster.DefaultK)
	case c.Cluster.Representatives <= 0:
		return fmt.Errorf("config: representatives must be positive, got %d", c.Cluster.Representatives)
	case c.Cluster.NInit <= 0 || c.Cluster.MaxIter <= 0:
		return fmt.Errorf("config: n_init and max_iter must be positive")
	}
	for _, k := range c.Cluster.KCandidates {
		if k <= 0 {
			return fmt.Errorf("config: k candidate %d is invalid", k)
		}
	}
	w := c.Weights
	for _, v := range []float64{w.Full, w.Partial, w.Minimal} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: text weight %v outside [0, 1]", v)
		}
	}
	return nil
}
