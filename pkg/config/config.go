// Package config centralizes the engine's tunables: quantizer and
// k-modes training parameters, IVF search defaults, ingestion
// pipeline limits, and the admin HTTP server surface.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// Config holds the whole configuration tree.
type Config struct {
	Quantizer QuantizerConfig
	KModes    KModesConfig
	IVF       IVFConfig
	Pipeline  PipelineConfig
	Server    ServerConfig
}

// QuantizerConfig holds the HNSW coarse-quantizer parameters.
type QuantizerConfig struct {
	M              int // neighbors per node per layer (default: 32)
	EfConstruction int // construction-time search width (default: 128)
	EfSearch       int // query-time search width (default: 16)
}

// KModesConfig holds binary k-modes training parameters.
type KModesConfig struct {
	MaxIter         int // maximum assign/update iterations
	Level2Threshold int // centroid counts at or above this train hierarchically (two-level)
}

// IVFConfig holds the index shape and search defaults.
type IVFConfig struct {
	NList       int    // number of posting lists/centroids
	NProbe      int    // posting lists visited per query
	MaxDistance uint32 // neighbors beyond this Hamming distance are discarded before scoring
	CodeSize    int    // descriptor byte length; must match the engine's fixed code size
}

// PipelineConfig holds ingestion pipeline limits.
type PipelineConfig struct {
	Workers       int // worker pool size of the CPU-bound stages (default: one per CPU)
	QueueCapacity int // bound of each inter-stage channel (default: one per CPU)
	MinKeypoints  int // images with fewer descriptors than this are dropped
}

// ServerConfig holds the admin HTTP server's settings.
type ServerConfig struct {
	Host            string
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	JWTSecret       string
}

// Default returns the configuration used unless overridden by
// environment variables.
func Default() *Config {
	return &Config{
		Quantizer: QuantizerConfig{
			M:              32,
			EfConstruction: 128,
			EfSearch:       16,
		},
		KModes: KModesConfig{
			MaxIter:         25,
			Level2Threshold: 1000,
		},
		IVF: IVFConfig{
			NList:       1024,
			NProbe:      8,
			MaxDistance: 64,
			CodeSize:    hamming.Size,
		},
		Pipeline: PipelineConfig{
			Workers:       runtime.NumCPU(),
			QueueCapacity: runtime.NumCPU(),
			MinKeypoints:  250,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
	}
}

// LoadFromEnv returns Default() with any IMSEARCH_* environment
// variables applied on top.
func LoadFromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("IMSEARCH_QUANTIZER_M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quantizer.M = n
		}
	}
	if v := os.Getenv("IMSEARCH_QUANTIZER_EF_CONSTRUCTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quantizer.EfConstruction = n
		}
	}
	if v := os.Getenv("IMSEARCH_QUANTIZER_EF_SEARCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quantizer.EfSearch = n
		}
	}

	if v := os.Getenv("IMSEARCH_KMODES_MAX_ITER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KModes.MaxIter = n
		}
	}
	if v := os.Getenv("IMSEARCH_KMODES_LEVEL2_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KModes.Level2Threshold = n
		}
	}

	if v := os.Getenv("IMSEARCH_IVF_NLIST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IVF.NList = n
		}
	}
	if v := os.Getenv("IMSEARCH_IVF_NPROBE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IVF.NProbe = n
		}
	}
	if v := os.Getenv("IMSEARCH_IVF_MAX_DISTANCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IVF.MaxDistance = uint32(n)
		}
	}

	if v := os.Getenv("IMSEARCH_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("IMSEARCH_PIPELINE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.QueueCapacity = n
		}
	}
	if v := os.Getenv("IMSEARCH_PIPELINE_MIN_KEYPOINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MinKeypoints = n
		}
	}

	if v := os.Getenv("IMSEARCH_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("IMSEARCH_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("IMSEARCH_SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("IMSEARCH_SERVER_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimitRPS = f
		}
	}
	if v := os.Getenv("IMSEARCH_SERVER_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitBurst = n
		}
	}
	if v := os.Getenv("IMSEARCH_SERVER_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}

	return cfg
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Quantizer.M < 2 {
		return fmt.Errorf("invalid quantizer M: %d (must be >= 2)", c.Quantizer.M)
	}
	if c.Quantizer.EfConstruction < c.Quantizer.M {
		return fmt.Errorf("invalid quantizer efConstruction: %d (must be >= M=%d)", c.Quantizer.EfConstruction, c.Quantizer.M)
	}
	if c.KModes.MaxIter < 1 {
		return fmt.Errorf("invalid k-modes max iterations: %d (must be >= 1)", c.KModes.MaxIter)
	}
	if c.KModes.Level2Threshold < 1 {
		return fmt.Errorf("invalid two-level threshold: %d (must be >= 1)", c.KModes.Level2Threshold)
	}
	if c.IVF.NList < 1 {
		return fmt.Errorf("invalid nlist: %d (must be > 0)", c.IVF.NList)
	}
	if c.IVF.NProbe < 1 || c.IVF.NProbe > c.IVF.NList {
		return fmt.Errorf("invalid nprobe: %d (must be in [1,%d])", c.IVF.NProbe, c.IVF.NList)
	}
	if c.IVF.CodeSize != hamming.Size {
		return fmt.Errorf("invalid code size: %d (engine is fixed at %d bytes)", c.IVF.CodeSize, hamming.Size)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("invalid pipeline workers: %d (must be >= 1)", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("invalid pipeline queue capacity: %d (must be >= 1)", c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.MinKeypoints < 0 {
		return fmt.Errorf("invalid min keypoints: %d (must be >= 0)", c.Pipeline.MinKeypoints)
	}
	return nil
}

// Address returns the server's listen address (host:port).
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
