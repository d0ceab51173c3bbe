package config

import (
	"os"
	"runtime"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("Expected request timeout 30s, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.RateLimitRPS != 50 {
		t.Errorf("Expected rate limit 50rps, got %v", cfg.Server.RateLimitRPS)
	}
	if cfg.Server.RateLimitBurst != 100 {
		t.Errorf("Expected rate limit burst 100, got %d", cfg.Server.RateLimitBurst)
	}

	if cfg.Quantizer.M != 32 {
		t.Errorf("Expected M=32, got %d", cfg.Quantizer.M)
	}
	if cfg.Quantizer.EfConstruction != 128 {
		t.Errorf("Expected EfConstruction=128, got %d", cfg.Quantizer.EfConstruction)
	}
	if cfg.Quantizer.EfSearch != 16 {
		t.Errorf("Expected EfSearch=16, got %d", cfg.Quantizer.EfSearch)
	}

	if cfg.KModes.MaxIter != 25 {
		t.Errorf("Expected MaxIter=25, got %d", cfg.KModes.MaxIter)
	}
	if cfg.KModes.Level2Threshold != 1000 {
		t.Errorf("Expected Level2Threshold=1000, got %d", cfg.KModes.Level2Threshold)
	}

	if cfg.IVF.NList != 1024 {
		t.Errorf("Expected NList=1024, got %d", cfg.IVF.NList)
	}
	if cfg.IVF.NProbe != 8 {
		t.Errorf("Expected NProbe=8, got %d", cfg.IVF.NProbe)
	}
	if cfg.IVF.MaxDistance != 64 {
		t.Errorf("Expected MaxDistance=64, got %d", cfg.IVF.MaxDistance)
	}
	if cfg.IVF.CodeSize != 32 {
		t.Errorf("Expected CodeSize=32, got %d", cfg.IVF.CodeSize)
	}

	if cfg.Pipeline.Workers != runtime.NumCPU() {
		t.Errorf("Expected Workers=%d, got %d", runtime.NumCPU(), cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.QueueCapacity != runtime.NumCPU() {
		t.Errorf("Expected QueueCapacity=%d, got %d", runtime.NumCPU(), cfg.Pipeline.QueueCapacity)
	}
	if cfg.Pipeline.MinKeypoints != 250 {
		t.Errorf("Expected MinKeypoints=250, got %d", cfg.Pipeline.MinKeypoints)
	}
}

var allEnvVars = []string{
	"IMSEARCH_QUANTIZER_M", "IMSEARCH_QUANTIZER_EF_CONSTRUCTION", "IMSEARCH_QUANTIZER_EF_SEARCH",
	"IMSEARCH_KMODES_MAX_ITER", "IMSEARCH_KMODES_LEVEL2_THRESHOLD",
	"IMSEARCH_IVF_NLIST", "IMSEARCH_IVF_NPROBE", "IMSEARCH_IVF_MAX_DISTANCE",
	"IMSEARCH_PIPELINE_WORKERS", "IMSEARCH_PIPELINE_QUEUE_CAPACITY", "IMSEARCH_PIPELINE_MIN_KEYPOINTS",
	"IMSEARCH_SERVER_HOST", "IMSEARCH_SERVER_PORT", "IMSEARCH_SERVER_REQUEST_TIMEOUT",
	"IMSEARCH_SERVER_RATE_LIMIT_RPS", "IMSEARCH_SERVER_RATE_LIMIT_BURST", "IMSEARCH_SERVER_JWT_SECRET",
}

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	original := make(map[string]string)
	for _, key := range allEnvVars {
		original[key] = os.Getenv(key)
	}
	defer func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	for _, key := range allEnvVars {
		os.Unsetenv(key)
	}
	for key, value := range kv {
		os.Setenv(key, value)
	}
	fn()
}

func TestLoadFromEnv(t *testing.T) {
	withEnv(t, map[string]string{
		"IMSEARCH_QUANTIZER_M":              "48",
		"IMSEARCH_QUANTIZER_EF_CONSTRUCTION": "256",
		"IMSEARCH_KMODES_MAX_ITER":           "40",
		"IMSEARCH_KMODES_LEVEL2_THRESHOLD":   "500",
		"IMSEARCH_IVF_NLIST":                 "4096",
		"IMSEARCH_IVF_NPROBE":                "16",
		"IMSEARCH_IVF_MAX_DISTANCE":          "80",
		"IMSEARCH_PIPELINE_WORKERS":          "4",
		"IMSEARCH_PIPELINE_QUEUE_CAPACITY":   "12",
		"IMSEARCH_PIPELINE_MIN_KEYPOINTS":    "100",
		"IMSEARCH_SERVER_HOST":               "127.0.0.1",
		"IMSEARCH_SERVER_PORT":               "9090",
		"IMSEARCH_SERVER_REQUEST_TIMEOUT":    "60s",
		"IMSEARCH_SERVER_RATE_LIMIT_RPS":     "100.5",
		"IMSEARCH_SERVER_RATE_LIMIT_BURST":   "200",
		"IMSEARCH_SERVER_JWT_SECRET":         "shh",
	}, func() {
		cfg := LoadFromEnv()

		if cfg.Quantizer.M != 48 {
			t.Errorf("Expected M=48, got %d", cfg.Quantizer.M)
		}
		if cfg.Quantizer.EfConstruction != 256 {
			t.Errorf("Expected EfConstruction=256, got %d", cfg.Quantizer.EfConstruction)
		}
		// EfSearch has no env var set, should remain default.
		if cfg.Quantizer.EfSearch != 16 {
			t.Errorf("Expected default EfSearch=16, got %d", cfg.Quantizer.EfSearch)
		}
		if cfg.KModes.MaxIter != 40 {
			t.Errorf("Expected MaxIter=40, got %d", cfg.KModes.MaxIter)
		}
		if cfg.KModes.Level2Threshold != 500 {
			t.Errorf("Expected Level2Threshold=500, got %d", cfg.KModes.Level2Threshold)
		}
		if cfg.IVF.NList != 4096 {
			t.Errorf("Expected NList=4096, got %d", cfg.IVF.NList)
		}
		if cfg.IVF.NProbe != 16 {
			t.Errorf("Expected NProbe=16, got %d", cfg.IVF.NProbe)
		}
		if cfg.IVF.MaxDistance != 80 {
			t.Errorf("Expected MaxDistance=80, got %d", cfg.IVF.MaxDistance)
		}
		if cfg.Pipeline.Workers != 4 {
			t.Errorf("Expected Workers=4, got %d", cfg.Pipeline.Workers)
		}
		if cfg.Pipeline.QueueCapacity != 12 {
			t.Errorf("Expected QueueCapacity=12, got %d", cfg.Pipeline.QueueCapacity)
		}
		if cfg.Pipeline.MinKeypoints != 100 {
			t.Errorf("Expected MinKeypoints=100, got %d", cfg.Pipeline.MinKeypoints)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Server.RequestTimeout != 60*time.Second {
			t.Errorf("Expected request timeout 60s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Server.RateLimitRPS != 100.5 {
			t.Errorf("Expected rate limit 100.5rps, got %v", cfg.Server.RateLimitRPS)
		}
		if cfg.Server.RateLimitBurst != 200 {
			t.Errorf("Expected rate limit burst 200, got %d", cfg.Server.RateLimitBurst)
		}
		if cfg.Server.JWTSecret != "shh" {
			t.Errorf("Expected JWT secret 'shh', got %s", cfg.Server.JWTSecret)
		}
	})
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	withEnv(t, map[string]string{"IMSEARCH_SERVER_PORT": "not-a-number"}, func() {
		cfg := LoadFromEnv()
		if cfg.Server.Port != 8080 {
			t.Errorf("Expected default port 8080 for invalid value, got %d", cfg.Server.Port)
		}
	})
}

func TestLoadFromEnvDefaultsWhenNotSet(t *testing.T) {
	withEnv(t, nil, func() {
		cfg := LoadFromEnv()
		defaults := Default()

		if cfg.Server.Host != defaults.Server.Host {
			t.Errorf("Expected default host, got %s", cfg.Server.Host)
		}
		if cfg.Server.Port != defaults.Server.Port {
			t.Errorf("Expected default port, got %d", cfg.Server.Port)
		}
		if cfg.Quantizer.M != defaults.Quantizer.M {
			t.Errorf("Expected default M, got %d", cfg.Quantizer.M)
		}
		if cfg.IVF.NList != defaults.IVF.NList {
			t.Errorf("Expected default NList, got %d", cfg.IVF.NList)
		}
	})
}

func validBase() *Config {
	cfg := Default()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", mutate: func(*Config) {}, wantErr: false},
		{name: "invalid port (too low)", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "invalid port (too high)", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "invalid quantizer M (too low)", mutate: func(c *Config) { c.Quantizer.M = 0 }, wantErr: true},
		{name: "efConstruction below M", mutate: func(c *Config) { c.Quantizer.EfConstruction = 10 }, wantErr: true},
		{name: "nprobe exceeds nlist", mutate: func(c *Config) { c.IVF.NList = 16; c.IVF.NProbe = 32 }, wantErr: true},
		{name: "wrong code size", mutate: func(c *Config) { c.IVF.CodeSize = 16 }, wantErr: true},
		{name: "zero pipeline workers", mutate: func(c *Config) { c.Pipeline.Workers = 0 }, wantErr: true},
		{name: "zero queue capacity", mutate: func(c *Config) { c.Pipeline.QueueCapacity = 0 }, wantErr: true},
		{name: "zero two-level threshold", mutate: func(c *Config) { c.KModes.Level2Threshold = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigAddress(t *testing.T) {
	cfg := ServerConfig{Host: "localhost", Port: 8080}

	addr := cfg.Address()
	expected := "localhost:8080"
	if addr != expected {
		t.Errorf("Expected address %s, got %s", expected, addr)
	}

	defaultCfg := Default()
	addr = defaultCfg.Server.Address()
	expected = "0.0.0.0:8080"
	if addr != expected {
		t.Errorf("Expected default address %s, got %s", expected, addr)
	}
}
