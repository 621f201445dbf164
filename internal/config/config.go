package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all client configuration
type Config struct {
	ServerBaseURL string   `json:"serverBaseUrl"`
	DeviceID      string   `json:"deviceId"`
	Security      Security `json:"security"`
	Sync          Sync     `json:"sync"`
	Storage       Storage  `json:"storage"`
	Media         Media    `json:"media"`
	Logging       Logging  `json:"logging"`
}

// Security configuration
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Sync tunes the orchestrator and upload engine. Timeout tiers are
// deliberate: the probe must answer in seconds, ordinary calls get the
// default tier, and the bulk submission gets the longest one.
type Sync struct {
	ProbeTimeoutSeconds  int  `json:"probeTimeoutSeconds"`
	ProbeAttempts        int  `json:"probeAttempts"`
	ProbeDelaySeconds    int  `json:"probeDelaySeconds"`
	APITimeoutSeconds    int  `json:"apiTimeoutSeconds"`
	BulkTimeoutSeconds   int  `json:"bulkTimeoutSeconds"`
	MaxRetries           int  `json:"maxRetries"`
	RetryDelaySeconds    int  `json:"retryDelaySeconds"`
	FixedDelay           bool `json:"fixedDelay"`
	ReconnectWaitSeconds int  `json:"reconnectWaitSeconds"`
	BatchSize            int  `json:"batchSize"`
}

// Storage configuration for the on-device database
type Storage struct {
	DatabasePath string `json:"databasePath"`
}

// Media configuration for pre-upload image processing
type Media struct {
	PrepareUploads bool `json:"prepareUploads"`
	MaxDimension   int  `json:"maxDimension"`
	JPEGQuality    int  `json:"jpegQuality"`
}

// Logging configuration
type Logging struct {
	Level      string `json:"level"`
	FilePath   string `json:"filePath"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerBaseURL: "http://localhost:5000",
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
		Sync: Sync{
			ProbeTimeoutSeconds:  5,
			ProbeAttempts:        3,
			ProbeDelaySeconds:    2,
			APITimeoutSeconds:    15,
			BulkTimeoutSeconds:   30,
			MaxRetries:           3,
			RetryDelaySeconds:    1,
			ReconnectWaitSeconds: 5,
			BatchSize:            3,
		},
		Storage: Storage{
			DatabasePath: "fieldsync.db",
		},
		Media: Media{
			PrepareUploads: true,
			MaxDimension:   1920,
			JPEGQuality:    85,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	// Override from environment variables
	if url := os.Getenv("SERVER_BASE_URL"); url != "" {
		cfg.ServerBaseURL = url
	}
	if deviceID := os.Getenv("DEVICE_ID"); deviceID != "" {
		cfg.DeviceID = deviceID
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Storage.DatabasePath = dbPath
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if batch := os.Getenv("SYNC_BATCH_SIZE"); batch != "" {
		if n, err := strconv.Atoi(batch); err == nil && n > 0 {
			cfg.Sync.BatchSize = n
		}
	}
	if retries := os.Getenv("SYNC_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n > 0 {
			cfg.Sync.MaxRetries = n
		}
	}

	// Make database path absolute so sync keeps working regardless of
	// the process working directory
	absPath, err := filepath.Abs(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	cfg.Storage.DatabasePath = absPath

	return cfg, nil
}

// ProbeTimeout returns the health probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Sync.ProbeTimeoutSeconds) * time.Second
}

// ProbeDelay returns the delay between probe attempts
func (c *Config) ProbeDelay() time.Duration {
	return time.Duration(c.Sync.ProbeDelaySeconds) * time.Second
}

// APITimeout returns the ordinary API call timeout
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.Sync.APITimeoutSeconds) * time.Second
}

// BulkTimeout returns the bulk submission timeout
func (c *Config) BulkTimeout() time.Duration {
	return time.Duration(c.Sync.BulkTimeoutSeconds) * time.Second
}

// RetryDelay returns the base upload retry delay
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Sync.RetryDelaySeconds) * time.Second
}

// ReconnectWait returns the one-shot wait before rechecking a lost link
func (c *Config) ReconnectWait() time.Duration {
	return time.Duration(c.Sync.ReconnectWaitSeconds) * time.Second
}
