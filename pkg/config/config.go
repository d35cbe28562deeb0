// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config holds settlement run configuration.
type Config struct {
	// DataDir is the default output directory for run artifacts.
	DataDir string
	// Currency is the settlement currency code.
	Currency string
	// ChunkSize is the default hash-chain chunk size in bytes.
	ChunkSize int64
	// JournalPath is the sqlite run journal; empty disables journaling.
	JournalPath string
	// ProducerID identifies this engine in bundle manifests.
	ProducerID string
	// LogLevel is the slog level name (DEBUG, INFO, WARN, ERROR).
	LogLevel string
}

// Load loads configuration from CROVIA_* environment variables.
func Load() *Config {
	dataDir := os.Getenv("CROVIA_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	currency := os.Getenv("CROVIA_CURRENCY")
	if currency == "" {
		currency = "EUR"
	}

	chunkSize := int64(64 * 1024)
	if raw := os.Getenv("CROVIA_CHUNK_SIZE"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			chunkSize = v
		}
	}

	logLevel := os.Getenv("CROVIA_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		DataDir:     dataDir,
		Currency:    currency,
		ChunkSize:   chunkSize,
		JournalPath: os.Getenv("CROVIA_JOURNAL_PATH"),
		ProducerID:  os.Getenv("CROVIA_PRODUCER_ID"),
		LogLevel:    logLevel,
	}
}
