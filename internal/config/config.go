package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Argo data modes.
const (
	DataModeRealTime = "R"
	DataModeDelayed  = "D"
	DataModeAdjusted = "A"
)

// Argo quality-control flags.
const (
	QCNoQC               = "0"
	QCGoodData           = "1"
	QCProbablyGood       = "2"
	QCBadDataCorrectable = "3"
	QCBadData            = "4"
	QCValueChanged       = "5"
	QCNotUsed            = "6"
	QCNominal            = "7"
	QCInterpolated       = "8"
	QCMissingValue       = "9"
)

const (
	defaultInputDir  = "data/raw/argo"
	defaultOutputDir = "data/processed"
	defaultLogDir    = "logs/ingestion"

	defaultBatchSize        = 1000
	defaultMaxWorkers       = 4
	defaultPoolSize         = 10
	defaultMaxRetries       = 3
	defaultRetryDelay       = time.Second
	defaultMaxErrorsPerFile = 10
)

// Bounds is an inclusive [Min, Max] physical-value range.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v falls inside the bounds.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// GeoBounds is an optional geographic bounding-box filter.
type GeoBounds struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// DateRange is an optional inclusive time-window filter.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Validation holds the data-validation rules applied per profile.
type Validation struct {
	Temperature Bounds // Celsius
	Salinity    Bounds // PSU
	Pressure    Bounds // dbar
	Oxygen      Bounds // umol/kg

	Latitude  Bounds // degrees
	Longitude Bounds // degrees

	MinDate time.Time
	MaxDate time.Time // zero value means "today", resolved on load

	AcceptedQCFlags   map[string]bool
	RequiredVariables []string
	OptionalVariables []string
}

// Config holds runtime configuration for the ingestion pipeline. It is
// loaded once at startup and treated as immutable afterwards.
type Config struct {
	DatabaseURL string

	InputDirectory  string
	OutputDirectory string
	LogDirectory    string

	FilePatterns []string

	BatchSize        int
	MaxWorkers       int
	MaxErrorsPerFile int

	ConnectionPoolSize int

	MaxRetries         int
	RetryDelay         time.Duration
	ExponentialBackoff bool

	DataModes map[string]bool

	GeographicBounds *GeoBounds
	DateRange        *DateRange

	Validation Validation

	LogLevel string
}

// Default returns the configuration with every knob at its default value.
// DatabaseURL is intentionally left empty; Load fails without it.
func Default() Config {
	return Config{
		InputDirectory:  defaultInputDir,
		OutputDirectory: defaultOutputDir,
		LogDirectory:    defaultLogDir,
		FilePatterns: []string{
			"*.nc", "**/*.nc", "*profiles*.nc", "*Sprof*.nc",
		},
		BatchSize:          defaultBatchSize,
		MaxWorkers:         defaultMaxWorkers,
		MaxErrorsPerFile:   defaultMaxErrorsPerFile,
		ConnectionPoolSize: defaultPoolSize,
		MaxRetries:         defaultMaxRetries,
		RetryDelay:         defaultRetryDelay,
		ExponentialBackoff: true,
		DataModes: map[string]bool{
			DataModeRealTime: true,
			DataModeDelayed:  true,
			DataModeAdjusted: true,
		},
		Validation: Validation{
			Temperature: Bounds{Min: -5, Max: 40},
			Salinity:    Bounds{Min: 0, Max: 45},
			Pressure:    Bounds{Min: -10, Max: 12000},
			Oxygen:      Bounds{Min: 0, Max: 1000},
			Latitude:    Bounds{Min: -90, Max: 90},
			Longitude:   Bounds{Min: -180, Max: 180},
			MinDate:     time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
			AcceptedQCFlags: map[string]bool{
				QCGoodData:           true,
				QCProbablyGood:       true,
				QCBadDataCorrectable: true,
			},
			RequiredVariables: []string{
				"JULD", "LATITUDE", "LONGITUDE", "PRES", "TEMP", "PSAL",
			},
			OptionalVariables: []string{
				"DOXY", "CHLA", "BBP700", "PH_IN_SITU_TOTAL", "NITRATE",
			},
		},
		LogLevel: "info",
	}
}

// Load reads configuration from environment variables (optionally .env),
// applies defaults, normalizes derived values, and creates the configured
// directories.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("ARGO_INPUT_DIR")); v != "" {
		cfg.InputDirectory = v
	}
	if v := strings.TrimSpace(os.Getenv("ARGO_OUTPUT_DIR")); v != "" {
		cfg.OutputDirectory = v
	}
	if v := strings.TrimSpace(os.Getenv("ARGO_LOG_DIR")); v != "" {
		cfg.LogDirectory = v
	}

	if v := strings.TrimSpace(os.Getenv("ARGO_BATCH_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ARGO_BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}
	if v := strings.TrimSpace(os.Getenv("ARGO_MAX_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ARGO_MAX_WORKERS: %w", err)
		}
		cfg.MaxWorkers = n
	}
	if v := strings.TrimSpace(os.Getenv("ARGO_POOL_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ARGO_POOL_SIZE: %w", err)
		}
		cfg.ConnectionPoolSize = n
	}
	if v := strings.TrimSpace(os.Getenv("ARGO_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}

	for _, dir := range []string{cfg.InputDirectory, cfg.OutputDirectory, cfg.LogDirectory} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return cfg, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return cfg, nil
}

// Normalize validates the configuration and resolves derived defaults:
// a non-positive worker count becomes the available parallelism and an
// unset validation max date becomes the end of today (UTC).
func (c *Config) Normalize() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Validation.MaxDate.IsZero() {
		now := time.Now().UTC()
		c.Validation.MaxDate = time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
	}
	return nil
}

// AcceptsDataMode reports whether the given data mode is in the accepted set.
func (c *Config) AcceptsDataMode(mode string) bool {
	return c.DataModes[mode]
}
