package config

import (
	"errors"
	"time"
)

// LosslessBackend selects the lossless PNG recompressor.
type LosslessBackend string

const (
	LosslessPureGo LosslessBackend = "go"
	LosslessVips   LosslessBackend = "vips"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration

	// Retry.
	MaxRetries int
	RetryDelay time.Duration

	Solid      SolidConfig
	NormalMap  NormalMapConfig
	Resize     ResizeConfig
	Recompress RecompressConfig

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// SolidConfig controls the solid-colour collapse.
type SolidConfig struct {
	Width  int // default 4
	Height int // default 4
	Filter string
}

// NormalMapConfig holds the empirical mean-magnitude window a tangent-space
// normal map falls into.
type NormalMapConfig struct {
	MinMagnitude float64 // default 0.85
	MaxMagnitude float64 // default 1.10
}

// ResizeConfig controls the float-carrier resize.
type ResizeConfig struct {
	CarrierFormat string // default "RGBA32323232F"
	Filter        string // default "nice"
}

// RecompressConfig controls the raster recompression pipeline.
type RecompressConfig struct {
	Backend          LosslessBackend
	QuantizerPath    string        // pngquant binary; default "pngquant"
	QuantizerTimeout time.Duration // default 2m
	DefaultIntensity int           // 0-100; default 75
	MaxEffort        int           // top of the lossless effort scale; default 6
	PerceptualReport bool          // compute a Lab delta after lossy runs
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount: 0, // resolved at runtime to NumCPU
		QueueSize:   256,
		JobTimeout:  5 * time.Minute,
		MaxRetries:  1,
		RetryDelay:  200 * time.Millisecond,
		Solid: SolidConfig{
			Width:  4,
			Height: 4,
			Filter: "nice",
		},
		NormalMap: NormalMapConfig{
			MinMagnitude: 0.85,
			MaxMagnitude: 1.10,
		},
		Resize: ResizeConfig{
			CarrierFormat: "RGBA32323232F",
			Filter:        "nice",
		},
		Recompress: RecompressConfig{
			Backend:          LosslessPureGo,
			QuantizerPath:    "pngquant",
			QuantizerTimeout: 2 * time.Minute,
			DefaultIntensity: 75,
			MaxEffort:        6,
			PerceptualReport: true,
		},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.Solid.Width <= 0 || c.Solid.Height <= 0 {
		return errors.New("config: Solid dimensions must be positive")
	}
	if c.NormalMap.MinMagnitude < 0 || c.NormalMap.MinMagnitude > c.NormalMap.MaxMagnitude {
		return errors.New("config: NormalMap.MinMagnitude must be in [0, MaxMagnitude]")
	}
	if c.Recompress.DefaultIntensity < 0 || c.Recompress.DefaultIntensity > 100 {
		return errors.New("config: Recompress.DefaultIntensity must be between 0 and 100")
	}
	if c.Recompress.MaxEffort <= 0 {
		return errors.New("config: Recompress.MaxEffort must be positive")
	}
	switch c.Recompress.Backend {
	case LosslessPureGo, LosslessVips:
	default:
		return errors.New("config: Recompress.Backend must be \"go\" or \"vips\"")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: MaxRetries must not be negative")
	}
	return nil
}
