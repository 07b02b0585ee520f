package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"food_detector/internal/model"
)

type Config struct {
	Addr           string
	ModelPath      string
	LabelsPath     string // JSON label table, empty to use labels embedded in the model
	SharedLibPath  string // ONNX Runtime shared library
	IntraOpThreads int    // 0 keeps the runtime default

	ConfThreshold float64
	IOUThreshold  float64
	MaxDetections int

	MaxUploadBytes int64
	MaxImagePixels int

	SessionTTL   time.Duration
	MaxSessions  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	LogFile   string
	LogLevel  string
	PageTitle string
}

// Load reads the configuration from the environment. Values in a .env file
// in the working directory are applied first without overriding variables
// that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		Addr:           getEnv("ADDR", ":8000"),
		ModelPath:      getEnv("MODEL_PATH", "best.onnx"),
		LabelsPath:     getEnv("LABELS_PATH", ""),
		SharedLibPath:  getEnv("ONNXRUNTIME_LIB", model.DefaultSharedLibPath()),
		IntraOpThreads: getEnvAsInt("INTRA_OP_THREADS", 0),
		ConfThreshold:  getEnvAsFloat("CONF_THRESHOLD", 0.25),
		IOUThreshold:   getEnvAsFloat("IOU_THRESHOLD", 0.7),
		MaxDetections:  getEnvAsInt("MAX_DETECTIONS", 300),
		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_MB", 200)) << 20,
		MaxImagePixels: getEnvAsInt("MAX_IMAGE_PIXELS", 89478485),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		MaxSessions:    getEnvAsInt("MAX_SESSIONS", 1000),
		ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 60*time.Second),
		WriteTimeout:   getEnvAsDuration("WRITE_TIMEOUT", 120*time.Second),
		LogFile:        getEnv("LOG_FILE", "app.log"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PageTitle:      getEnv("PAGE_TITLE", "Egyptian Food Detector"),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("ADDR must not be empty")
	case c.ModelPath == "":
		return errors.New("MODEL_PATH must not be empty")
	case c.ConfThreshold < 0 || c.ConfThreshold > 1:
		return fmt.Errorf("CONF_THRESHOLD must be within [0, 1], got %v", c.ConfThreshold)
	case c.IOUThreshold < 0 || c.IOUThreshold > 1:
		return fmt.Errorf("IOU_THRESHOLD must be within [0, 1], got %v", c.IOUThreshold)
	case c.MaxDetections <= 0:
		return fmt.Errorf("MAX_DETECTIONS must be positive, got %d", c.MaxDetections)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d bytes", c.MaxUploadBytes)
	case c.MaxImagePixels <= 0:
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	case c.IntraOpThreads < 0:
		return fmt.Errorf("INTRA_OP_THREADS must not be negative, got %d", c.IntraOpThreads)
	case c.SessionTTL <= 0:
		return fmt.Errorf("SESSION_TTL must be positive, got %v", c.SessionTTL)
	case c.MaxSessions <= 0:
		return fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
