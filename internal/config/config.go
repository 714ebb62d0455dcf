package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Port               int
	SigningKey         string
	WorkerBinary       string
	DetectorFamily     string
	ModelsDir          string
	EnvRoot            string // root of the packaged per-family environment dirs
	DatabasePath       string
	LogDirectory       string
	EventQueueSize     int // per-observer buffered events before drop
	EnqueueTimeoutMS   int
	HeartbeatInterval  int // seconds of stream silence before a heartbeat
	ProgressBufferSize int // progress messages served by get_progress
	WorkerStartTimeout int // seconds to wait for the worker ready handshake
}

func Load() *Config {
	return &Config{
		Port:               getEnvAsInt("PORT", 5000),
		SigningKey:         getEnv("SIGNING_KEY", "devkey"),
		WorkerBinary:       getEnv("WORKER_BIN", filepath.Join(".", "facefinder-worker")),
		DetectorFamily:     getEnv("DETECTOR_FAMILY", "general"),
		ModelsDir:          getEnv("MODELS_DIR", filepath.Join(".", "models")),
		EnvRoot:            getEnv("ENV_ROOT", ""),
		DatabasePath:       getEnv("DB_PATH", filepath.Join(".", "facefinder.db")),
		LogDirectory:       getEnv("LOG_DIR", filepath.Join(".", "logs")),
		EventQueueSize:     getEnvAsInt("EVENT_QUEUE_SIZE", 64),
		EnqueueTimeoutMS:   getEnvAsInt("ENQUEUE_TIMEOUT_MS", 100),
		HeartbeatInterval:  getEnvAsInt("HEARTBEAT_INTERVAL", 30),
		ProgressBufferSize: getEnvAsInt("PROGRESS_BUFFER", 10),
		WorkerStartTimeout: getEnvAsInt("WORKER_START_TIMEOUT", 30),
	}
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
