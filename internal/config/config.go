package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Gemini   GeminiConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Import   ImportConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// LLMConfig selects the extraction provider ("gemini" or "ollama") and its request budget.
type LLMConfig struct {
	Provider string
	RateRPS  float64
	Burst    int
}

type GeminiConfig struct {
	APIKey        string
	StandardModel string
	ProModel      string
}

type OllamaConfig struct {
	StandardModel string
	ProModel      string
}

type StorageConfig struct {
	UploadPath   string
	MaxFiles     int
	MaxFileSize  int64
	MaxTotalSize int64
}

type WorkerConfig struct {
	Concurrency       int
	QueueSize         int
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	StaleAfter        time.Duration
	SweepInterval     time.Duration
}

// ImportConfig drives the session engine.
type ImportConfig struct {
	// BackendURL is the extraction backend's API root. Empty with EmbeddedBackend means this process.
	BackendURL      string
	AuthToken       string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	Language        string
	SessionTTL      time.Duration
	EvictInterval   time.Duration
	EmbeddedBackend bool
}

type LogConfig struct {
	Level string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using default values.")
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "smart_import"),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "gemini"),
			RateRPS:  getEnvAsFloat("LLM_RATE_RPS", 1),
			Burst:    getEnvAsInt("LLM_BURST", 2),
		},
		Gemini: GeminiConfig{
			APIKey:        getEnv("GEMINI_API_KEY", ""),
			StandardModel: getEnv("GEMINI_STANDARD_MODEL", "gemini-2.5-flash"),
			ProModel:      getEnv("GEMINI_PRO_MODEL", "gemini-2.5-pro"),
		},
		Ollama: OllamaConfig{
			StandardModel: getEnv("OLLAMA_STANDARD_MODEL", "llama3.1:8b"),
			ProModel:      getEnv("OLLAMA_PRO_MODEL", "llama3.1:70b"),
		},
		Storage: StorageConfig{
			UploadPath:   getEnv("UPLOAD_PATH", "./uploads/smart-imports"),
			MaxFiles:     getEnvAsInt("MAX_FILES", 10),
			MaxFileSize:  getEnvAsInt64("MAX_FILE_SIZE", 25*1024*1024),
			MaxTotalSize: getEnvAsInt64("MAX_TOTAL_SIZE", 50*1024*1024),
		},
		Worker: WorkerConfig{
			Concurrency:       getEnvAsInt("WORKER_CONCURRENCY", 3),
			QueueSize:         getEnvAsInt("WORKER_QUEUE_SIZE", 100),
			RetryMaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", "2s"),
			StaleAfter:        getEnvAsDuration("WORKER_STALE_AFTER", "10m"),
			SweepInterval:     getEnvAsDuration("WORKER_SWEEP_INTERVAL", "30s"),
		},
		Import: ImportConfig{
			BackendURL:      getEnv("IMPORT_BACKEND_URL", ""),
			AuthToken:       getEnv("IMPORT_AUTH_TOKEN", ""),
			PollInterval:    getEnvAsDuration("IMPORT_POLL_INTERVAL", "1200ms"),
			PollTimeout:     getEnvAsDuration("IMPORT_POLL_TIMEOUT", "5m"),
			Language:        getEnv("IMPORT_LANGUAGE", "nl"),
			SessionTTL:      getEnvAsDuration("IMPORT_SESSION_TTL", "1h"),
			EvictInterval:   getEnvAsDuration("IMPORT_EVICT_INTERVAL", "1m"),
			EmbeddedBackend: getEnvAsBool("IMPORT_EMBEDDED_BACKEND", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// BackendBaseURL is where the session engine sends its requests.
func (c *Config) BackendBaseURL() string {
	if c.Import.BackendURL != "" || !c.Import.EmbeddedBackend {
		return c.Import.BackendURL
	}
	return fmt.Sprintf("http://127.0.0.1:%s/api/v1", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
