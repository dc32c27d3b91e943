package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI     string
	DBName       string
	GeminiAPIKey string
	GeminiModel  string
	GeminiTier   string
	Port         string
	GinMode      string
	CORSOrigins  []string
	MaxFileSize  int64
	AllowedTypes []string

	// Chunking
	TargetTokens      int
	OverlapTokens     int
	MinChunkTokens    int
	BoundaryTolerance float64

	// Validation and repair
	MaxRepairAttempts   int
	MaxTransportRetries int

	// Orchestration
	MaxConcurrentCalls int
	SessionTTLMinutes  int

	// Entity linking
	LinkEntities        bool
	EntityLinkThreshold float64
	EmbeddingsEnabled   bool
	EmbeddingsModel     string

	// Confidence weights
	WeightValidFraction     float64
	WeightRepairPenalty     float64
	WeightEntityConsistency float64
	WeightSelfReported      float64

	// Anomaly detection
	DetectAnomalies        bool
	AnomalyConfidenceFloor float64
	NumericPlausibleMax    float64

	// Summaries
	GenerateSummary bool

	// Feature switches
	ExtractEntities bool

	// Result caching
	ResultCacheTTLMinutes int

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017/docintel"),
		DBName:       getEnv("DB_NAME", "docintel"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:   getEnv("GEMINI_TIER", "free"),
		Port:         getEnv("PORT", "8080"),
		GinMode:      getEnv("GIN_MODE", "debug"),
		CORSOrigins:  strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedTypes: strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain"), ","),

		TargetTokens:      getEnvInt("TARGET_TOKENS", 500),
		OverlapTokens:     getEnvInt("OVERLAP_TOKENS", 50),
		MinChunkTokens:    getEnvInt("MIN_CHUNK_TOKENS", 50),
		BoundaryTolerance: getEnvFloat64("BOUNDARY_TOLERANCE", 0.1),

		MaxRepairAttempts:   getEnvInt("MAX_REPAIR_ATTEMPTS", 3),
		MaxTransportRetries: getEnvInt("MAX_TRANSPORT_RETRIES", 3),

		MaxConcurrentCalls: getEnvInt("MAX_CONCURRENT_CALLS", 8),
		SessionTTLMinutes:  getEnvInt("SESSION_TTL_MINUTES", 30),

		LinkEntities:        getEnvBool("LINK_ENTITIES", true),
		EntityLinkThreshold: getEnvFloat64("ENTITY_LINK_THRESHOLD", 0.8),
		EmbeddingsEnabled:   getEnvBool("EMBEDDINGS_ENABLED", false),
		EmbeddingsModel:     getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),

		WeightValidFraction:     getEnvFloat64("CONFIDENCE_WEIGHT_VALID", 0.40),
		WeightRepairPenalty:     getEnvFloat64("CONFIDENCE_WEIGHT_REPAIR", 0.25),
		WeightEntityConsistency: getEnvFloat64("CONFIDENCE_WEIGHT_CONSISTENCY", 0.20),
		WeightSelfReported:      getEnvFloat64("CONFIDENCE_WEIGHT_SELF_REPORTED", 0.15),

		DetectAnomalies:        getEnvBool("DETECT_ANOMALIES", true),
		AnomalyConfidenceFloor: getEnvFloat64("ANOMALY_CONFIDENCE_FLOOR", 0.4),
		NumericPlausibleMax:    getEnvFloat64("NUMERIC_PLAUSIBLE_MAX", 1e10),

		GenerateSummary: getEnvBool("GENERATE_SUMMARY", true),
		ExtractEntities: getEnvBool("EXTRACT_ENTITIES", true),

		ResultCacheTTLMinutes: getEnvInt("RESULT_CACHE_TTL_MINUTES", 60),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.OverlapTokens >= cfg.TargetTokens {
		return nil, fmt.Errorf("OVERLAP_TOKENS must be smaller than TARGET_TOKENS")
	}

	if cfg.MinChunkTokens >= cfg.TargetTokens {
		return nil, fmt.Errorf("MIN_CHUNK_TOKENS must be smaller than TARGET_TOKENS")
	}

	if cfg.MaxConcurrentCalls < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_CALLS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
