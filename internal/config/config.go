package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every setting the service reads from the environment.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Inference InferenceConfig
	Cipher    CipherConfig
	Retention RetentionConfig
}

type AppConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Audience string
}

// InferenceConfig points at the three ML capabilities. Each runs as its own
// service, so each gets its own base URL.
type InferenceConfig struct {
	IndividualURL string
	GroupURL      string
	CrowdURL      string
	Timeout       time.Duration
}

type CipherConfig struct {
	// Key is the secret the embedding cipher derives its AEAD key from.
	Key string
}

type RetentionConfig struct {
	AttendanceMonths int
	CrowdMonths      int
}

// Load reads configuration from the environment; a local .env file is applied
// first when present.
func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	timeoutSec, _ := strconv.Atoi(getEnv("INFERENCE_TIMEOUT_SECONDS", "15"))
	attendanceMonths, _ := strconv.Atoi(getEnv("ATTENDANCE_RETENTION_MONTHS", "12"))
	crowdMonths, _ := strconv.Atoi(getEnv("CROWD_RETENTION_MONTHS", "12"))

	return &Config{
		App: AppConfig{
			Port: getEnv("APP_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceattend port=5432 sslmode=disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "redis:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", "dev-secret"),
			Audience: os.Getenv("JWT_AUDIENCE"),
		},
		Inference: InferenceConfig{
			IndividualURL: getEnv("ML_SERVICE_INDIVIDUAL_URL", "http://localhost:5001"),
			GroupURL:      getEnv("ML_SERVICE_GROUP_URL", "http://localhost:5002"),
			CrowdURL:      getEnv("ML_SERVICE_CROWD_URL", "http://localhost:5003"),
			Timeout:       time.Duration(timeoutSec) * time.Second,
		},
		Cipher: CipherConfig{
			Key: getEnv("EMBEDDING_CIPHER_KEY", ""),
		},
		Retention: RetentionConfig{
			AttendanceMonths: attendanceMonths,
			CrowdMonths:      crowdMonths,
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
