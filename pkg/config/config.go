package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Grading  GradingConfig
	Report   ReportConfig
	Spec     SpecConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GradingConfig governs the open-question grading pipeline: the queue the
// dispatcher publishes to, the callback the external service answers on, and
// the retry policy for rate-limited results.
type GradingConfig struct {
	QueueName           string
	CallbackURL         string
	CallbackToken       string
	Model               string
	RateLimitRetryDelay time.Duration
	MaxRetries          int
	WorkerConcurrency   int
	OpenAIBaseURL       string
	OpenAIAPIKey        string
}

// ReportConfig carries the approval-status policy. Thresholds are deployment
// rules, not protocol, so they always arrive through configuration.
type ReportConfig struct {
	ApproveMin     float64
	FinalBandMin   float64
	ExamPassMin    float64
	MaxAbsenceRate float64
}

// SpecConfig seeds the default grade specification for classes without one.
// Goal weights are empty by default; a deployment that wants a fallback
// spec supplies both maps.
type SpecConfig struct {
	GoalWeights    map[string]float64
	ConceptWeights map[string]float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Grading = GradingConfig{
		QueueName:           v.GetString("GRADING_QUEUE_NAME"),
		CallbackURL:         v.GetString("GRADING_CALLBACK_URL"),
		CallbackToken:       v.GetString("GRADING_CALLBACK_TOKEN"),
		Model:               v.GetString("GRADING_MODEL"),
		RateLimitRetryDelay: parseDuration(v.GetString("GRADING_RATE_LIMIT_RETRY_DELAY"), 5*time.Minute),
		MaxRetries:          v.GetInt("GRADING_MAX_RETRIES"),
		WorkerConcurrency:   v.GetInt("GRADING_WORKER_CONCURRENCY"),
		OpenAIBaseURL:       v.GetString("GRADING_OPENAI_BASE_URL"),
		OpenAIAPIKey:        v.GetString("GRADING_OPENAI_API_KEY"),
	}

	cfg.Report = ReportConfig{
		ApproveMin:     v.GetFloat64("REPORT_APPROVE_MIN"),
		FinalBandMin:   v.GetFloat64("REPORT_FINAL_BAND_MIN"),
		ExamPassMin:    v.GetFloat64("REPORT_EXAM_PASS_MIN"),
		MaxAbsenceRate: v.GetFloat64("REPORT_MAX_ABSENCE_RATE"),
	}

	cfg.Spec = SpecConfig{
		GoalWeights:    parseWeights(v.GetString("SPEC_GOAL_WEIGHTS")),
		ConceptWeights: parseWeights(v.GetString("SPEC_CONCEPT_WEIGHTS")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_exam")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GRADING_QUEUE_NAME", "grading:jobs")
	v.SetDefault("GRADING_CALLBACK_URL", "http://localhost:8080/api/v1/grading/callback")
	v.SetDefault("GRADING_CALLBACK_TOKEN", "dev_grading_token")
	v.SetDefault("GRADING_MODEL", "gpt-4o-mini")
	v.SetDefault("GRADING_RATE_LIMIT_RETRY_DELAY", "5m")
	v.SetDefault("GRADING_MAX_RETRIES", 3)
	v.SetDefault("GRADING_WORKER_CONCURRENCY", 2)
	v.SetDefault("GRADING_OPENAI_BASE_URL", "")
	v.SetDefault("GRADING_OPENAI_API_KEY", "")

	v.SetDefault("REPORT_APPROVE_MIN", 7.0)
	v.SetDefault("REPORT_FINAL_BAND_MIN", 5.0)
	v.SetDefault("REPORT_EXAM_PASS_MIN", 70.0)
	v.SetDefault("REPORT_MAX_ABSENCE_RATE", 0.25)

	v.SetDefault("SPEC_GOAL_WEIGHTS", "")
	v.SetDefault("SPEC_CONCEPT_WEIGHTS", "MA=10,MPA=7,MANA=0")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parseWeights reads "KEY=number" pairs separated by commas. Malformed pairs
// are skipped rather than failing startup.
func parseWeights(raw string) map[string]float64 {
	weights := make(map[string]float64)
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		weights[key] = value
	}
	return weights
}
