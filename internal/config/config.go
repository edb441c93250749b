package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Audio     AudioConfig
	Speech    SpeechConfig
	NLP       NLPConfig `mapstructure:"nlp"`
	Scoring   ScoringConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type LogConfig struct {
	Path       string `mapstructure:"path"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type DatabaseConfig struct {
	Driver    string `mapstructure:"driver"`
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string `mapstructure:"dbname"`
	Charset   string
	ParseTime bool   `mapstructure:"parse_time"`
	Path      string `mapstructure:"path"` // sqlite 文件路径
	LogLevel  string `mapstructure:"log_level"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioSecure   bool   `mapstructure:"minio_secure"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

// AudioConfig 控制上传录音的转码
type AudioConfig struct {
	Transcode     bool   `mapstructure:"transcode"`
	SampleRate    int    `mapstructure:"sample_rate"`
	Format        string `mapstructure:"format"`
	MaxUploadMB   int    `mapstructure:"max_upload_mb"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	TempDir       string `mapstructure:"temp_dir"`
	MaxDurationS  int    `mapstructure:"max_duration_seconds"`
	ProbeRequired bool   `mapstructure:"probe_required"`
}

// SpeechConfig 语音识别网关及两阶段识别的调优参数
type SpeechConfig struct {
	StreamURL       string `mapstructure:"stream_url"`
	AssessURL       string `mapstructure:"assess_url"`
	SubscriptionKey string `mapstructure:"subscription_key"`
	Region          string `mapstructure:"region"`
	Language        string `mapstructure:"language"`

	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	AssessTimeout  time.Duration `mapstructure:"assess_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	ReadinessAttempts int           `mapstructure:"readiness_attempts"`
	ReadinessInterval time.Duration `mapstructure:"readiness_interval"`
	ReadinessMinBytes int64         `mapstructure:"readiness_min_bytes"`

	FallbackScore float64 `mapstructure:"fallback_score"`
}

type NLPConfig struct {
	Provider string        `mapstructure:"provider"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Fallback NLPFallback   `mapstructure:"fallback"`
}

// NLPFallback NLP 服务不可用时的启发式评分常量
type NLPFallback struct {
	EmptyScore  float64 `mapstructure:"empty_score"`
	ShortScore  float64 `mapstructure:"short_score"`
	MediumScore float64 `mapstructure:"medium_score"`
	LongScore   float64 `mapstructure:"long_score"`
	MediumWords int     `mapstructure:"medium_words"`
	LongWords   int     `mapstructure:"long_words"`
	ContentCap  float64 `mapstructure:"content_cap"`
}

type ScoringConfig struct {
	ContentGates map[string]ContentGateConfig `mapstructure:"content_gates"`
}

type ContentGateConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	Cap       float64 `mapstructure:"cap"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
	ServiceName       string `mapstructure:"service_name"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.path", "logs/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parse_time", true)
	v.SetDefault("database.path", "data/speaking.db")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("jwt.expire_hours", 72)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "uploads")

	v.SetDefault("audio.transcode", true)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.format", "mp3")
	v.SetDefault("audio.max_upload_mb", 20)
	v.SetDefault("audio.key_prefix", "speaking/audio")
	v.SetDefault("audio.max_duration_seconds", 180)

	v.SetDefault("speech.language", "en-GB")
	v.SetDefault("speech.session_timeout", 30*time.Second)
	v.SetDefault("speech.assess_timeout", 30*time.Second)
	v.SetDefault("speech.max_attempts", 3)
	v.SetDefault("speech.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("speech.readiness_attempts", 5)
	v.SetDefault("speech.readiness_interval", 500*time.Millisecond)
	v.SetDefault("speech.readiness_min_bytes", 2048)
	v.SetDefault("speech.fallback_score", 70)

	v.SetDefault("nlp.provider", "http")
	v.SetDefault("nlp.timeout", 30*time.Second)
	v.SetDefault("nlp.fallback.empty_score", 30)
	v.SetDefault("nlp.fallback.short_score", 40)
	v.SetDefault("nlp.fallback.medium_score", 50)
	v.SetDefault("nlp.fallback.long_score", 60)
	v.SetDefault("nlp.fallback.medium_words", 3)
	v.SetDefault("nlp.fallback.long_words", 5)
	v.SetDefault("nlp.fallback.content_cap", 75)

	v.SetDefault("tracing.service_name", "speaking-assessment")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.lock_ttl", 2*time.Minute)

	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("SPEAKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Speech gateway
	v.BindEnv("speech.stream_url", "SPEECH_STREAM_URL")
	v.BindEnv("speech.assess_url", "SPEECH_ASSESS_URL")
	v.BindEnv("speech.subscription_key", "SPEECH_SUBSCRIPTION_KEY")
	v.BindEnv("speech.region", "SPEECH_REGION")

	// NLP
	v.BindEnv("nlp.base_url", "NLP_SERVICE_URL")
	v.BindEnv("nlp.api_key", "NLP_API_KEY")
	v.BindEnv("nlp.model", "NLP_MODEL")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.public_base_url", "STORAGE_PUBLIC_BASE_URL")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// Validate 校验启动所需的关键配置
func (c *Config) Validate() error {
	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.NLP.Provider {
	case "http", "openai":
	default:
		return fmt.Errorf("unsupported nlp provider %q", c.NLP.Provider)
	}
	if c.Speech.MaxAttempts < 1 {
		return fmt.Errorf("speech.max_attempts must be at least 1, got %d", c.Speech.MaxAttempts)
	}
	for part, gate := range c.Scoring.ContentGates {
		if gate.Threshold < 0 || gate.Cap < 0 {
			return fmt.Errorf("content gate for %s must be non-negative", part)
		}
	}
	return nil
}
