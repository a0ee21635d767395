package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Mail     MailConfig     `mapstructure:"mail"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Forum    ForumConfig    `mapstructure:"forum"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	CookieDomain   string   `mapstructure:"cookie_domain"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains connection options for PostgreSQL or MySQL.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 包含 JWT 密钥与登录保护参数。
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// AccountsConfig 控制注册、邮箱验证与密码重置。
type AccountsConfig struct {
	SiteURL              string        `mapstructure:"site_url"`
	AllowedEmailDomains  []string      `mapstructure:"allowed_email_domains"`
	VerificationTTL      time.Duration `mapstructure:"verification_ttl"`
	RequireVerifiedEmail bool          `mapstructure:"require_verified_email"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	MaxPhotoBytes        int64         `mapstructure:"max_photo_bytes"`
}

// MailConfig contains SMTP settings. An empty host disables delivery.
type MailConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	AdminEmail string `mapstructure:"admin_email"`
}

// CaptchaConfig 包含 reCAPTCHA 校验配置，Secret 为空时跳过校验。
type CaptchaConfig struct {
	Secret    string  `mapstructure:"secret"`
	VerifyURL string  `mapstructure:"verify_url"`
	MinScore  float64 `mapstructure:"min_score"`
}

// RabbitMQConfig 描述活动事件队列，URL 为空时不发布事件。
type RabbitMQConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// ClamdConfig 指向 clamd 守护进程，Addr 为空时跳过扫描。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// ForumConfig 控制论坛展示参数。
type ForumConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
	PageSize int `mapstructure:"page_size"`
}

// WorkerConfig 控制异步任务消费。
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DSN builds a driver specific connection string.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "mysql" {
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User,
			d.Password,
			d.Host,
			d.Port,
			d.Name,
		)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// LoadDotEnv loads variables from the given files (default .env) when they exist.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// 缺失的 .env 不是错误，部署环境通常直接注入变量。
		_ = godotenv.Load(f)
	}
}

// Load reads configuration from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "portfolio")
	v.SetDefault("database.user", "portfolio")
	v.SetDefault("database.password", "portfolio")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "portfolio")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 30*time.Minute)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("accounts.site_url", "https://brian-lindsay.com")
	v.SetDefault("accounts.verification_ttl", 48*time.Hour)
	v.SetDefault("accounts.require_verified_email", true)
	v.SetDefault("accounts.password_reset_ttl", time.Hour)
	v.SetDefault("accounts.max_photo_bytes", 5*1024*1024)
	v.SetDefault("mail.port", 587)
	v.SetDefault("captcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("captcha.min_score", 0.95)
	v.SetDefault("rabbitmq.queue", "portfolio.activity")
	v.SetDefault("forum.max_depth", 10)
	v.SetDefault("forum.page_size", 20)
	v.SetDefault("worker.concurrency", 10)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                        "API_PORT",
		"api.cookie_domain":               "COOKIE_DOMAIN",
		"api.trusted_proxies":             "TRUSTED_PROXIES",
		"api.allowed_origins":             "WS_ALLOWED_ORIGINS",
		"database.driver":                 "DATABASE_DRIVER",
		"database.host":                   "DATABASE_HOST",
		"database.port":                   "DATABASE_PORT",
		"database.name":                   "DATABASE_NAME",
		"database.user":                   "DATABASE_USER",
		"database.password":               "DATABASE_PASSWORD",
		"database.sslmode":                "DATABASE_SSLMODE",
		"redis.host":                      "REDIS_HOST",
		"redis.port":                      "REDIS_PORT",
		"minio.endpoint":                  "MINIO_ENDPOINT",
		"minio.public_endpoint":           "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":             "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":         "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                   "MINIO_USE_SSL",
		"minio.bucket":                    "MINIO_BUCKET",
		"minio.region":                    "MINIO_REGION",
		"minio.bucket_lookup":             "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":        "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":           "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":            "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":           "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":          "JWT_REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour":  "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":       "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":             "LOGIN_LOCK_TTL",
		"accounts.site_url":               "SITE_URL",
		"accounts.allowed_email_domains":  "ALLOWED_EMAIL_DOMAINS",
		"accounts.verification_ttl":       "EMAIL_VERIFICATION_TTL",
		"accounts.require_verified_email": "REQUIRE_VERIFIED_EMAIL",
		"accounts.password_reset_ttl":     "PASSWORD_RESET_TTL",
		"accounts.max_photo_bytes":        "MAX_PHOTO_BYTES",
		"mail.host":                       "EMAIL_HOST",
		"mail.port":                       "EMAIL_PORT",
		"mail.username":                   "EMAIL_HOST_USER",
		"mail.password":                   "EMAIL_HOST_PASSWORD",
		"mail.from":                       "DEFAULT_FROM_EMAIL",
		"mail.admin_email":                "ADMIN_EMAIL",
		"captcha.secret":                  "RECAPTCHA_PRIVATE_KEY",
		"captcha.verify_url":              "RECAPTCHA_VERIFY_URL",
		"captcha.min_score":               "RECAPTCHA_REQUIRED_SCORE",
		"rabbitmq.url":                    "RABBITMQ_URL",
		"rabbitmq.queue":                  "RABBITMQ_ACTIVITY_QUEUE",
		"clamd.addr":                      "CLAMD_ADDR",
		"forum.max_depth":                 "FORUM_MAX_DEPTH",
		"forum.page_size":                 "FORUM_PAGE_SIZE",
		"worker.concurrency":              "WORKER_CONCURRENCY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// normalize 处理逗号分隔的列表变量与大小写。
func normalize(cfg *Config) {
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.API.TrustedProxies = splitList(cfg.API.TrustedProxies)
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)
	cfg.Accounts.AllowedEmailDomains = splitList(cfg.Accounts.AllowedEmailDomains)
	for i, d := range cfg.Accounts.AllowedEmailDomains {
		cfg.Accounts.AllowedEmailDomains[i] = strings.ToLower(strings.TrimPrefix(d, "@"))
	}
	cfg.Accounts.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.Accounts.SiteURL), "/")
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	switch cfg.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if cfg.Accounts.VerificationTTL <= 0 {
		return errors.New("verification ttl must be positive")
	}
	if cfg.Captcha.MinScore < 0 || cfg.Captcha.MinScore > 1 {
		return errors.New("captcha min score must be within [0,1]")
	}
	if cfg.Forum.MaxDepth <= 0 {
		return errors.New("forum max depth must be positive")
	}
	return nil
}
