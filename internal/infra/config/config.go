package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "GATE"

// OTPCodeLength is the only supported passcode length.
const OTPCodeLength = 6

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type AppConfig struct {
	App      AppSettings      `mapstructure:"app"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Storage  StorageSettings  `mapstructure:"storage"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Kafka    KafkaSettings    `mapstructure:"kafka"`
	JWT      JWTSettings      `mapstructure:"jwt"`
	Auth     AuthSettings     `mapstructure:"auth"`
	OTP      OTPSettings      `mapstructure:"otp"`
	Mail     MailSettings     `mapstructure:"mail"`
	Argon2   Argon2Settings   `mapstructure:"argon2"`
	Password PasswordSettings `mapstructure:"password"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HTTPSettings bounds the server's connection timeouts and browser origins.
type HTTPSettings struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StorageSettings selects the credential store backend.
type StorageSettings struct {
	Driver      string `mapstructure:"driver"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection backing the passcode issuance throttle.
type RedisSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the account event producer. No brokers means events are only logged.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JWTSettings struct {
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// AuthSettings drives the login lockout policy.
type AuthSettings struct {
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// OTPSettings drives passcode issuance.
type OTPSettings struct {
	ExpireMinutes int           `mapstructure:"expire_minutes"`
	CodeLength    int           `mapstructure:"code_length"`
	IssueWindow   time.Duration `mapstructure:"issue_window"`
	IssueMax      int           `mapstructure:"issue_max"`
}

// TTL converts ExpireMinutes to a duration.
func (s OTPSettings) TTL() time.Duration {
	return time.Duration(s.ExpireMinutes) * time.Minute
}

// MailSettings configures outbound SMTP. Port 465 uses implicit TLS, anything else STARTTLS.
type MailSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	FallbackPort    int           `mapstructure:"fallback_port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	From            string        `mapstructure:"from"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DevelopmentMode bool          `mapstructure:"development_mode"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// PasswordSettings configures the password policy applied to new passwords.
type PasswordSettings struct {
	MinLength int `mapstructure:"min_length"`
	MaxLength int `mapstructure:"max_length"`
	MinScore  int `mapstructure:"min_score"`
}

var configKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"http.read_timeout",
	"http.write_timeout",
	"http.idle_timeout",
	"http.shutdown_timeout",
	"http.allowed_origins",
	"storage.driver",
	"storage.auto_migrate",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.key_prefix",
	"kafka.brokers",
	"kafka.topic_prefix",
	"jwt.secret",
	"jwt.issuer",
	"jwt.access_token_ttl",
	"auth.max_login_attempts",
	"auth.lockout_duration",
	"otp.expire_minutes",
	"otp.code_length",
	"otp.issue_window",
	"otp.issue_max",
	"mail.host",
	"mail.port",
	"mail.fallback_port",
	"mail.username",
	"mail.password",
	"mail.from",
	"mail.timeout",
	"mail.development_mode",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
	"password.min_length",
	"password.max_length",
	"password.min_score",
}

// Load reads configuration from defaults and the environment, then validates it.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, configKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that would break lockout or passcode invariants.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Auth.MaxLoginAttempts <= 0 {
		errs = append(errs, fmt.Errorf("auth.max_login_attempts must be positive, got %d", c.Auth.MaxLoginAttempts))
	}
	if c.Auth.LockoutDuration <= 0 {
		errs = append(errs, fmt.Errorf("auth.lockout_duration must be positive, got %s", c.Auth.LockoutDuration))
	}
	if c.OTP.ExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("otp.expire_minutes must be positive, got %d", c.OTP.ExpireMinutes))
	}
	if c.OTP.CodeLength != OTPCodeLength {
		errs = append(errs, fmt.Errorf("otp.code_length must be %d, got %d", OTPCodeLength, c.OTP.CodeLength))
	}
	if c.OTP.IssueMax < 0 {
		errs = append(errs, fmt.Errorf("otp.issue_max must not be negative, got %d", c.OTP.IssueMax))
	}

	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", StorageDriverPostgres, StorageDriverMemory, c.Storage.Driver))
	}

	if c.App.Env == "production" && c.JWT.Secret == defaultJWTSecret {
		errs = append(errs, errors.New("jwt.secret must be set in production"))
	}

	return errors.Join(errs...)
}

const defaultJWTSecret = "change-me-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "credential-gate")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("storage.auto_migrate", true)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "gate")
	v.SetDefault("postgres.password", "gate_password")
	v.SetDefault("postgres.database", "gate")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "gate:otp-issue")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "gate")

	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.issuer", "credential-gate")
	v.SetDefault("jwt.access_token_ttl", "24h")

	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.lockout_duration", "30m")

	v.SetDefault("otp.expire_minutes", 10)
	v.SetDefault("otp.code_length", OTPCodeLength)
	v.SetDefault("otp.issue_window", "15m")
	v.SetDefault("otp.issue_max", 5)

	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 465)
	v.SetDefault("mail.fallback_port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@credential-gate.local")
	v.SetDefault("mail.timeout", "10s")
	v.SetDefault("mail.development_mode", true)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("password.min_length", 8)
	v.SetDefault("password.max_length", 100)
	v.SetDefault("password.min_score", 2)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
