package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/storefront/service-coupon/internal/platform/database"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Postgres converts the settings to the database package's config.
func (c DatabaseConfig) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret    string
	AccessTTL time.Duration
}

// KafkaConfig holds broker settings.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// StripeConfig holds Stripe-specific configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// CouponConfig tunes issuance.
type CouponConfig struct {
	ValidityDays    int
	CodeLength      int
	MaxCodeAttempts int
	// SessionFallbackWindow bounds the low-confidence recent-session buyer
	// lookup around the payment time.
	SessionFallbackWindow time.Duration
	EnableSessionFallback bool
	// NotifyViaKafka publishes notification requests instead of logging them.
	NotifyViaKafka bool
}

// Validity returns the instance validity period.
func (c CouponConfig) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// RetryConfig mirrors database.Policy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Policy converts the settings to a retry policy.
func (c RetryConfig) Policy() database.Policy {
	return database.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
	}
}

// ServiceConfig holds all configuration for the coupon service.
type ServiceConfig struct {
	Port         string
	AppEnv       string
	DBConfig     DatabaseConfig
	JWTConfig    JWTConfig
	KafkaConfig  KafkaConfig
	StripeConfig StripeConfig
	CouponConfig CouponConfig
	RetryConfig  RetryConfig

	// AllowedOrigins lists the storefront origins allowed by CORS.
	AllowedOrigins []string
}

// Load reads configuration from an optional config file and the environment.
// Environment variables win over the file.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/service-coupon")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_PORT", "8080")
	v.SetDefault("APP_ENV", "development")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "storefront")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ACCESS_TTL", 15*time.Minute)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "storefront-")

	v.SetDefault("COUPON_VALIDITY_DAYS", 30)
	v.SetDefault("COUPON_CODE_LENGTH", 8)
	v.SetDefault("COUPON_MAX_CODE_ATTEMPTS", 10)
	v.SetDefault("COUPON_SESSION_FALLBACK_WINDOW", 15*time.Minute)
	v.SetDefault("COUPON_ENABLE_SESSION_FALLBACK", true)
	v.SetDefault("COUPON_NOTIFY_VIA_KAFKA", true)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("DB_RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("DB_RETRY_BASE_DELAY", 200*time.Millisecond)
	v.SetDefault("DB_RETRY_MAX_DELAY", time.Second)
}

func fromViper(v *viper.Viper) (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		Port:   normalizePort(v.GetString("SERVICE_PORT")),
		AppEnv: v.GetString("APP_ENV"),
		DBConfig: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		JWTConfig: JWTConfig{
			Secret:    v.GetString("JWT_SECRET"),
			AccessTTL: v.GetDuration("JWT_ACCESS_TTL"),
		},
		KafkaConfig: KafkaConfig{
			Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
			GroupPrefix: v.GetString("KAFKA_GROUP_PREFIX"),
		},
		StripeConfig: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		},
		CouponConfig: CouponConfig{
			ValidityDays:          v.GetInt("COUPON_VALIDITY_DAYS"),
			CodeLength:            v.GetInt("COUPON_CODE_LENGTH"),
			MaxCodeAttempts:       v.GetInt("COUPON_MAX_CODE_ATTEMPTS"),
			SessionFallbackWindow: v.GetDuration("COUPON_SESSION_FALLBACK_WINDOW"),
			EnableSessionFallback: v.GetBool("COUPON_ENABLE_SESSION_FALLBACK"),
			NotifyViaKafka:        v.GetBool("COUPON_NOTIFY_VIA_KAFKA"),
		},
		RetryConfig: RetryConfig{
			MaxAttempts: v.GetInt("DB_RETRY_MAX_ATTEMPTS"),
			BaseDelay:   v.GetDuration("DB_RETRY_BASE_DELAY"),
			MaxDelay:    v.GetDuration("DB_RETRY_MAX_DELAY"),
		},
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServiceConfig) validate() error {
	if c.AppEnv != "development" && c.AppEnv != "test" && c.JWTConfig.Secret == "" {
		return errors.New("JWT_SECRET is required outside development")
	}
	if c.CouponConfig.ValidityDays <= 0 {
		return fmt.Errorf("COUPON_VALIDITY_DAYS must be positive, got %d", c.CouponConfig.ValidityDays)
	}
	if c.CouponConfig.CodeLength < 6 {
		return fmt.Errorf("COUPON_CODE_LENGTH must be at least 6, got %d", c.CouponConfig.CodeLength)
	}
	if c.CouponConfig.MaxCodeAttempts < 1 {
		return fmt.Errorf("COUPON_MAX_CODE_ATTEMPTS must be at least 1")
	}
	if c.RetryConfig.MaxAttempts < 1 {
		return fmt.Errorf("DB_RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
