package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Feed     FeedConfig
	Risk     RiskConfig
}

type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type HTTPConfig struct {
	Addr          string `envconfig:"HTTP_ADDR" default:":8080"`
	WSOrigin      string `envconfig:"WS_ORIGIN" default:"*"`
	InternalToken string `envconfig:"INTERNAL_API_TOKEN" required:"true"`
	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer     string `envconfig:"JWT_ISSUER" default:"fx-arena"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"fxarena"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"fxarena"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	Disabled bool   `envconfig:"POSTGRES_DISABLED" default:"false"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type FeedConfig struct {
	UpstreamURL string   `envconfig:"FEED_UPSTREAM_URL"`
	Symbols     []string `envconfig:"FEED_SYMBOLS" default:"EURUSD,GBPUSD,USDJPY"`
	Simulate    bool     `envconfig:"FEED_SIMULATE" default:"true"`
}

type RiskConfig struct {
	SafeLevel        float64 `envconfig:"RISK_SAFE_LEVEL" default:"200"`
	WarningLevel     float64 `envconfig:"RISK_WARNING_LEVEL" default:"150"`
	MarginCallLevel  float64 `envconfig:"RISK_MARGIN_CALL_LEVEL" default:"120"`
	LiquidationLevel float64 `envconfig:"RISK_LIQUIDATION_LEVEL" default:"120"`
	MinLimitPips     float64 `envconfig:"RISK_MIN_LIMIT_PIPS" default:"10"`
}

// Load reads configuration from the environment, preferring an optional
// .env file in development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
