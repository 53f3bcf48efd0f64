package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the configuration of every service binary.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	Push struct {
		GatewayURL string `envconfig:"PUSH_GATEWAY_URL"`
		Secret     string `envconfig:"PUSH_GATEWAY_SECRET"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	Alerts struct {
		Transport       string        `envconfig:"ALERT_TRANSPORT" default:"push"`
		RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"15m"`
		FreshWindow     time.Duration `envconfig:"FRESH_DEALS_WINDOW" default:"24h"`
		RefreshDebounce time.Duration `envconfig:"REFRESH_DEBOUNCE" default:"5m"`
	} `envconfig:""`

	Queues struct {
		Backend    string `envconfig:"QUEUE_BACKEND" default:"redis"`
		RefreshKey string `envconfig:"REFRESH_QUEUE_KEY" default:"refresh_jobs"`
		AMQPURL    string `envconfig:"AMQP_URL"`
	} `envconfig:""`
}

// Load reads the config from the environment.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
