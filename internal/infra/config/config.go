package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	AMQPURL   string `envconfig:"AMQP_URL"`

	SessionSecret string `envconfig:"SESSION_SECRET"`
	CronSecret    string `envconfig:"CRON_SECRET"`

	X struct {
		ClientID     string        `envconfig:"X_CLIENT_ID"`
		ClientSecret string        `envconfig:"X_CLIENT_SECRET"`
		RedirectURI  string        `envconfig:"X_REDIRECT_URI"`
		BaseURL      string        `envconfig:"X_BASE_URL"`
		Timeout      time.Duration `envconfig:"X_TIMEOUT" default:"15s"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-5-nano"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"20s"`
	} `envconfig:""`

	Rating struct {
		Endpoint string        `envconfig:"RATING_ENDPOINT"`
		Timeout  time.Duration `envconfig:"RATING_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Digest struct {
		WindowMinutes int    `envconfig:"DIGEST_WINDOW_MINUTES" default:"15"`
		QueueName     string `envconfig:"POST_QUEUE_NAME" default:"post_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
