package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	GatekeeperHost   string `env:"GK_HOST,required=true"`
	GatekeeperScheme string `env:"GK_SCHEME,default=http"`
	GatekeeperSource string `env:"GK_SOURCE,required=true"`
	PushTarget       string `env:"PUSH_TARGET,default=GateKeeper"`
	GKRetryAttempts  int    `env:"GK_RETRY_ATTEMPTS,default=3"`
	GKRetryDelaySec  int    `env:"GK_RETRY_DELAY_SEC,default=5"`

	SMTPHost string `env:"SMTP_HOST,default=localhost"`
	SMTPPort int    `env:"SMTP_PORT,default=25"`
	SMTPFrom string `env:"SMTP_FROM,default=cdrpush@localhost"`

	SendLimitPerSec int    `env:"SEND_LIMIT_PER_SEC,default=10"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
