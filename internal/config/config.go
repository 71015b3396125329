package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Kafka  KafkaConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// PublicURL is the externally reachable base address advertised by the
	// info endpoint, e.g. "ws://localhost:6001".
	PublicURL string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// Enabled reports whether a Redis backend was configured. Without Redis the
// relay runs single-node: no cross-instance fan-out, no shared presence state.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type AuthConfig struct {
	// AppKey and AppSecret are the application credential used for channel
	// auth signatures and for signing trigger requests.
	AppKey    string
	AppSecret string
	// JWTSecret validates the session tokens the admin frontend presents at
	// the channel auth endpoint.
	JWTSecret string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func LoadConfig() (*Config, error) {
	// Viper setup
	once.Do(func() {
		viper.SetDefault("PUSHER_PORT", "6001")
		viper.SetDefault("PUSHER_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("PUSHER_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("PUSHER_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("PUSHER_APP_KEY", "app-key")
		viper.SetDefault("PUSHER_APP_SECRET", "app-secret")
		viper.SetDefault("PUSHER_JWT_SECRET", "secret")
		viper.SetDefault("REDIS_ADDR", "")
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("KAFKA_BROKERS", "")
		viper.SetDefault("KAFKA_WEBHOOK_TOPIC", "pusher.webhooks")
		viper.AutomaticEnv()

		var brokers []string
		if raw := viper.GetString("KAFKA_BROKERS"); raw != "" {
			for _, b := range strings.Split(raw, ",") {
				brokers = append(brokers, strings.TrimSpace(b))
			}
		}

		ConfigInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("PUSHER_HOST"),
				Port:         viper.GetString("PUSHER_PORT"),
				ReadTimeout:  viper.GetDuration("PUSHER_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("PUSHER_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("PUSHER_IDLE_TIMEOUT"),
				PublicURL:    viper.GetString("PUSHER_PUBLIC_URL"),
			},
			Redis: RedisConfig{
				Addr:         viper.GetString("REDIS_ADDR"),
				Password:     viper.GetString("REDIS_PASSWORD"),
				DB:           viper.GetInt("REDIS_DB"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Auth: AuthConfig{
				AppKey:    viper.GetString("PUSHER_APP_KEY"),
				AppSecret: viper.GetString("PUSHER_APP_SECRET"),
				JWTSecret: viper.GetString("PUSHER_JWT_SECRET"),
			},
			Kafka: KafkaConfig{
				Brokers: brokers,
				Topic:   viper.GetString("KAFKA_WEBHOOK_TOPIC"),
			},
		}
	})

	return ConfigInstance, nil
}
