package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "VESTIBULE"

type RedisConfig struct {
	Addr     string // empty disables the cross-instance relay
	Password string
	DB       int
	Channel  string
}

type MailConfig struct {
	BrevoAPIKey  string // empty logs mail instead of sending it
	BrevoBaseURL string
	SenderName   string
	SenderEmail  string
}

type Config struct {
	HTTPAddr string
	GRPCAddr string

	// DB
	Env         string // "dev" | "prod"
	DBDriver    string // "sqlite" | "postgres" | "memory"
	DBPath      string // e.g. "./data/vestibule.db"
	DatabaseURL string // postgres only
	SeedDev     bool   // dev only

	Redis RedisConfig
	Mail  MailConfig

	BusinessTimezone string
	AutoApprove      bool

	LogLevel  string
	LogFormat string

	NotifyQueueSize int
	HealthInterval  time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("env", "dev")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "./data/vestibule.db")
	v.SetDefault("database_url", "")
	v.SetDefault("db_seed_dev", false)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_channel", "vestibule:dashboard")
	v.SetDefault("brevo_api_key", "")
	v.SetDefault("brevo_base_url", "https://api.brevo.com")
	v.SetDefault("mail_sender_name", "Visitor Management")
	v.SetDefault("mail_sender_email", "")
	v.SetDefault("business_timezone", "Asia/Manila")
	v.SetDefault("auto_approve", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("notify_queue_size", 256)
	v.SetDefault("health_interval_seconds", 15)
}

// Load reads an optional .env file, an optional config file named by
// VESTIBULE_CONFIG, and VESTIBULE_* environment variables, in increasing
// order of precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	env := strings.ToLower(strings.TrimSpace(v.GetString("env")))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	cfg := Config{
		HTTPAddr:    v.GetString("http_addr"),
		GRPCAddr:    v.GetString("grpc_addr"),
		Env:         env,
		DBDriver:    strings.ToLower(strings.TrimSpace(v.GetString("db_driver"))),
		DBPath:      v.GetString("db_path"),
		DatabaseURL: v.GetString("database_url"),
		SeedDev:     v.GetBool("db_seed_dev"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       nonNegative(v.GetInt("redis_db"), 0),
			Channel:  v.GetString("redis_channel"),
		},
		Mail: MailConfig{
			BrevoAPIKey:  v.GetString("brevo_api_key"),
			BrevoBaseURL: v.GetString("brevo_base_url"),
			SenderName:   v.GetString("mail_sender_name"),
			SenderEmail:  v.GetString("mail_sender_email"),
		},
		BusinessTimezone: v.GetString("business_timezone"),
		AutoApprove:      v.GetBool("auto_approve"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		NotifyQueueSize:  nonNegative(v.GetInt("notify_queue_size"), 256),
		HealthInterval:   time.Duration(nonNegative(v.GetInt("health_interval_seconds"), 15)) * time.Second,
	}

	switch cfg.DBDriver {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return Config{}, errors.New("config: database_url is required for postgres")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown db_driver %q", cfg.DBDriver)
	}
	if cfg.Mail.BrevoAPIKey != "" && cfg.Mail.SenderEmail == "" {
		return Config{}, errors.New("config: mail_sender_email is required with brevo_api_key")
	}
	return cfg, nil
}

func nonNegative(n, def int) int {
	if n < 0 {
		return def
	}
	return n
}
