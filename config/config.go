package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mailpool/relay/app/account"
)

type Config struct {
	HTTPHost string
	HTTPPort string

	// Transport selects the delivery backend: smtp, ses, or noop.
	Transport string
	SMTPHost  string
	SMTPPort  int
	AWSRegion string

	Senders []account.Credentials

	RelaySecret    string
	AllowedOrigins []string

	MaxAttachmentSize int64
	FetchTimeout      time.Duration
	BatchConcurrency  int

	MySQLDSN     string
	MySQLMaxOpen int
	MySQLMaxIdle int
	MySQLMaxLife time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPHost:          getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		Transport:         strings.ToLower(getEnv("MAIL_TRANSPORT", "smtp")),
		SMTPHost:          getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:          getEnvInt("SMTP_PORT", 587),
		AWSRegion:         getEnv("AWS_REGION", "eu-west-1"),
		RelaySecret:       os.Getenv("RELAY_SECRET"),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		MaxAttachmentSize: int64(getEnvInt("MAX_ATTACHMENT_BYTES", 10<<20)),
		FetchTimeout:      getEnvDuration("ATTACHMENT_FETCH_TIMEOUT", 20*time.Second),
		BatchConcurrency:  getEnvInt("BATCH_CONCURRENCY", 8),
		MySQLDSN:          os.Getenv("MYSQL_DSN"),
		MySQLMaxOpen:      getEnvInt("MYSQL_MAX_OPEN", 10),
		MySQLMaxIdle:      getEnvInt("MYSQL_MAX_IDLE", 5),
		MySQLMaxLife:      getEnvDuration("MYSQL_MAX_LIFE", 5*time.Minute),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
	}

	cfg.Senders = loadSenders()
	if len(cfg.Senders) == 0 && cfg.Transport != "noop" {
		return nil, fmt.Errorf("no sender accounts configured (SENDER_1_IDENTITY / SENDER_1_SECRET)")
	}

	return cfg, nil
}

// loadSenders reads numbered SENDER_n_* variables in order until the first
// gap. Entries missing identity or secret are kept here and excluded later
// by the registry, so startup logs can name them.
func loadSenders() []account.Credentials {
	var senders []account.Credentials
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("SENDER_%d_", i)
		identity := os.Getenv(prefix + "IDENTITY")
		secret := os.Getenv(prefix + "SECRET")
		label := os.Getenv(prefix + "LABEL")
		from := os.Getenv(prefix + "FROM")
		if identity == "" && secret == "" && label == "" {
			break
		}
		senders = append(senders, account.Credentials{
			Label:    label,
			Identity: identity,
			Secret:   secret,
			From:     from,
		})
	}
	return senders
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
