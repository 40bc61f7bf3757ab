package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// Push transport selection: "fcm" or "mqtt".
	PushTransport string

	// FCM transport settings.
	FCMEndpoint  string
	FCMServerKey string
	PushTimeout  time.Duration

	// MQTT transport settings.
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string

	// Artifact storage (S3-compatible).
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Dispatch engine tuning.
	BatchSize       int
	DispatchWorkers int
	PollInterval    time.Duration
	ExecTimeout     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ServiceName:    getEnv("SERVICE_NAME", "mdm-api"),

		PushTransport: getEnv("PUSH_TRANSPORT", "fcm"),
		FCMEndpoint:   getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		FCMServerKey:  getEnv("FCM_SERVER_KEY", ""),
		PushTimeout:   getDuration("PUSH_TIMEOUT", 5*time.Second),

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", "mdm-artifacts"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),

		BatchSize:       getInt("DISPATCH_BATCH_SIZE", 25),
		DispatchWorkers: getInt("DISPATCH_WORKERS", 8),
		PollInterval:    getDuration("POLL_INTERVAL", 2*time.Second),
		ExecTimeout:     getDuration("EXEC_TIMEOUT", 5*time.Minute),
	}

	return cfg, nil
}

// Validate checks that required fields for the given service are set.
func (c *Config) Validate(service string) error {
	switch service {
	case "mdm-api":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		switch c.PushTransport {
		case "fcm", "mqtt":
		default:
			return fmt.Errorf("PUSH_TRANSPORT must be fcm or mqtt, got %q", c.PushTransport)
		}
		if c.BatchSize < 1 {
			return fmt.Errorf("DISPATCH_BATCH_SIZE must be at least 1")
		}
		if c.DispatchWorkers < 1 {
			return fmt.Errorf("DISPATCH_WORKERS must be at least 1")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
