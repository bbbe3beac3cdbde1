package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	TCPPort        string
	TCPIdleTimeout time.Duration
	MetricsPort    string
	FrameLogDir    string

	RedisAddr string
	RedisDB   int
	RedisTTL  time.Duration

	GRPCServer string
	ProxyAddr  string

	MQTTBroker       string
	MQTTClientID     string
	MQTTUplinkTopic  string
	MQTTPublishTopic string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	SQLitePath string
}

// Load reads the configuration from the environment. Empty addresses disable
// the matching collaborator.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:           getEnv("APP_ENV", "dev"),
		TCPPort:          getEnv("TCP_PORT", "8001"),
		MetricsPort:      getEnv("METRICS_PORT", "9000"),
		FrameLogDir:      getEnv("FRAME_LOG_DIR", ""),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		GRPCServer:       getEnv("GRPC_SERVER", ""),
		ProxyAddr:        getEnv("PROXY_ADDR", ""),
		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "buoy-svr"),
		MQTTUplinkTopic:  getEnv("MQTT_UPLINK_TOPIC", "v3/+/devices/+/up"),
		MQTTPublishTopic: getEnv("MQTT_PUBLISH_TOPIC", "buoys/%s/measurement"),
		InfluxURL:        getEnv("INFLUX_URL", ""),
		InfluxToken:      getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:        getEnv("INFLUX_ORG", "buoys"),
		InfluxBucket:     getEnv("INFLUX_BUCKET", "telemetry"),
		SQLitePath:       getEnv("SQLITE_PATH", ""),
	}

	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	var err error
	if cfg.LogLevel, err = parseLogLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}
	if cfg.TCPIdleTimeout, err = parseDuration("TCP_IDLE_TIMEOUT", "5m"); err != nil {
		return Config{}, err
	}
	if cfg.RedisTTL, err = parseDuration("REDIS_TTL", "10m"); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if !strings.Contains(cfg.MQTTPublishTopic, "%s") {
		return Config{}, fmt.Errorf("MQTT_PUBLISH_TOPIC %q must contain %%s for the device id", cfg.MQTTPublishTopic)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := getEnv(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
