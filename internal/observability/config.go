package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/staybook/internal/config"
)

// Config is the observability view of the process: which binary role it
// runs as and where telemetry goes.
type Config struct {
	ServiceName string
	Mode        string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig derives telemetry settings from the application config. Split
// deployments report as "<app>-api" and "<app>-scheduler" so dashboards can
// tell the roles apart; a monolith keeps the bare name.
func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "staybook"
	}
	mode := strings.TrimSpace(cfg.Mode)
	if mode != "" && mode != config.ModeMonolith {
		name = name + "-" + mode
	}

	environment := strings.TrimSpace(envOr("DEPLOYMENT_ENV", cfg.Environment))
	out := Config{
		ServiceName:          name,
		Mode:                 mode,
		Environment:          environment,
		Version:              strings.TrimSpace(envOr("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:             strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOr("LOG_FORMAT", "json")),
		OtelExporterEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelSamplingRatio:    0.1,
	}

	// Exporting is opt-in outside production.
	out.OtelEnabled = environment == "production"
	if raw := strings.ToLower(envOr("OTEL_ENABLED", "")); raw != "" {
		out.OtelEnabled = raw == "1" || raw == "true" || raw == "yes" || raw == "on"
	}
	if raw := envOr("OTEL_SAMPLING_RATIO", ""); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			out.OtelSamplingRatio = ratio
		}
	}
	return out
}

// Debug enables development logging and gin debug mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}
