package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string
	HTTPAddr    string
	// NodeID seeds snowflake ids; replicas need distinct values.
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Auth      AuthConfig
	Booking   BookingConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Payment   PaymentConfig
	Email     EmailConfig
	Scheduler SchedulerConfig
	Report    ReportConfig
	CORS      CORSConfig

	PolicyFile string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	SessionTTL   time.Duration
	CookieSecure bool
}

type BookingConfig struct {
	Timezone         string
	CheckInHour      int
	CheckOutHour     int
	PaymentGrace     time.Duration
	CancelCutoff     time.Duration
	LockTTL          time.Duration
	LockMaxWait      time.Duration
	ListCacheTTL     time.Duration
	RoomCacheTTL     time.Duration
	DefaultPayMethod string
}

type OTPConfig struct {
	CodeTTL       time.Duration
	ResetTokenTTL time.Duration
}

type RateLimitConfig struct {
	Enabled        bool
	OTPIssueRate   float64
	OTPIssueBurst  int
	HTTPPerIPRate  float64
	HTTPPerIPBurst int
}

type PaymentConfig struct {
	ZaloPay ZaloPayConfig
	MoMo    MoMoConfig
}

type ZaloPayConfig struct {
	AppID       string
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
	RedirectURL string
}

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	IPNURL      string
	RedirectURL string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SchedulerConfig struct {
	OutboxRelayInterval time.Duration
	ExpirySweepInterval time.Duration
	ReportInterval      time.Duration
	EnabledJobs         []string
	WorkerConcurrency   int
}

type ReportConfig struct {
	Recipients []string
	LocalHour  int
}

type CORSConfig struct {
	Enabled      bool
	AllowOrigins string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	mode := normalizeMode(getenv("APP_MODE", ModeMonolith))
	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "staybook"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Mode:         mode,
		Environment:  environment,
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "staybook"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			SessionTTL:   getenvDuration("AUTH_SESSION_TTL", 24*time.Hour),
			CookieSecure: getenvBool("AUTH_COOKIE_SECURE", false),
		},
		Booking: BookingConfig{
			Timezone:         getenv("BOOKING_TIMEZONE", "Asia/Ho_Chi_Minh"),
			CheckInHour:      getenvInt("BOOKING_CHECK_IN_HOUR", 14),
			CheckOutHour:     getenvInt("BOOKING_CHECK_OUT_HOUR", 12),
			PaymentGrace:     getenvDuration("BOOKING_PAYMENT_GRACE", 10*time.Minute),
			CancelCutoff:     getenvDuration("BOOKING_CANCEL_CUTOFF", 48*time.Hour),
			LockTTL:          getenvDuration("BOOKING_LOCK_TTL", 15*time.Second),
			LockMaxWait:      getenvDuration("BOOKING_LOCK_MAX_WAIT", 2*time.Second),
			ListCacheTTL:     getenvDuration("BOOKING_LIST_CACHE_TTL", 5*time.Minute),
			RoomCacheTTL:     getenvDuration("ROOM_CACHE_TTL", time.Minute),
			DefaultPayMethod: strings.ToLower(getenv("BOOKING_DEFAULT_PAY_METHOD", "zalopay")),
		},
		OTP: OTPConfig{
			CodeTTL:       getenvDuration("OTP_CODE_TTL", 5*time.Minute),
			ResetTokenTTL: getenvDuration("OTP_RESET_TOKEN_TTL", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", true),
			OTPIssueRate:   getenvFloat("RATE_LIMIT_OTP_ISSUE_RATE", 0.2),
			OTPIssueBurst:  getenvInt("RATE_LIMIT_OTP_ISSUE_BURST", 5),
			HTTPPerIPRate:  getenvFloat("RATE_LIMIT_HTTP_PER_IP_RATE", 20),
			HTTPPerIPBurst: getenvInt("RATE_LIMIT_HTTP_PER_IP_BURST", 40),
		},
		Payment: PaymentConfig{
			ZaloPay: ZaloPayConfig{
				AppID:       strings.TrimSpace(getenv("ZALOPAY_APP_ID", "")),
				Key1:        strings.TrimSpace(getenv("ZALOPAY_KEY1", "")),
				Key2:        strings.TrimSpace(getenv("ZALOPAY_KEY2", "")),
				Endpoint:    getenv("ZALOPAY_ENDPOINT", "https://sb-openapi.zalopay.vn/v2/create"),
				CallbackURL: getenv("ZALOPAY_CALLBACK_URL", ""),
				RedirectURL: getenv("ZALOPAY_REDIRECT_URL", ""),
			},
			MoMo: MoMoConfig{
				PartnerCode: strings.TrimSpace(getenv("MOMO_PARTNER_CODE", "")),
				AccessKey:   strings.TrimSpace(getenv("MOMO_ACCESS_KEY", "")),
				SecretKey:   strings.TrimSpace(getenv("MOMO_SECRET_KEY", "")),
				Endpoint:    getenv("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api/create"),
				IPNURL:      getenv("MOMO_IPN_URL", ""),
				RedirectURL: getenv("MOMO_REDIRECT_URL", ""),
			},
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@staybook.local"),
		},
		Scheduler: SchedulerConfig{
			OutboxRelayInterval: getenvDuration("OUTBOX_RELAY_INTERVAL", time.Second),
			ExpirySweepInterval: getenvDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
			ReportInterval:      getenvDuration("REPORT_CHECK_INTERVAL", time.Minute),
			EnabledJobs:         parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			WorkerConcurrency:   getenvInt("JOB_WORKER_CONCURRENCY", 4),
		},
		Report: ReportConfig{
			Recipients: parseList(getenv("REPORT_RECIPIENTS", "")),
			LocalHour:  getenvInt("REPORT_LOCAL_HOUR", 23),
		},
		CORS: CORSConfig{
			Enabled:      getenvBool("CORS_ENABLED", false),
			AllowOrigins: getenv("CORS_ALLOW_ORIGINS", ""),
		},
		PolicyFile: strings.TrimSpace(getenv("POLICY_FILE", "")),
	}

	return cfg
}

const (
	ModeMonolith  = "monolith"
	ModeAPI       = "api"
	ModeScheduler = "scheduler"
)

// RunsScheduler reports whether this process should run the background jobs.
func (c Config) RunsScheduler() bool {
	return c.Mode == ModeMonolith || c.Mode == ModeScheduler
}

// RunsAPI reports whether this process should serve the public HTTP routes.
// Every mode serves /health and /metrics.
func (c Config) RunsAPI() bool {
	return c.Mode == ModeMonolith || c.Mode == ModeAPI
}

// RunsWorker reports whether this process should consume the job queue.
func (c Config) RunsWorker() bool {
	return c.Mode == ModeMonolith || c.Mode == ModeAPI
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeAPI:
		return ModeAPI
	case ModeScheduler:
		return ModeScheduler
	default:
		return ModeMonolith
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s") or plain seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
