package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/staybook/internal/auth/local"
	"github.com/smallbiznis/staybook/internal/auth/session"
	"github.com/smallbiznis/staybook/internal/authorization"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/booking/statushub"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/observability"
	obslogger "github.com/smallbiznis/staybook/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/staybook/internal/observability/metrics"
	obstracing "github.com/smallbiznis/staybook/internal/observability/tracing"
	"github.com/smallbiznis/staybook/internal/otp"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"github.com/smallbiznis/staybook/internal/ratelimit"
	"github.com/smallbiznis/staybook/internal/report"
	userdomain "github.com/smallbiznis/staybook/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

type otpService interface {
	Issue(ctx context.Context, action, subject string) error
	Verify(ctx context.Context, action, subject, code string) (otp.VerifyResult, error)
	IssueResetToken(ctx context.Context, subject string) (string, error)
}

type otpIssueLimiter interface {
	Allow(ctx context.Context, clientIP string) (*ratelimit.RateLimitResult, error)
}

type statusStream interface {
	Subscribe(externalID string) (*statushub.Subscription, []bookingdomain.StatusChange, error)
}

type EngineParams struct {
	fx.In

	Cfg         config.Config
	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics
}

func NewEngine(p EngineParams) *gin.Engine {
	if !p.ObsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.New())
	if corsMiddleware := newCORSMiddleware(p.Cfg.CORS); corsMiddleware != nil {
		r.Use(corsMiddleware)
	}
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(p.HTTPMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	location     *time.Location
	bookings     bookingdomain.Service
	statuses     statusStream
	otp          otpService
	otpLimiter   otpIssueLimiter
	users        userdomain.Service
	webhooks     paymentdomain.WebhookService
	sessions     *session.Manager
	sessionStore sessionLookup
	logins       loginService
	authz        authorization.Service
	monthly      monthlyRevenue
	obsMetrics   *obsmetrics.Metrics
	ipLimiter    *ipLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Bookings     bookingdomain.Service
	Hub          *statushub.Hub
	OTP          *otp.Service
	OTPLimiter   *ratelimit.OTPIssueLimiter `optional:"true"`
	Users        userdomain.Service
	Webhooks     paymentdomain.WebhookService
	Sessions     *session.Manager
	SessionStore *session.Store
	Logins       *local.Service
	Authz        authorization.Service
	Monthly      *report.MonthlyRevenue
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) (*Server, error) {
	loc, err := time.LoadLocation(p.Cfg.Booking.Timezone)
	if err != nil {
		return nil, err
	}

	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		location:     loc,
		bookings:     p.Bookings,
		statuses:     p.Hub,
		otp:          p.OTP,
		otpLimiter:   p.OTPLimiter,
		users:        p.Users,
		webhooks:     p.Webhooks,
		sessions:     p.Sessions,
		sessionStore: p.SessionStore,
		logins:       p.Logins,
		authz:        p.Authz,
		monthly:      p.Monthly,
		obsMetrics:   p.ObsMetrics,
	}
	if p.Cfg.RateLimit.Enabled {
		svc.ipLimiter = newIPLimiter(p.Cfg.RateLimit.HTTPPerIPRate, p.Cfg.RateLimit.HTTPPerIPBurst)
	}

	if p.Cfg.RunsAPI() {
		svc.registerAPIRoutes()
		svc.registerCallbackRoutes()
	}

	return svc, nil
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ClientRateLimit(s.ipLimiter, s.obsMetrics))

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/login", s.Login)
		authRoutes.POST("/logout", s.Logout)
		authRoutes.GET("/me", s.AuthRequired(), s.Me)
	}

	api.GET("/rooms/available", s.SearchAvailableRooms)

	// The checkout page polls payment and events without a login.
	bookings := api.Group("/bookings")
	{
		bookings.POST("", s.CreateBooking)
		bookings.GET("/:id/payment", s.GetPaymentView)
		bookings.GET("/:id/events", s.StreamBookingEvents)
	}
	owned := api.Group("/bookings", s.AuthRequired())
	{
		owned.GET("", s.ListUserBookings)
		owned.POST("/:id/cancel", s.CancelBooking)
		owned.POST("/:id/check-in", s.authorize(authorization.ObjectBooking, authorization.ActionBookingCheckIn), s.CheckIn)
		owned.POST("/:id/check-out", s.authorize(authorization.ObjectBooking, authorization.ActionBookingCheckOut), s.CheckOut)
	}

	reports := api.Group("/reports", s.AuthRequired(), s.authorize(authorization.ObjectRevenueReport, authorization.ActionRevenueReportView))
	{
		reports.GET("/revenue/monthly", s.MonthlyRevenue)
	}

	otpRoutes := api.Group("/otp")
	{
		otpRoutes.POST("/issue", s.IssueOTP)
		otpRoutes.POST("/verify", s.VerifyOTP)
	}

	password := api.Group("/password")
	{
		password.POST("/reset", s.ResetPassword)
		password.POST("/change", s.ChangePassword)
	}
}

// Provider callbacks skip the per-IP limiter.
func (s *Server) registerCallbackRoutes() {
	s.engine.POST("/api/payments/callbacks/:provider", s.HandlePaymentCallback)
}
