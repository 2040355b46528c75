package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/cache"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/handlers"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/smarttransit/booking-engine/pkg/gateway"
	"github.com/smarttransit/booking-engine/pkg/jwt"
	"github.com/smarttransit/booking-engine/pkg/sms"
	"github.com/smarttransit/booking-engine/pkg/validator"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

// pinger is anything /health can check
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Booking Engine")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	scheduleRepo := database.NewScheduleRepository(db.DB)
	bookingRepo := database.NewBookingRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	cancellationRepo := database.NewCancellationRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)

	// Seat-number claims
	var claims services.SeatClaimer = cache.NoopSeatClaims{}
	var claimsHealth pinger = cache.NoopSeatClaims{}
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		redisClaims := cache.NewRedisSeatClaims(redisClient, logger)
		claims, claimsHealth = redisClaims, redisClaims
		logger.Info("✓ Redis seat claims enabled")
	} else {
		logger.Warn("Redis disabled - seat numbers are guarded by Postgres only")
	}

	// Payment gateway
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Payment.BaseURL,
		KeyID:         cfg.Payment.KeyID,
		KeySecret:     cfg.Payment.KeySecret,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Timeout:       cfg.Payment.Timeout,
	}, logger)
	if !gatewayClient.IsConfigured() {
		logger.Warn("Payment gateway credentials missing - payment initiation will fail")
	}

	// SMS notifications
	var smsSender sms.Sender
	if cfg.SMS.Mode == "production" {
		smsSender = sms.NewDialogGateway(sms.DialogConfig{
			APIURL:   cfg.SMS.APIURL,
			Username: cfg.SMS.Username,
			Password: cfg.SMS.Password,
			Mask:     cfg.SMS.Mask,
		})
		logger.Info("✓ SMS notifications via Dialog gateway")
	} else {
		smsSender = sms.NewLogSender(logger)
		logger.Info("SMS in dev mode - notifications are logged only")
	}
	notifier := services.NewNotificationService(smsSender, logger)

	// Services
	logger.Info("Initializing services...")
	v := validator.New(cfg.SMS.DefaultCountryCode)
	auditService := services.NewAuditService(auditRepo, logger)

	bookingService := services.NewBookingService(bookingRepo, scheduleRepo, claims, v, services.BookingServiceConfig{
		HoldWindow:         cfg.Booking.HoldWindow,
		SeatClaimTTL:       cfg.Booking.SeatClaimTTL,
		PNRLength:          cfg.Booking.PNRLength,
		PNRMaxAttempts:     cfg.Booking.PNRMaxAttempts,
		MaxSeatsPerSegment: cfg.Booking.MaxSeatsPerSegment,
		Currency:           cfg.Booking.Currency,
	}, logger)

	connectingService := services.NewConnectingRouteService(scheduleRepo, bookingService, v, services.ConnectingRouteConfig{
		MinLayover:  cfg.Connecting.MinLayover,
		MaxLayover:  cfg.Connecting.MaxLayover,
		ResultLimit: cfg.Connecting.ResultLimit,
	}, logger)

	paymentService := services.NewPaymentService(bookingRepo, scheduleRepo, paymentRepo, gatewayClient, auditService, notifier, logger)

	tiers := make([]models.RefundTier, 0, len(cfg.Refund.Tiers))
	for _, t := range cfg.Refund.Tiers {
		tiers = append(tiers, models.RefundTier{MinHoursBeforeTravel: t.MinHoursBeforeTravel, Percent: t.Percent})
	}
	cancellationService := services.NewCancellationService(
		bookingRepo, scheduleRepo, paymentRepo, cancellationRepo,
		auditService, notifier, models.NewRefundPolicy(tiers), logger,
	)

	// Background jobs
	sweeper := services.NewExpirySweeper(bookingRepo, scheduleRepo, cfg.Booking.SweepInterval, cfg.Booking.SweepBatchSize, logger)
	sweeper.Start()
	logger.Infof("✓ Expiry sweeper started (every %s)", cfg.Booking.SweepInterval)

	cronService := services.NewCronService(cfg.Cron.ReconciliationSchedule, paymentRepo, auditService, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - payment reconciliation enabled")

	// Handlers
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	scheduleHandler := handlers.NewScheduleHandler(bookingService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	connectingHandler := handlers.NewConnectingHandler(connectingService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, logger)
	cancellationHandler := handlers.NewCancellationHandler(cancellationService, logger)
	auditHandler := handlers.NewAuditHandler(auditService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db, claimsHealth))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Public
		v1.GET("/schedules/:id", scheduleHandler.GetSchedule)
		v1.POST("/payments/webhook", paymentHandler.Webhook)

		// Protected
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings := protected.Group("/bookings")
			{
				bookings.POST("", bookingHandler.CreateBooking)
				bookings.GET("", bookingHandler.ListBookings)
				bookings.GET("/pnr/:pnr", bookingHandler.GetBookingByPNR)
				bookings.GET("/:id", bookingHandler.GetBooking)
				bookings.GET("/:id/refund-quote", cancellationHandler.RefundQuote)
				bookings.POST("/:id/cancel", cancellationHandler.CancelBooking)
			}

			routes := protected.Group("/routes/connecting")
			{
				routes.GET("", connectingHandler.Search)
				routes.POST("/book", connectingHandler.Book)
			}

			payments := protected.Group("/payments")
			{
				payments.POST("/initiate", paymentHandler.InitiatePayment)
				payments.POST("/verify", paymentHandler.VerifyPayment)
			}

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole("admin"))
			{
				admin.GET("/cron/status", func(c *gin.Context) {
					c.JSON(http.StatusOK, cronService.GetJobStatus())
				})
				admin.GET("/bookings/:id/payment-audits", auditHandler.GetPaymentTrail)
			}
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopping background jobs...")
	sweeper.Stop()
	cronService.Stop()
	notifier.Wait()

	logger.Info("Server exited successfully")
}

// healthCheckHandler reports database and seat-claim store health
func healthCheckHandler(db database.DB, claims pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus, redisStatus := "healthy", "healthy"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
		}
		if err := claims.Ping(ctx); err != nil {
			redisStatus = "unhealthy"
		}

		status := http.StatusOK
		overall := "healthy"
		if dbStatus != "healthy" || redisStatus != "healthy" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":    overall,
			"database":  dbStatus,
			"redis":     redisStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
