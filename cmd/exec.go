package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/config"
	"github.com/iGETsense/Devil-POOl-sub000/internal/handlers"
	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	_ "github.com/iGETsense/Devil-POOl-sub000/migrations"
	"github.com/iGETsense/Devil-POOl-sub000/monitoring"
	"github.com/iGETsense/Devil-POOl-sub000/notify"
	"github.com/iGETsense/Devil-POOl-sub000/security"
	"github.com/iGETsense/Devil-POOl-sub000/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger store
	var (
		store       ledger.Store
		redisClient *redis.Client
		audit       services.AuditRecorder
	)
	switch cfg.StoreDriver {
	case "memory":
		log.Println("Using in-memory ledger, data is lost on restart")
		store = ledger.NewMemoryStore()
		audit = services.NewMemoryAudit()
	default:
		redisClient, err = utils.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		store = ledger.NewRedisStore(redisClient)
		audit = services.NewPocketBaseAudit(app)
	}

	// Payment gateway
	var (
		upstream gateway.Gateway
		sandbox  *gateway.Sandbox
	)
	switch cfg.Gateway.Driver {
	case "http":
		upstream = gateway.NewClient(gateway.ClientConfig{
			BaseURL: cfg.Gateway.BaseURL,
			AppKey:  cfg.Gateway.AppKey,
			Secret:  cfg.Gateway.Secret,
			Timeout: cfg.Gateway.Timeout,
		})
	default:
		log.Println("Using sandbox payment gateway")
		sandbox = gateway.NewSandbox()
		upstream = sandbox
	}
	gw := gateway.NewGuarded(upstream, cfg.Gateway.Timeout)

	// PubNub
	var (
		notifier services.Notifier
		pn       *pubnub.PubNub
	)
	if cfg.PubNub.Enabled() {
		pn = notify.NewClient(notify.Config{
			PublishKey:   cfg.PubNub.PublishKey,
			SubscribeKey: cfg.PubNub.SubscribeKey,
			SecretKey:    cfg.PubNub.SecretKey,
			CipherKey:    cfg.PubNub.CipherKey,
			UserID:       cfg.PubNub.UserID,
		})
		if cfg.PubNub.PublishKey != "" {
			notifier = notify.NewPublisher(pn, cfg.PubNub.TicketChannelPrefix)
		}
	}

	// Initialize services
	stats := services.NewStatsService(store, cfg.EventID)
	transactionService := services.NewTransactionService(store, gw)
	bookingService := services.NewBookingService(store, stats)
	reconcileService := services.NewReconcileService(store, transactionService, bookingService, audit, notifier, services.ReconcileConfig{
		OverridePINHash: cfg.AdminOverridePINHash,
		LockTTL:         cfg.LockTTL,
	})
	validatorService := services.NewValidatorService(store, bookingService, stats)
	financeService := services.NewFinanceService(gw, audit)
	syncJob := services.NewSyncJob(reconcileService, gw, cfg.SyncInterval, cfg.SyncConcurrency)

	if cfg.AdminOverridePINHash == "" {
		log.Println("ADMIN_OVERRIDE_PIN_HASH not set, force-pay is disabled")
	}

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(reconcileService, transactionService, bookingService, sandbox)
	ticketHandler := handlers.NewTicketHandler(bookingService, validatorService)
	financeHandler := handlers.NewFinanceHandler(stats, financeService)
	adminHandler := handlers.NewAdminHandler(reconcileService, bookingService, transactionService, stats, syncJob, audit)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	// Start background tasks
	go syncJob.Start(ctx)
	go monitoring.NewMonitor(store, 30*time.Second).Run(ctx)
	if cfg.EnableMetrics {
		go monitoring.Serve(ctx, ":"+cfg.MetricsPort)
	}
	if pn != nil && cfg.PubNub.WebhookChannel != "" {
		go notify.NewSubscriber(pn, cfg.PubNub.WebhookChannel, reconcileService).Run(ctx)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		limit := func(scope string) func(*core.RequestEvent) error {
			return func(e *core.RequestEvent) error { return e.Next() }
		}
		if redisClient != nil {
			limit = security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute).Limit
		}
		verify := func(e *core.RequestEvent) error { return e.Next() }
		if cfg.Gateway.WebhookSecret != "" {
			verify = security.NewWebhookVerifier(cfg.Gateway.WebhookSecret).Middleware()
		}

		// Payment endpoints
		e.Router.POST("/api/payment/collect", paymentHandler.Collect).BindFunc(limit("collect"))
		e.Router.POST("/api/payment/webhook", paymentHandler.Webhook).BindFunc(verify)
		e.Router.GET("/api/payment/{txId}", paymentHandler.GetTransaction)

		// Ticket endpoints
		e.Router.POST("/api/tickets", ticketHandler.CreateManual)
		e.Router.GET("/api/tickets/lookup", ticketHandler.Lookup).BindFunc(limit("lookup"))
		e.Router.POST("/api/tickets/resolve", ticketHandler.Resolve)
		e.Router.GET("/api/tickets/{id}", ticketHandler.Get)
		e.Router.POST("/api/tickets/{id}/pay", paymentHandler.PayBooking).BindFunc(limit("collect"))
		e.Router.POST("/api/scan", ticketHandler.Scan).BindFunc(limit("scan"))

		// Finance endpoints
		e.Router.GET("/api/finance/stats", financeHandler.GetStats)
		e.Router.GET("/api/finance/balance", financeHandler.GetBalance)
		e.Router.POST("/api/finance/withdraw", financeHandler.Withdraw)

		// Admin endpoints
		e.Router.POST("/api/admin/stats/recalculate", adminHandler.RecalculateStats)
		e.Router.GET("/api/admin/bookings", adminHandler.ListBookings)
		e.Router.POST("/api/admin/bookings/{id}/force-pay", adminHandler.ForcePay)
		e.Router.POST("/api/admin/bookings/{id}/cancel", adminHandler.CancelBooking)
		e.Router.POST("/api/admin/sync", adminHandler.RunSync)
		e.Router.GET("/api/admin/unresolved", adminHandler.ListUnresolved)
		e.Router.GET("/api/admin/audit", adminHandler.GetAuditLog)

		// Test endpoint for payment simulation
		if cfg.IsDevelopment() && sandbox != nil {
			e.Router.POST("/api/test/simulate-webhook", paymentHandler.SimulateWebhook)
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if redisClient == nil {
				return e.JSON(http.StatusOK, map[string]string{"status": "healthy", "store": "memory"})
			}
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Serve on PORT when started without arguments.
	if len(os.Args) == 1 {
		app.RootCmd.SetArgs([]string{"serve", "--http=0.0.0.0:" + cfg.Port})
	}

	if err := app.Start(); err != nil {
		slog.Error("app.Start()", "error", err)
		return err
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
