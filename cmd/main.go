package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/handler"
	"github.com/metation/quickpay-checkout/infra/config"
	"github.com/metation/quickpay-checkout/infra/logger"
	"github.com/metation/quickpay-checkout/infra/middle"
	"github.com/metation/quickpay-checkout/infra/opensearch"
	"github.com/metation/quickpay-checkout/infra/response"
	"github.com/metation/quickpay-checkout/router"
)

func main() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// A misconfigured payment service must not come up at all.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize OpenSearch client and audit logger
	var osClient *opensearch.Client
	var auditLogger *opensearch.Logger
	if cfg.EnableLogging {
		osClient, err = opensearch.NewClient(cfg.OpenSearch())
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			auditLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch logging initialized successfully")
		}
	} else {
		log.Println("OpenSearch logging is disabled")
	}
	logger.InitGlobalLogger(auditLogger)

	store, err := checkout.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open order database", err)
	}
	defer store.Close()

	agreements := config.NewAgreements(cfg)
	settings := cfg.Settings()

	var subs checkout.SubscriptionBackend = checkout.NoopSubscriptions{}
	if cfg.SubscriptionsEnabled {
		subs = checkout.LoggedSubscriptions{}
	}

	orch := checkout.NewOrchestrator(store, agreements, settings, subs)
	rec := checkout.NewReconciler(store, agreements, settings, orch, nil, nil, nil)

	validate := validator.New()
	deps := router.Deps{
		Checkout:    handler.NewCheckoutHandler(store, orch, rec, subs, validate),
		Callback:    handler.NewCallbackHandler(rec),
		Browser:     handler.NewBrowserHandler(store, rec, cfg.CompleteURL, cfg.FailedURL),
		Health:      handler.NewHealthHandler(store.DB(), osClient),
		RateLimiter: middle.NewRateLimiter(),
	}

	// Chi Define Routes
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	// Security Middleware
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestValidationMiddleware())

	// Payment audit trail
	if auditLogger != nil {
		r.Use(middle.PaymentAuditMiddleware(auditLogger))
		log.Println("Payment audit middleware enabled")
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.ShopBaseURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300, // Preflight cache time (second)
	}))

	router.Routes(r, deps)

	// Not Found
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.WriteJSON(w, http.StatusNotFound, response.Response{Code: http.StatusNotFound, Success: false, Message: "Not Found"})
	})

	// Create a context that listens for interrupt and terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()

	log.Println("API is running on", cfg.Port)

	// Block until a signal is received
	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
