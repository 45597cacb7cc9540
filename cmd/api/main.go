package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/handlers"
	"github.com/strike-edge/api/internal/payments"
	"github.com/strike-edge/api/internal/platform/auth"
	"github.com/strike-edge/api/internal/platform/config"
	pfirestore "github.com/strike-edge/api/internal/platform/firestore"
	"github.com/strike-edge/api/internal/platform/idempotency"
	"github.com/strike-edge/api/internal/platform/jobs"
	"github.com/strike-edge/api/internal/platform/observability"
	"github.com/strike-edge/api/internal/platform/secrets"
	"github.com/strike-edge/api/internal/repositories"
	firestoreRepo "github.com/strike-edge/api/internal/repositories/firestore"
	"github.com/strike-edge/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, secretManagerCheck(fetcher))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go func() {
		cleanupLogger := logger.Named("idempotency")
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, 30*time.Second)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), 200)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency records removed", zap.Int("count", removed))
				}
			}
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithUserGetter(verifier))

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	publisher, err := jobs.NewPubSubNotificationPublisher(pubsubClient.Topic(cfg.Notifications.TopicID))
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}

	notificationService, err := services.NewNotificationService(services.NotificationServiceDeps{
		Publisher:   publisher,
		Users:       registry.Users(),
		DispatchTTL: cfg.Notifications.DispatchTTL,
		Logger:      zapEventLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification service", zap.Error(err))
	}

	cashfreeProvider, err := payments.NewCashfreeProvider(payments.CashfreeProviderConfig{
		ClientID:      cfg.Cashfree.ClientID,
		ClientSecret:  cfg.Cashfree.ClientSecret,
		WebhookSecret: cfg.Cashfree.WebhookSecret,
		APIBase:       cfg.Cashfree.APIBase,
		APIVersion:    cfg.Cashfree.APIVersion,
		ReturnURL:     cfg.Cashfree.ReturnURL,
		NotifyURL:     cfg.Cashfree.NotifyURL,
		Logger:        zapEventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cashfree provider", zap.Error(err))
	}

	paymentManager, err := payments.NewManager(map[domain.PaymentMethod]payments.Provider{
		domain.PaymentMethodCOD:    payments.NewCODProvider(),
		domain.PaymentMethodOnline: cashfreeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        registry.Orders(),
		Products:      registry.Products(),
		Users:         registry.Users(),
		Counters:      registry.Counters(),
		Payments:      paymentManager,
		Notifications: notificationService,
		Pricing: services.OrderPricing{
			Currency:          cfg.Orders.Currency,
			DeliveryCharge:    cfg.Orders.DeliveryCharge,
			FreeDeliveryAbove: cfg.Orders.FreeDeliveryAbove,
			CodePrefix:        cfg.Orders.CodePrefix,
		},
		Logger: zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	reconciliationService, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:        registry.Orders(),
		Provider:      cashfreeProvider,
		Notifications: notificationService,
		Logger:        zapEventLogger(logger.Named("reconciliation")),
	})
	if err != nil {
		logger.Fatal("failed to initialise reconciliation service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, orderService)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, orderService)
	webhookHandlers := handlers.NewWebhookHandlers(reconciliationService, handlers.WebhookHandlerConfig{
		SignatureHeader: cfg.Cashfree.SignatureHeader,
		TimestampHeader: cfg.Cashfree.TimestampHeader,
		RatePerMinute:   cfg.RateLimits.WebhookPerMinute,
	})

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues)),
		handlers.WithHealthReadiness(registry.Health().Check),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			idempotencyMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts a zap logger to the event logger signature the
// services accept.
func zapEventLogger(l *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		l.Info(event, zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the configuration secrets that must resolve to a
// non-empty value before the server starts.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Cashfree.ClientSecret"}
	if strings.TrimSpace(env["API_CASHFREE_WEBHOOK_SECRET"]) != "" {
		required = append(required, "Cashfree.WebhookSecret")
	}
	return required
}

func buildInfoFromEnv(env map[string]string) map[string]string {
	info := map[string]string{}
	if version := strings.TrimSpace(env["API_BUILD_VERSION"]); version != "" {
		info["version"] = version
	}
	if commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]); commit != "" {
		info["commit"] = commit
	}
	return info
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// secretManagerCheck verifies Secret Manager reachability. A NotFound on the
// probe secret still proves the service answered.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, "secret://system/healthz")
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}
