package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kassa-service/internal/api"
	"kassa-service/internal/charset"
	"kassa-service/internal/config"
	"kassa-service/internal/db"
	"kassa-service/internal/event"
	"kassa-service/internal/gateway"
	"kassa-service/internal/kafka"
	"kassa-service/internal/logging"
	"kassa-service/internal/metrics"
	"kassa-service/internal/model"
	"kassa-service/internal/service"
	"kassa-service/internal/validation"
)

const shutdownTimeout = 10 * time.Second

type paymentStore interface {
	Insert(ctx context.Context, record *model.PaymentRecord) error
	FindByGatewayID(ctx context.Context, gatewayPaymentID string, siteID int) (*model.PaymentRecord, error)
	UpdateStatus(ctx context.Context, gatewayPaymentID string, siteID int, status model.Status) error
	WriteError(ctx context.Context, gatewayPaymentID string, siteID int, message string) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.MustLoadConfig(".")
	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("Error opening payment store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var gatewayOpts []gateway.Option
	if cfg.Kassa.TestLogFile != "" {
		testLog, closeLog, err := openTestLog(cfg.Kassa)
		if err != nil {
			logger.Error("Error opening gateway test log", "error", err)
			os.Exit(1)
		}
		defer closeLog()
		gatewayOpts = append(gatewayOpts, gateway.WithTestLog(testLog))
	}
	client := gateway.NewClient(cfg.Kassa, logger, gatewayOpts...)

	var processorOpts []event.Option
	if cfg.Kafka.Broker.URL != "" {
		publisher := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.StatusEvents), logger)
		defer publisher.Close()
		processorOpts = append(processorOpts, event.WithPublisher(publisher))
	}

	payments := service.NewPaymentService(validation.New(), client, store, logger)
	notifications := event.NewProcessor(client, store, logger, processorOpts...)

	handler, err := api.NewHandler(cfg, payments, notifications, store, logger)
	if err != nil {
		logger.Error("Error creating HTTP handler", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Server.Port, "live", cfg.Kassa.LiveMode, "sites", len(cfg.Sites))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (paymentStore, func(), error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory payment store, payments are lost on restart")
		return db.NewMemoryPaymentRepository(), func() {}, nil
	}

	connStr := cfg.ConnString()
	if err := db.RunMigrations(connStr, cfg.MigrationsDir); err != nil {
		return nil, nil, err
	}
	pool, err := db.GetPool(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}
	return db.NewPaymentRepository(pool), pool.Close, nil
}

// openTestLog appends gateway responses of test-mode requests to a file in the
// configured legacy charset.
func openTestLog(cfg config.Kassa) (io.Writer, func(), error) {
	codec, err := charset.New(cfg.TestLogCharset)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.TestLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return codec.NewWriter(f), func() { _ = f.Close() }, nil
}
