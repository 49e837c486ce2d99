package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/config"
	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/executor"
	"github.com/t77yq/taskpet/internal/model"
	"github.com/t77yq/taskpet/internal/monitor"
	"github.com/t77yq/taskpet/internal/scheduler"
	"github.com/t77yq/taskpet/internal/service"
	"github.com/t77yq/taskpet/internal/storage"
	"github.com/t77yq/taskpet/internal/trigger"
)

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// startEmbeddedNATS runs an in-process NATS server for hosts that do not
// provide one
func startEmbeddedNATS(port int, logger *zap.Logger) (*server.Server, error) {
	s, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		s.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready on port %d", port)
	}

	logger.Info("Embedded NATS server started", zap.String("url", s.ClientURL()))
	return s, nil
}

func connectNATS(url string, cfg config.NATSConfig, name string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", maxRetries, err)
}

func main() {
	cfg, err := config.Load("./config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.App.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Invalid cron location", zap.Error(err))
	}
	evaluator := trigger.Evaluator{Location: loc}

	store, err := storage.NewSQLiteStore(logger, cfg.Storage.Path, storage.WithEvaluator(evaluator))
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer store.Close()

	natsURL := cfg.NATS.URL
	var embedded *server.Server
	if cfg.NATS.Embedded {
		embedded, err = startEmbeddedNATS(cfg.NATS.EmbeddedPort, logger)
		if err != nil {
			logger.Fatal("Failed to start embedded NATS", zap.Error(err))
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
	}

	nc, err := connectNATS(natsURL, cfg.NATS, cfg.App.Name, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	notifier := events.NewNATSNotifier(nc, cfg.NATS.EventPrefix, logger)

	var taskExecutor *executor.Executor
	collector := monitor.NewCollector(notifier, monitor.RunningFunc(func() []*model.Task {
		return taskExecutor.RunningTasks()
	}), cfg.Monitor.Interval, logger)

	taskExecutor = executor.NewExecutor(store, notifier, logger,
		executor.WithEvaluator(evaluator),
		executor.WithObserver(collector))

	var serviceOpts []service.Option
	if cfg.Scheduler.StrictTriggers {
		serviceOpts = append(serviceOpts, service.WithStrictTriggers())
	}
	taskService := service.NewTaskService(store, taskExecutor, logger, serviceOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	binding := service.NewNATSBinding(nc, taskService, cfg.NATS.CommandPrefix, logger)
	if err := binding.Start(ctx); err != nil {
		logger.Fatal("Failed to serve commands", zap.Error(err))
	}

	runner := scheduler.NewRunner(store, taskExecutor, logger,
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		scheduler.WithStaleRecovery(cfg.Scheduler.RecoverStaleAfter),
		scheduler.WithRetention(cfg.Scheduler.RetentionKeep, cfg.Scheduler.PruneInterval))
	runner.Start(ctx)

	if cfg.Monitor.Enabled {
		collector.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	binding.Stop()
	runner.Stop()
	collector.Stop()

	if running := taskExecutor.RunningTasks(); len(running) > 0 {
		logger.Warn("Shutting down with tasks still running", zap.Int("count", len(running)))
	}

	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}

	logger.Info("Scheduler shutting down gracefully")
}
