package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/bcrosbie/evalboard/internal/access"
	"github.com/bcrosbie/evalboard/internal/chart"
	"github.com/bcrosbie/evalboard/internal/config"
	"github.com/bcrosbie/evalboard/internal/evaljob"
	"github.com/bcrosbie/evalboard/internal/notify"
	"github.com/bcrosbie/evalboard/internal/redact"
	"github.com/bcrosbie/evalboard/internal/service"
	"github.com/bcrosbie/evalboard/internal/store"
	grpcx "github.com/bcrosbie/evalboard/internal/transport/grpc"
	httpx "github.com/bcrosbie/evalboard/internal/transport/http"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}

	evalStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store setup failed: %v", err)
	}
	defer func() {
		if err := evalStore.Close(); err != nil {
			log.Warnf("store close warning: %v", err)
		}
	}()

	authorizer, err := access.NewAuthorizer(cfg.AuthTokens, access.NewGate(cfg.PanelRoles, cfg.WriterRoles))
	if err != nil {
		log.Fatalf("AUTH_TOKENS invalid: %v", err)
	}

	evals := service.NewEvalService(evalStore, cfg.EvalModels, cfg.StoreDriver)
	charts := chart.NewTable()
	defer charts.Close()
	httpServer := httpx.NewServer(cfg.HTTPAddr, evals, charts, authorizer)

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.GRPCAddr, err)
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcx.RecoveryUnaryInterceptor(),
			grpcx.LoggingUnaryInterceptor(),
			grpcx.AuthUnaryInterceptor(authorizer),
			grpcx.RateLimitUnaryInterceptor(grpcx.NewKeyedLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)),
			grpcx.ErrorUnaryInterceptor(),
		),
	)
	grpcx.RegisterEvalServer(server, grpcx.NewEvalHandler(evals))

	healthService := health.NewServer()
	healthService.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthService)

	if cfg.EnableReflection {
		reflection.Register(server)
	}

	go func() {
		log.WithFields(log.Fields{"addr": cfg.GRPCAddr, "driver": cfg.StoreDriver, "models": len(cfg.EvalModels)}).Info("evalboard gRPC server listening")
		if cfg.AuthTokens == "" {
			log.Warn("AUTH_TOKENS is not configured; the panel and all writes are unauthenticated")
		}
		if err := server.Serve(listener); err != nil {
			log.Fatalf("grpc serve failed: %v", err)
		}
	}()

	go func() {
		if cfg.HTTPAddr == "" {
			return
		}
		log.WithField("addr", cfg.HTTPAddr).Info("evalboard HTTP dashboard listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EvalInterval > 0 {
		job, err := newScheduledJob(cfg, evals)
		if err != nil {
			log.Fatalf("eval job setup failed: %v", err)
		}
		go runSchedule(ctx, job, cfg.EvalInterval)
	}

	<-ctx.Done()
	waitForShutdown(server, httpServer)
}

func openStore(cfg config.Config) (store.EvalStore, error) {
	evalStore, err := store.New(cfg.StoreDriver, cfg.DataFile, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if pg, ok := evalStore.(*store.PostgresStore); ok && cfg.MigrateOnStart {
		if err := pg.Migrate(); err != nil {
			_ = pg.Close()
			return nil, errors.Wrap(err, "apply migrations")
		}
	}
	if err := evalStore.Load(context.Background()); err != nil {
		_ = evalStore.Close()
		return nil, errors.Wrap(err, "initialize store")
	}
	return evalStore, nil
}

func newScheduledJob(cfg config.Config, evals *service.EvalService) (*evaljob.Job, error) {
	evaluator, err := evaljob.NewCommandEvaluator(cfg.EvaluatorCommand, cfg.EvaluatorAPIURL, cfg.EvaluatorAPIKey, cfg.EvalWorkDir, cfg.EvaluatorPTY)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewWebhook(cfg.AlertWebhookURL, redact.New(cfg.EvaluatorAPIKey))
	return evaljob.New(evals, evals, evaluator, notifier, evaljob.Config{
		Concurrency: cfg.EvalConcurrency,
		TaskTimeout: cfg.EvalTimeout,
	}), nil
}

func runSchedule(ctx context.Context, job *evaljob.Job, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.WithField("interval", interval).Info("scheduled evaluation enabled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := job.Run(ctx)
			if err != nil {
				log.WithError(err).Error("scheduled evaluation failed")
				continue
			}
			log.WithFields(log.Fields{"run_id": summary.RunID, "evaluations": len(summary.Outcomes), "failed": summary.Failed()}).Info("scheduled evaluation finished")
		}
	}
}

func waitForShutdown(server *grpc.Server, httpServer *http.Server) {
	log.Info("shutdown signal received; draining gRPC server")
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Warn("graceful timeout reached; forcing stop")
		server.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown warning: %v", err)
	}
}
