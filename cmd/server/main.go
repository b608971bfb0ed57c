package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/api"
	"github.com/seomaster/report_server/internal/api/handler"
	"github.com/seomaster/report_server/internal/database"
	"github.com/seomaster/report_server/internal/dispatch"
	"github.com/seomaster/report_server/internal/pkg/analyzer"
	"github.com/seomaster/report_server/internal/pkg/cache"
	"github.com/seomaster/report_server/internal/pkg/cron"
	"github.com/seomaster/report_server/internal/pkg/email"
	"github.com/seomaster/report_server/internal/pkg/logger"
	"github.com/seomaster/report_server/internal/pkg/oss"
	"github.com/seomaster/report_server/internal/pkg/pubsub"
	"github.com/seomaster/report_server/internal/pkg/queue"
	"github.com/seomaster/report_server/internal/pkg/ws"
	"github.com/seomaster/report_server/internal/repository"
	"github.com/seomaster/report_server/internal/service"
	"github.com/seomaster/report_server/internal/worker"
)

const (
	publicCacheTTL     = time.Hour
	otpCleanupInterval = time.Hour
	shutdownTimeout    = 10 * time.Second
)

var configPath = flag.String("config", "config.yaml", "Path to config file")

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get sql.DB")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("redis connected")

	// 初始化 OSS（可选）
	var ossClient *oss.Client
	if oss.Enabled(&cfg.OSS) {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn().Err(err).Msg("failed to init OSS client, snapshots disabled")
		} else {
			log.Info().Str("bucket", cfg.OSS.BucketName).Msg("OSS client initialized")
		}
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	otpRepo := repository.NewOTPRepository(db)
	reportRepo := repository.NewReportRepository(db)
	jobRepo := repository.NewJobRepository(db)

	reportCache := cache.NewReportCache(rdb, publicCacheTTL)

	// 分发方式
	var (
		dispatcher dispatch.Dispatcher
		inline     *dispatch.InlineDispatcher
	)
	switch cfg.Queue.Mode {
	case "redis":
		dispatcher = dispatch.NewQueueDispatcher(queue.NewQueue(rdb, cfg.Queue.AnalysisQueue))
		log.Info().Str("queue", cfg.Queue.AnalysisQueue).Msg("dispatching to redis queue")
	default:
		processor := worker.NewProcessor(reportRepo, jobRepo, analyzer.NewClient(&cfg.Analyzer), log).
			WithPublisher(pubsub.NewPublisher(rdb)).
			WithCache(reportCache)
		if ossClient != nil {
			processor.WithArchiver(ossClient)
		}
		inline = dispatch.NewInlineDispatcher(processor, log)
		dispatcher = inline
		log.Info().Msg("dispatching inline")
	}

	// 初始化 Service
	reportService := service.NewReportService(reportRepo, jobRepo, dispatcher).
		WithCache(reportCache)
	if ossClient != nil {
		reportService.WithSnapshots(ossClient)
	}
	authService := service.NewAuthService(userRepo, otpRepo, email.NewService(&cfg.Email), &cfg.JWT)

	// WebSocket Hub
	hub := ws.NewHub(log)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService, handler.CookieOptions{
		MaxAge: cfg.JWT.ExpireHours * 3600,
		Secure: cfg.Server.Mode == "release",
	})
	reportHandler := handler.NewReportHandler(reportService)
	websocketHandler := handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins)

	health := func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}

	router := api.NewRouter(authHandler, reportHandler, websocketHandler, health, log, cfg)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup := cron.NewService(authService, otpCleanupInterval, log)
	cleanup.Start()
	defer cleanup.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// worker 发布的状态转发给在线用户
	g.Go(func() error {
		err := pubsub.NewSubscriber(rdb).Subscribe(gctx, hub.ForwardStatus)
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("status subscriber: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	// 未完成的分析最多再等 shutdownTimeout，之后取消并写入 failed
	if inline != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := inline.Shutdown(drainCtx); err != nil {
			log.Warn().Err(err).Msg("in-flight analyses cancelled")
		}
		cancel()
	}
	_ = rdb.Close()
	_ = sqlDB.Close()
	log.Info().Msg("server exited")
}
