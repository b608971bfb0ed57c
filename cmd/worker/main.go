package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/database"
	"github.com/seomaster/report_server/internal/pkg/analyzer"
	"github.com/seomaster/report_server/internal/pkg/cache"
	"github.com/seomaster/report_server/internal/pkg/logger"
	"github.com/seomaster/report_server/internal/pkg/oss"
	"github.com/seomaster/report_server/internal/pkg/pubsub"
	"github.com/seomaster/report_server/internal/pkg/queue"
	"github.com/seomaster/report_server/internal/repository"
	"github.com/seomaster/report_server/internal/worker"
)

// 与 server 的公开缓存保持一致
const publicCacheTTL = time.Hour

var configPath = flag.String("config", "config.yaml", "Path to config file")

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Log), "worker")

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	log.Info().Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()
	log.Info().Msg("redis connected")

	// 创建任务处理器
	processor := worker.NewProcessor(
		repository.NewReportRepository(db),
		repository.NewJobRepository(db),
		analyzer.NewClient(&cfg.Analyzer),
		log,
	).WithPublisher(pubsub.NewPublisher(rdb)).
		WithCache(cache.NewReportCache(rdb, publicCacheTTL))

	// 初始化 OSS（可选）
	if oss.Enabled(&cfg.OSS) {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn().Err(err).Msg("failed to init OSS client, snapshots disabled")
		} else {
			processor.WithArchiver(ossClient)
			log.Info().Msg("OSS client initialized")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	log.Info().Int("max_workers", cfg.Queue.MaxWorkers).Str("queue", cfg.Queue.AnalysisQueue).Msg("worker started")

	worker.RunPool(ctx, jobQueue, processor, cfg.Queue.MaxWorkers, log)
	log.Info().Msg("worker shutdown complete")
}
