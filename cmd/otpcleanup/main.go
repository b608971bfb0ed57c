package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/database"
	"github.com/seomaster/report_server/internal/pkg/cron"
	"github.com/seomaster/report_server/internal/pkg/logger"
	"github.com/seomaster/report_server/internal/repository"
	"github.com/seomaster/report_server/internal/service"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	timeout    = flag.Duration("timeout", time.Minute, "Cleanup timeout")
)

// 一次性清理过期验证码，适合放在系统 cron 里
func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	// 只用到验证码仓库，不发送邮件
	authService := service.NewAuthService(
		repository.NewUserRepository(db),
		repository.NewOTPRepository(db),
		nil,
		&cfg.JWT,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deleted, err := cron.NewService(authService, 0, log).RunNow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("otp cleanup failed")
		os.Exit(1)
	}
	log.Info().Int64("deleted", deleted).Msg("otp cleanup completed")
}
