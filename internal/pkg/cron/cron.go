package cron

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/internal/pkg/metrics"
)

// OTPCleaner 删除过期验证码
type OTPCleaner interface {
	CleanupExpiredOTPs(ctx context.Context) (int64, error)
}

type Service struct {
	cleaner  OTPCleaner
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewService(cleaner OTPCleaner, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Service{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger.With().Str("component", "cron").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runCleanup()
	s.logger.Info().Dur("interval", s.interval).Msg("cron service started (otp cleanup)")
}

// Stop 停止定时任务，可重复调用
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Info().Msg("cron service stopped")
	})
}

// runCleanup 按间隔清理过期验证码
func (s *Service) runCleanup() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			_, _ = s.RunNow(ctx)
			cancel()
		}
	}
}

// RunNow 立即执行一次清理（用于测试或手动触发）
func (s *Service) RunNow(ctx context.Context) (int64, error) {
	if s.cleaner == nil {
		return 0, nil
	}

	deleted, err := s.cleaner.CleanupExpiredOTPs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to cleanup expired otps")
		return 0, err
	}

	metrics.OTPCleanupDeleted.Add(float64(deleted))
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("expired otps removed")
	}
	return deleted, nil
}
