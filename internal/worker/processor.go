package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/pkg/metrics"
	"github.com/seomaster/report_server/internal/pkg/pubsub"
	"github.com/seomaster/report_server/internal/pkg/queue"
	"github.com/seomaster/report_server/internal/repository"
)

// Analyzer 外部分析服务
type Analyzer interface {
	Analyze(ctx context.Context, website, reportID string) (map[string]interface{}, error)
}

// StatusPublisher 推送报告状态变化
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg *pubsub.StatusMessage) error
}

// Archiver 归档已完成报告
type Archiver interface {
	UploadReportSnapshot(reportID string, attempt int, data []byte) (string, error)
}

// CacheInvalidator 写回终态后清理公开报告缓存
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Processor 任务处理器
type Processor struct {
	reportRepo *repository.ReportRepository
	jobRepo    *repository.JobRepository
	analyzer   Analyzer
	publisher  StatusPublisher
	archiver   Archiver
	cache      CacheInvalidator
	logger     zerolog.Logger
}

// NewProcessor 创建任务处理器
func NewProcessor(
	reportRepo *repository.ReportRepository,
	jobRepo *repository.JobRepository,
	analyzer Analyzer,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		reportRepo: reportRepo,
		jobRepo:    jobRepo,
		analyzer:   analyzer,
		logger:     logger.With().Str("component", "processor").Logger(),
	}
}

// WithPublisher 启用状态推送
func (p *Processor) WithPublisher(publisher StatusPublisher) *Processor {
	p.publisher = publisher
	return p
}

// WithArchiver 启用 OSS 归档
func (p *Processor) WithArchiver(archiver Archiver) *Processor {
	p.archiver = archiver
	return p
}

// WithCache 写回后清理公开缓存
func (p *Processor) WithCache(cache CacheInvalidator) *Processor {
	p.cache = cache
	return p
}

// Process 调用分析服务并写回终态。
// 写回以 attempt 为条件，被更新的分析覆盖时结果直接丢弃。
func (p *Processor) Process(ctx context.Context, msg *queue.DispatchMessage) error {
	logger := p.logger.With().
		Str("report_id", msg.ReportID).
		Int("attempt", msg.Attempt).
		Int64("job_id", msg.JobID).
		Logger()

	// 关停时分析请求可能被取消，终态仍需写入
	writeCtx := context.WithoutCancel(ctx)

	// 排队期间报告可能已被删除、重新分析或已结束
	if stale, reason := p.superseded(writeCtx, logger, msg); stale {
		metrics.DispatchTotal.WithLabelValues(metrics.ResultStale).Inc()
		p.finishJob(writeCtx, logger, msg.JobID, model.JobStatusStale, reason, 0)
		logger.Info().Str("reason", reason).Msg("skipping superseded dispatch")
		return nil
	}

	startedAt := time.Now()
	if msg.JobID != 0 {
		if err := p.jobRepo.MarkProcessing(writeCtx, msg.JobID, startedAt); err != nil {
			logger.Warn().Err(err).Msg("failed to mark job processing")
		}
	}

	logger.Info().Str("website", msg.Website).Msg("analysis started")

	metrics.DispatchInFlight.Inc()
	data, analyzeErr := p.analyzer.Analyze(ctx, msg.Website, msg.ReportID)
	metrics.DispatchInFlight.Dec()

	elapsed := time.Since(startedAt)
	metrics.DispatchDuration.Observe(elapsed.Seconds())

	status := model.ReportStatusCompleted
	payload := model.JSONMap(data)
	errMsg := ""
	if analyzeErr != nil {
		status = model.ReportStatusFailed
		errMsg = analyzeErr.Error()
		payload = model.JSONMap{"error": errMsg}
	}

	written, err := p.reportRepo.FinishAttempt(writeCtx, msg.ReportID, msg.Attempt, status, payload)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(metrics.ResultError).Inc()
		p.finishJob(writeCtx, logger, msg.JobID, model.JobStatusFailed, err.Error(), elapsed)
		return fmt.Errorf("failed to write analysis result: %w", err)
	}

	if !written {
		metrics.DispatchTotal.WithLabelValues(metrics.ResultStale).Inc()
		p.finishJob(writeCtx, logger, msg.JobID, model.JobStatusStale, errMsg, elapsed)
		logger.Info().Str("status", status).Msg("stale analysis result dropped")
		return nil
	}

	metrics.DispatchTotal.WithLabelValues(status).Inc()
	p.finishJob(writeCtx, logger, msg.JobID, status, errMsg, elapsed)
	p.invalidate(writeCtx, logger, msg.ReportID)
	p.publish(writeCtx, logger, msg, status, errMsg)

	if analyzeErr != nil {
		return fmt.Errorf("analysis failed: %w", analyzeErr)
	}

	p.archive(logger, msg, data)
	logger.Info().Dur("elapsed", elapsed).Msg("analysis completed")
	return nil
}

// superseded 读取失败时照常分析，写回仍受 attempt 条件保护
func (p *Processor) superseded(ctx context.Context, logger zerolog.Logger, msg *queue.DispatchMessage) (bool, string) {
	current, err := p.reportRepo.GetMeta(ctx, msg.ReportID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, "report deleted"
		}
		logger.Warn().Err(err).Msg("failed to check report before analysis")
		return false, ""
	}
	if current.Attempt != msg.Attempt {
		return true, fmt.Sprintf("superseded by attempt %d", current.Attempt)
	}
	if current.IsTerminal() {
		return true, "attempt already " + current.Status
	}
	return false, ""
}

func (p *Processor) invalidate(ctx context.Context, logger zerolog.Logger, reportID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, reportID); err != nil {
		logger.Warn().Err(err).Msg("failed to invalidate public cache")
	}
}

func (p *Processor) finishJob(ctx context.Context, logger zerolog.Logger, jobID int64, status, errMsg string, elapsed time.Duration) {
	if jobID == 0 {
		return
	}
	if err := p.jobRepo.Finish(ctx, jobID, status, errMsg, elapsed); err != nil {
		logger.Warn().Err(err).Msg("failed to finish job")
	}
}

func (p *Processor) publish(ctx context.Context, logger zerolog.Logger, msg *queue.DispatchMessage, status, errMsg string) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.PublishStatus(ctx, &pubsub.StatusMessage{
		UserID:   msg.UserID,
		ReportID: msg.ReportID,
		Status:   status,
		Attempt:  msg.Attempt,
		Error:    errMsg,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to publish status")
	}
}

// archive 归档失败只记录日志
func (p *Processor) archive(logger zerolog.Logger, msg *queue.DispatchMessage, data map[string]interface{}) {
	if p.archiver == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to marshal snapshot")
		return
	}
	url, err := p.archiver.UploadReportSnapshot(msg.ReportID, msg.Attempt, raw)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to archive snapshot")
		return
	}
	logger.Debug().Str("url", url).Msg("snapshot archived")
}
