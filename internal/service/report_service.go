package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/dispatch"
	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/pkg/metrics"
	"github.com/seomaster/report_server/internal/pkg/queue"
	"github.com/seomaster/report_server/internal/repository"
)

var (
	ErrReportNotFound      = errors.New("report not found")
	ErrReportNotCompleted  = errors.New("report is not completed yet")
	ErrReportDataRequired  = errors.New("reportData is required")
	ErrInvalidManualChecks = errors.New("manualChecks must map keys to booleans")
)

// ListLimit 列表最多返回条数
const ListLimit = 100

// manualChecksKey reportData 中人工覆盖表的字段名
const manualChecksKey = "manualChecks"

// Mode 读取方式
type Mode string

const (
	ModeFull       Mode = "full"
	ModeStatusOnly Mode = "statusOnly"
	ModeReanalyze  Mode = "reanalyze"
)

// PublicCache 公开报告缓存
type PublicCache interface {
	Get(ctx context.Context, id string, dest interface{}) (bool, error)
	Set(ctx context.Context, id string, value interface{}) error
	Invalidate(ctx context.Context, id string) error
}

// SnapshotStore 已归档的报告快照
type SnapshotStore interface {
	DeleteReportSnapshots(reportID string) (int, error)
}

type ReportService struct {
	reportRepo *repository.ReportRepository
	jobRepo    *repository.JobRepository
	dispatcher dispatch.Dispatcher
	cache      PublicCache
	snapshots  SnapshotStore
}

func NewReportService(
	reportRepo *repository.ReportRepository,
	jobRepo *repository.JobRepository,
	dispatcher dispatch.Dispatcher,
) *ReportService {
	return &ReportService{
		reportRepo: reportRepo,
		jobRepo:    jobRepo,
		dispatcher: dispatcher,
	}
}

// WithCache 启用公开报告缓存
func (s *ReportService) WithCache(cache PublicCache) *ReportService {
	s.cache = cache
	return s
}

// WithSnapshots 删除报告时同时清理归档
func (s *ReportService) WithSnapshots(store SnapshotStore) *ReportService {
	s.snapshots = store
	return s
}

// Create 创建报告，首次读取时才分发分析
func (s *ReportService) Create(ctx context.Context, userID string, req *dto.CreateReportRequest) (*dto.ReportMeta, error) {
	options := req.Options
	if options == "" {
		options = model.DefaultReportOptions
	}

	report := &model.Report{
		UserID:  userID,
		Website: req.Website,
		Options: options,
		Status:  model.ReportStatusPending,
	}
	if err := s.reportRepo.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("report_id", report.ID).
		Str("website", report.Website).
		Msg("report created")

	return buildReportMeta(report), nil
}

// Get 读取报告。pending 或 reanalyze 时切换为 processing 并分发分析。
// statusOnly 不加载 reportData。
func (s *ReportService) Get(ctx context.Context, userID, id string, mode Mode) (*dto.ReportDetail, error) {
	report, err := s.load(ctx, userID, id, mode)
	if err != nil {
		return nil, err
	}

	if report.Status == model.ReportStatusPending || mode == ModeReanalyze {
		report, err = s.claim(ctx, report, mode)
		if err != nil {
			return nil, err
		}
	}

	return buildReportDetail(report), nil
}

func (s *ReportService) load(ctx context.Context, userID, id string, mode Mode) (*model.Report, error) {
	var (
		report *model.Report
		err    error
	)
	if mode == ModeStatusOnly {
		report, err = s.reportRepo.GetMetaForUser(ctx, id, userID)
	} else {
		report, err = s.reportRepo.GetForUser(ctx, id, userID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("load report: %w", err)
	}
	return report, nil
}

// claim 以 attempt 为版本号抢占；抢占失败说明其他请求已分发，返回最新状态
func (s *ReportService) claim(ctx context.Context, report *model.Report, mode Mode) (*model.Report, error) {
	logger := zerolog.Ctx(ctx).With().Str("report_id", report.ID).Logger()

	onlyPending := mode != ModeReanalyze
	claimed, err := s.reportRepo.Claim(ctx, report.ID, report.UserID, report.Attempt, onlyPending)
	if err != nil {
		return nil, fmt.Errorf("claim report: %w", err)
	}
	if !claimed {
		metrics.ClaimTotal.WithLabelValues(string(mode), "lost").Inc()
		logger.Debug().Int("attempt", report.Attempt).Msg("claim lost, returning current state")
		return s.load(ctx, report.UserID, report.ID, mode)
	}
	metrics.ClaimTotal.WithLabelValues(string(mode), "won").Inc()

	report.Status = model.ReportStatusProcessing
	report.ReportData = nil
	report.Attempt++
	report.UpdatedAt = time.Now()

	s.invalidate(ctx, report.ID)
	if errData := s.dispatch(ctx, report); errData != nil {
		report.Status = model.ReportStatusFailed
		report.ReportData = errData
		return report, nil
	}

	logger.Info().Int("attempt", report.Attempt).Str("mode", string(mode)).Msg("analysis dispatched")
	return report, nil
}

// dispatch 记录任务并交给分发器，不等待结果。
// 分发器拒绝时报告直接落为 failed，返回写入的错误数据。
func (s *ReportService) dispatch(ctx context.Context, report *model.Report) model.JSONMap {
	logger := zerolog.Ctx(ctx)

	job := &model.ReportJob{
		ReportID: report.ID,
		UserID:   report.UserID,
		Attempt:  report.Attempt,
		Website:  report.Website,
		Status:   model.JobStatusQueued,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		logger.Warn().Err(err).Str("report_id", report.ID).Msg("failed to record dispatch job")
	}

	msg := &queue.DispatchMessage{
		JobID:    job.ID,
		ReportID: report.ID,
		UserID:   report.UserID,
		Website:  report.Website,
		Attempt:  report.Attempt,
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		logger.Error().Err(err).Str("report_id", report.ID).Msg("dispatch failed")
		metrics.DispatchTotal.WithLabelValues(metrics.ResultError).Inc()

		if job.ID != 0 {
			_ = s.jobRepo.Finish(ctx, job.ID, model.JobStatusFailed, err.Error(), 0)
		}

		data := model.JSONMap{"error": "Failed to start analysis"}
		if _, err := s.reportRepo.FinishAttempt(ctx, report.ID, report.Attempt, model.ReportStatusFailed, data); err != nil {
			logger.Error().Err(err).Str("report_id", report.ID).Msg("failed to mark report failed")
		}
		return data
	}
	return nil
}

// Update 整体替换 reportData，仅允许已完成的报告
func (s *ReportService) Update(ctx context.Context, userID, id string, req *dto.UpdateReportRequest) (*dto.ReportDetail, error) {
	if req.ReportData == nil {
		return nil, ErrReportDataRequired
	}

	data, checks, err := splitManualChecks(req.ReportData)
	if err != nil {
		return nil, err
	}

	updated, err := s.reportRepo.UpdateData(ctx, id, userID, data, checks)
	if err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	if !updated {
		if _, err := s.load(ctx, userID, id, ModeStatusOnly); err != nil {
			return nil, err
		}
		return nil, ErrReportNotCompleted
	}

	s.invalidate(ctx, id)

	report, err := s.load(ctx, userID, id, ModeFull)
	if err != nil {
		return nil, err
	}
	return buildReportDetail(report), nil
}

// Delete 硬删除报告及其分发记录
func (s *ReportService) Delete(ctx context.Context, userID, id string) error {
	deleted, err := s.reportRepo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if !deleted {
		return ErrReportNotFound
	}

	logger := zerolog.Ctx(ctx).With().Str("report_id", id).Logger()

	if err := s.jobRepo.DeleteByReport(ctx, id); err != nil {
		logger.Warn().Err(err).Msg("failed to delete dispatch jobs")
	}
	s.invalidate(ctx, id)

	if s.snapshots != nil {
		if n, err := s.snapshots.DeleteReportSnapshots(id); err != nil {
			logger.Warn().Err(err).Msg("failed to delete report snapshots")
		} else if n > 0 {
			logger.Debug().Int("count", n).Msg("report snapshots deleted")
		}
	}

	logger.Info().Msg("report deleted")
	return nil
}

// List 报告元数据，新的在前
func (s *ReportService) List(ctx context.Context, userID string) ([]*dto.ReportMeta, error) {
	reports, err := s.reportRepo.ListByUser(ctx, userID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	items := make([]*dto.ReportMeta, len(reports))
	for i, r := range reports {
		items[i] = buildReportMeta(r)
	}
	return items, nil
}

// Jobs 报告的分发历史
func (s *ReportService) Jobs(ctx context.Context, userID, id string) ([]*dto.ReportJobInfo, error) {
	if _, err := s.load(ctx, userID, id, ModeStatusOnly); err != nil {
		return nil, err
	}

	jobs, err := s.jobRepo.ListByReport(ctx, id, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	items := make([]*dto.ReportJobInfo, len(jobs))
	for i, j := range jobs {
		items[i] = &dto.ReportJobInfo{
			ID:           j.ID,
			Attempt:      j.Attempt,
			Status:       j.Status,
			ErrorMessage: j.ErrorMessage,
			CreatedAt:    j.CreatedAt.Format(time.RFC3339),
			ElapsedMs:    j.ElapsedMs,
		}
		if j.CompletedAt != nil {
			items[i].CompletedAt = j.CompletedAt.Format(time.RFC3339)
		}
	}
	return items, nil
}

// GetPublic 分享链接读取，无需登录；已完成的报告会被缓存
func (s *ReportService) GetPublic(ctx context.Context, id string) (*dto.PublicReport, error) {
	logger := zerolog.Ctx(ctx)

	if s.cache != nil {
		var cached dto.PublicReport
		hit, err := s.cache.Get(ctx, id, &cached)
		if err != nil {
			logger.Warn().Err(err).Str("report_id", id).Msg("public cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	report, err := s.reportRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("load public report: %w", err)
	}

	view := &dto.PublicReport{
		ID:      report.ID,
		Status:  report.Status,
		Website: report.Website,
	}
	if report.Status != model.ReportStatusCompleted {
		return view, nil
	}

	view.Options = report.Options
	view.ReportData = mergeManualChecks(report.ReportData, report.ManualChecks)
	view.CreatedAt = report.CreatedAt.Format(time.RFC3339)
	view.UpdatedAt = report.UpdatedAt.Format(time.RFC3339)

	if s.cache != nil {
		s.cachePublic(ctx, report, view)
	}
	return view, nil
}

// cachePublic 写入后再核对 attempt：读取与写入之间若发生重新分析，撤销这次写入
func (s *ReportService) cachePublic(ctx context.Context, report *model.Report, view *dto.PublicReport) {
	logger := zerolog.Ctx(ctx).With().Str("report_id", report.ID).Logger()

	if err := s.cache.Set(ctx, report.ID, view); err != nil {
		logger.Warn().Err(err).Msg("public cache write failed")
		return
	}

	current, err := s.reportRepo.GetMeta(ctx, report.ID)
	if err == nil && current.Attempt == report.Attempt && current.Status == model.ReportStatusCompleted {
		return
	}
	logger.Debug().Msg("report changed while caching, dropping public cache entry")
	s.invalidate(ctx, report.ID)
}

func (s *ReportService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("report_id", id).Msg("public cache invalidate failed")
	}
}

// splitManualChecks 从提交的 reportData 中拆出人工覆盖表
func splitManualChecks(in map[string]interface{}) (model.JSONMap, model.BoolMap, error) {
	data := make(model.JSONMap, len(in))
	for k, v := range in {
		data[k] = v
	}

	raw, ok := data[manualChecksKey]
	if !ok {
		return data, nil, nil
	}
	delete(data, manualChecksKey)

	if raw == nil {
		return data, nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, nil, ErrInvalidManualChecks
	}
	if len(m) == 0 {
		return data, nil, nil
	}

	checks := make(model.BoolMap, len(m))
	for k, v := range m {
		b, ok := v.(bool)
		if !ok {
			return nil, nil, ErrInvalidManualChecks
		}
		checks[k] = b
	}
	return data, checks, nil
}

// mergeManualChecks 读取时把人工覆盖放回 reportData
func mergeManualChecks(data model.JSONMap, checks model.BoolMap) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if len(checks) > 0 {
		m := make(map[string]interface{}, len(checks))
		for k, v := range checks {
			m[k] = v
		}
		out[manualChecksKey] = m
	}
	return out
}

func buildReportMeta(r *model.Report) *dto.ReportMeta {
	return &dto.ReportMeta{
		ID:        r.ID,
		Website:   r.Website,
		Options:   r.Options,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

func buildReportDetail(r *model.Report) *dto.ReportDetail {
	return &dto.ReportDetail{
		ID:         r.ID,
		Website:    r.Website,
		Options:    r.Options,
		Status:     r.Status,
		ReportData: mergeManualChecks(r.ReportData, r.ManualChecks),
		Attempt:    r.Attempt,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
}
