package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.ReportJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*model.ReportJob, error) {
	var job model.ReportJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByReport 报告的分析历史，最新在前
func (r *JobRepository) ListByReport(ctx context.Context, reportID string, limit int) ([]*model.ReportJob, error) {
	var jobs []*model.ReportJob
	err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("id DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// MarkProcessing 标记开始处理
func (r *JobRepository) MarkProcessing(ctx context.Context, id int64, startedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ReportJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     model.JobStatusProcessing,
		"started_at": startedAt,
	}).Error
}

// Finish 写入任务终态
func (r *JobRepository) Finish(ctx context.Context, id int64, status, errMsg string, elapsed time.Duration) error {
	return r.db.WithContext(ctx).Model(&model.ReportJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"completed_at":  time.Now(),
		"elapsed_ms":    elapsed.Milliseconds(),
	}).Error
}

// DeleteByReport 删除报告时清理任务记录
func (r *JobRepository) DeleteByReport(ctx context.Context, reportID string) error {
	return r.db.WithContext(ctx).Where("report_id = ?", reportID).Delete(&model.ReportJob{}).Error
}
