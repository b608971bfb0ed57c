package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
)

// 元数据列，不含 report_data / manual_checks
var reportMetaColumns = []string{"id", "user_id", "website", "options", "status", "attempt", "created_at", "updated_at"}

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, report *model.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// GetByID 不做归属校验，仅用于公开分享与 worker
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*model.Report, error) {
	var report model.Report
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetMeta 不做归属校验的元数据读取，worker 与公开缓存用来核对 attempt
func (r *ReportRepository) GetMeta(ctx context.Context, id string) (*model.Report, error) {
	var report model.Report
	err := r.db.WithContext(ctx).Select(reportMetaColumns).Where("id = ?", id).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetForUser 按归属查询完整报告
func (r *ReportRepository) GetForUser(ctx context.Context, id, userID string) (*model.Report, error) {
	var report model.Report
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetMetaForUser 只读元数据列，用于状态轮询
func (r *ReportRepository) GetMetaForUser(ctx context.Context, id, userID string) (*model.Report, error) {
	var report model.Report
	err := r.db.WithContext(ctx).Select(reportMetaColumns).
		Where("id = ? AND user_id = ?", id, userID).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Claim 将报告切换为 processing 并推进 attempt。
// 以 attempt 作为比较值，onlyPending 时额外要求当前状态为 pending。
// 返回 false 表示被其他请求抢先。
func (r *ReportRepository) Claim(ctx context.Context, id, userID string, fromAttempt int, onlyPending bool) (bool, error) {
	query := r.db.WithContext(ctx).Model(&model.Report{}).
		Where("id = ? AND user_id = ? AND attempt = ?", id, userID, fromAttempt)
	if onlyPending {
		query = query.Where("status = ?", model.ReportStatusPending)
	}

	result := query.Updates(map[string]interface{}{
		"status":      model.ReportStatusProcessing,
		"report_data": gorm.Expr("NULL"),
		"attempt":     fromAttempt + 1,
		"updated_at":  time.Now(),
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FinishAttempt 写入分析终态，仅当 attempt 仍然匹配且处于 processing
func (r *ReportRepository) FinishAttempt(ctx context.Context, id string, attempt int, status string, data model.JSONMap) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Report{}).
		Where("id = ? AND attempt = ? AND status = ?", id, attempt, model.ReportStatusProcessing).
		Updates(map[string]interface{}{
			"status":      status,
			"report_data": data,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateData 替换已完成报告的数据与人工覆盖
func (r *ReportRepository) UpdateData(ctx context.Context, id, userID string, data model.JSONMap, checks model.BoolMap) (bool, error) {
	fields := map[string]interface{}{
		"report_data":   data,
		"manual_checks": checks,
		"updated_at":    time.Now(),
	}
	if checks == nil {
		fields["manual_checks"] = gorm.Expr("NULL")
	}

	result := r.db.WithContext(ctx).Model(&model.Report{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, model.ReportStatusCompleted).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Delete 硬删除，返回是否删除了记录
func (r *ReportRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Report{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByUser 获取用户报告元数据，按创建时间倒序
func (r *ReportRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Report, error) {
	var reports []*model.Report
	err := r.db.WithContext(ctx).Select(reportMetaColumns).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}
