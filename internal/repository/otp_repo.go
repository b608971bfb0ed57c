package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
)

type OTPRepository struct {
	db *gorm.DB
}

func NewOTPRepository(db *gorm.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

func (r *OTPRepository) Create(ctx context.Context, otp *model.OTP) error {
	return r.db.WithContext(ctx).Create(otp).Error
}

// DeleteByEmailAndType 删除同类型的旧验证码
func (r *OTPRepository) DeleteByEmailAndType(ctx context.Context, email, otpType string) error {
	return r.db.WithContext(ctx).Where("email = ? AND type = ?", email, otpType).Delete(&model.OTP{}).Error
}

// FindUnverified 查找最新的未使用验证码
func (r *OTPRepository) FindUnverified(ctx context.Context, email, code, otpType string) (*model.OTP, error) {
	var otp model.OTP
	err := r.db.WithContext(ctx).
		Where("email = ? AND code = ? AND type = ? AND verified = ?", email, code, otpType, false).
		Order("created_at DESC").
		First(&otp).Error
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

// MarkVerified 仅当尚未使用时标记，返回是否成功
func (r *OTPRepository) MarkVerified(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.OTP{}).
		Where("id = ? AND verified = ?", id, false).
		Update("verified", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *OTPRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.OTP{}, id).Error
}

// DeleteExpired 清理过期验证码
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&model.OTP{})
	return result.RowsAffected, result.Error
}
