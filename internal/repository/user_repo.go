package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

// MarkVerified 标记邮箱已验证
func (r *UserRepository) MarkVerified(ctx context.Context, email string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).
		Update("is_verified", true).Error
}

func (r *UserRepository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).
		Update("password_hash", passwordHash).Error
}
