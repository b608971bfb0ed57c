package testutil

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
)

// TestPassword 测试用户的明文密码
const TestPassword = "password123"

var testPasswordHash string

func passwordHash(t *testing.T) string {
	t.Helper()

	if testPasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("Failed to hash password: %v", err)
		}
		testPasswordHash = string(hash)
	}
	return testPasswordHash
}

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	user := &model.User{
		FirstName:    "Test",
		LastName:     "User",
		Email:        fmt.Sprintf("test_%d@example.com", time.Now().UnixNano()),
		PasswordHash: passwordHash(t),
		IsVerified:   true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = email
	}
}

// WithUnverified 设置为未验证邮箱
func WithUnverified() func(*model.User) {
	return func(u *model.User) {
		u.IsVerified = false
	}
}

// WithCompany 设置公司名
func WithCompany(name string) func(*model.User) {
	return func(u *model.User) {
		u.CompanyName = &name
	}
}

// TestReport 创建测试报告
func TestReport(t *testing.T, db *gorm.DB, userID string, opts ...func(*model.Report)) *model.Report {
	t.Helper()

	report := &model.Report{
		UserID:  userID,
		Website: fmt.Sprintf("https://site-%d.example.com", time.Now().UnixNano()%100000),
		Options: model.DefaultReportOptions,
		Status:  model.ReportStatusPending,
	}

	for _, opt := range opts {
		opt(report)
	}

	if err := db.Create(report).Error; err != nil {
		t.Fatalf("Failed to create test report: %v", err)
	}

	return report
}

// WithStatus 设置状态
func WithStatus(status string) func(*model.Report) {
	return func(r *model.Report) {
		r.Status = status
	}
}

// WithWebsite 设置网站
func WithWebsite(website string) func(*model.Report) {
	return func(r *model.Report) {
		r.Website = website
	}
}

// WithReportData 设置报告数据
func WithReportData(data model.JSONMap) func(*model.Report) {
	return func(r *model.Report) {
		r.ReportData = data
	}
}

// WithManualChecks 设置人工覆盖
func WithManualChecks(checks model.BoolMap) func(*model.Report) {
	return func(r *model.Report) {
		r.ManualChecks = checks
	}
}

// WithAttempt 设置分析次数
func WithAttempt(attempt int) func(*model.Report) {
	return func(r *model.Report) {
		r.Attempt = attempt
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.Report) {
	return func(r *model.Report) {
		r.CreatedAt = at
	}
}

// Completed 已完成报告
func Completed(data model.JSONMap) func(*model.Report) {
	return func(r *model.Report) {
		r.Status = model.ReportStatusCompleted
		r.ReportData = data
		if r.Attempt == 0 {
			r.Attempt = 1
		}
	}
}

// TestOTP 创建测试验证码
func TestOTP(t *testing.T, db *gorm.DB, email, code, otpType string, expiresAt time.Time) *model.OTP {
	t.Helper()

	otp := &model.OTP{
		Email:     email,
		Code:      code,
		Type:      otpType,
		ExpiresAt: expiresAt,
	}

	if err := db.Create(otp).Error; err != nil {
		t.Fatalf("Failed to create test otp: %v", err)
	}

	return otp
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, report *model.Report, status string) *model.ReportJob {
	t.Helper()

	job := &model.ReportJob{
		ReportID: report.ID,
		UserID:   report.UserID,
		Attempt:  report.Attempt,
		Website:  report.Website,
		Status:   status,
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}
