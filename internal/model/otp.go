package model

import (
	"time"
)

// OTP 类型
const (
	OTPTypeEmailVerification = "email_verification"
	OTPTypePasswordReset     = "password_reset"
)

type OTP struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;not null;index" json:"email"`
	Code      string    `gorm:"size:4;not null" json:"-"`
	Type      string    `gorm:"size:30;not null;index" json:"type"`
	Verified  bool      `gorm:"default:false" json:"verified"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (OTP) TableName() string {
	return "otps"
}
