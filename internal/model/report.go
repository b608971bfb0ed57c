package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 报告状态
const (
	ReportStatusPending    = "pending"
	ReportStatusProcessing = "processing"
	ReportStatusCompleted  = "completed"
	ReportStatusFailed     = "failed"
)

const DefaultReportOptions = "Default"

type Report struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;not null;index" json:"userId"`
	Website      string    `gorm:"size:500;not null" json:"website"`
	Options      string    `gorm:"size:50;default:Default" json:"options"`
	Status       string    `gorm:"size:20;default:pending;index" json:"status"`
	ReportData   JSONMap   `gorm:"type:json" json:"reportData,omitempty"`
	ManualChecks BoolMap   `gorm:"type:json" json:"manualChecks,omitempty"`
	Attempt      int       `gorm:"not null;default:0" json:"attempt"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Report) TableName() string {
	return "reports"
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsTerminal 是否为终态
func (r *Report) IsTerminal() bool {
	return r.Status == ReportStatusCompleted || r.Status == ReportStatusFailed
}
