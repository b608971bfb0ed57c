package model

import (
	"time"
)

// 分析任务状态
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusStale      = "stale" // 结果被更新的 attempt 覆盖，未写回报告
)

// ReportJob 每次分发对应一条任务记录
type ReportJob struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	ReportID     string     `gorm:"size:36;not null;index" json:"reportId"`
	UserID       string     `gorm:"size:36;not null;index" json:"userId"`
	Attempt      int        `gorm:"not null" json:"attempt"`
	Website      string     `gorm:"size:500;not null" json:"website"`
	Status       string     `gorm:"size:20;default:queued;index" json:"status"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ElapsedMs    int64      `json:"elapsedMs,omitempty"`
}

func (ReportJob) TableName() string {
	return "report_jobs"
}
