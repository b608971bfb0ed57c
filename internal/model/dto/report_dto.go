package dto

// CreateReportRequest 创建报告请求
type CreateReportRequest struct {
	Website string `json:"website" binding:"required,max=500"`
	Options string `json:"options,omitempty" binding:"omitempty,max=50"`
}

// UpdateReportRequest 整体替换 reportData，manualChecks 随 reportData 一起提交
type UpdateReportRequest struct {
	ReportData map[string]interface{} `json:"reportData" binding:"required"`
}

// ReportMeta 报告元数据（列表与创建响应）
type ReportMeta struct {
	ID        string `json:"id"`
	Website   string `json:"website"`
	Options   string `json:"options"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ReportStatus statusOnly 轮询响应，不含 reportData
type ReportStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ReportDetail 完整报告
type ReportDetail struct {
	ID         string                 `json:"id"`
	Website    string                 `json:"website"`
	Options    string                 `json:"options"`
	Status     string                 `json:"status"`
	ReportData map[string]interface{} `json:"reportData,omitempty"`
	Attempt    int                    `json:"attempt"`
	CreatedAt  string                 `json:"createdAt"`
	UpdatedAt  string                 `json:"updatedAt"`
}

// StatusView 只保留轮询字段
func (d *ReportDetail) StatusView() *ReportStatus {
	return &ReportStatus{
		ID:        d.ID,
		Status:    d.Status,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// PublicReport 分享链接读取，未完成时只有 id/status/website
type PublicReport struct {
	ID         string                 `json:"id"`
	Status     string                 `json:"status"`
	Website    string                 `json:"website"`
	Options    string                 `json:"options,omitempty"`
	ReportData map[string]interface{} `json:"reportData,omitempty"`
	CreatedAt  string                 `json:"createdAt,omitempty"`
	UpdatedAt  string                 `json:"updatedAt,omitempty"`
}

// ReportJobInfo 分发记录
type ReportJobInfo struct {
	ID           int64  `json:"id"`
	Attempt      int    `json:"attempt"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
	CompletedAt  string `json:"completedAt,omitempty"`
	ElapsedMs    int64  `json:"elapsedMs,omitempty"`
}
