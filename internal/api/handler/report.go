package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/internal/api/middleware"
	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/pkg/response"
	"github.com/seomaster/report_server/internal/service"
)

// PublicCacheControl 公开报告的缓存头
const PublicCacheControl = "public, max-age=3600"

type ReportHandler struct {
	reportService *service.ReportService
}

func NewReportHandler(reportService *service.ReportService) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
	}
}

// Create 创建报告
// POST /api/reports
func (h *ReportHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "Website is required")
		return
	}

	resp, err := h.reportService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, "Report created", resp)
}

// List 当前用户的报告列表
// GET /api/reports
func (h *ReportHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	items, err := h.reportService.List(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, items)
}

// Get 读取报告，reanalyze 优先于 statusOnly
// GET /api/reports/:id?reanalyze=true&statusOnly=true
func (h *ReportHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	mode := service.ModeFull
	switch {
	case c.Query("reanalyze") == "true":
		mode = service.ModeReanalyze
	case c.Query("statusOnly") == "true":
		mode = service.ModeStatusOnly
	}

	detail, err := h.reportService.Get(c.Request.Context(), userID, c.Param("id"), mode)
	if err != nil {
		h.fail(c, err)
		return
	}

	if mode == service.ModeStatusOnly {
		response.Success(c, detail.StatusView())
		return
	}
	response.Success(c, detail)
}

// Update 整体替换 reportData
// PATCH /api/reports/:id
func (h *ReportHandler) Update(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.UpdateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, service.ErrReportDataRequired.Error())
		return
	}

	detail, err := h.reportService.Update(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Report updated", detail)
}

// Delete 删除报告
// DELETE /api/reports/:id
func (h *ReportHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if err := h.reportService.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Report deleted", nil)
}

// Jobs 分析分发历史
// GET /api/reports/:id/jobs
func (h *ReportHandler) Jobs(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	jobs, err := h.reportService.Jobs(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, jobs)
}

// Public 分享链接读取，无需登录
// GET /api/reports/public/:id
func (h *ReportHandler) Public(c *gin.Context) {
	report, err := h.reportService.GetPublic(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	// 进行中的状态不能被浏览器或 CDN 缓存
	if report.Status == model.ReportStatusCompleted {
		c.Header("Cache-Control", PublicCacheControl)
	}
	response.Success(c, report)
}

func (h *ReportHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrReportNotFound):
		response.NotFoundError(c, "Report not found")
	case errors.Is(err, service.ErrReportDataRequired),
		errors.Is(err, service.ErrReportNotCompleted),
		errors.Is(err, service.ErrInvalidManualChecks):
		response.ParamError(c, err.Error())
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("report request failed")
		response.ServerError(c, "")
	}
}
