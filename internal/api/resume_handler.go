package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"portfolio/internal/accounts"
	"portfolio/internal/api/middleware"
	"portfolio/internal/database"
	"portfolio/internal/resume"
	"portfolio/internal/storage"
	"portfolio/internal/tasks"
)

const downloadLinkTTL = 5 * time.Minute

// ResumeHandler 负责处理与简历相关的 API 请求。
type ResumeHandler struct {
	resumes  *resume.Service
	accounts *accounts.Service
	queue    TaskEnqueuer
	storage  storage.ObjectStore
	logger   *slog.Logger
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(resumes *resume.Service, accountsSvc *accounts.Service, queue TaskEnqueuer, store storage.ObjectStore, logger *slog.Logger) *ResumeHandler {
	return &ResumeHandler{
		resumes:  resumes,
		accounts: accountsSvc,
		queue:    queue,
		storage:  store,
		logger:   logger,
	}
}

type resumeRequest struct {
	Title   string `json:"title" binding:"required,max=100"`
	Summary string `json:"summary"`
}

type resumeDetailResponse struct {
	Resume   *database.Resume                  `json:"resume"`
	Sections map[string][]database.SectionItem `json:"sections"`
	HasPDF   bool                              `json:"has_pdf"`
}

// writeResumeError 映射简历服务的错误。
func writeResumeError(c *gin.Context, logger *slog.Logger, err error, action string) {
	switch {
	case errors.Is(err, resume.ErrResumeNotFound):
		NotFound(c, resume.ErrResumeNotFound.Error())
	case errors.Is(err, resume.ErrItemNotFound):
		NotFound(c, resume.ErrItemNotFound.Error())
	case errors.Is(err, resume.ErrUnknownSection):
		NotFound(c, resume.ErrUnknownSection.Error())
	case errors.Is(err, resume.ErrInvalidResumeLinks),
		errors.Is(err, resume.ErrInvalidPosition),
		errors.Is(err, resume.ErrTitleRequired),
		errors.Is(err, database.ErrEndBeforeStart):
		BadRequest(c, err.Error())
	default:
		loggerFor(c, logger).Error(action+" failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

// loadResume 解析路由中的简历 ID 并校验归属，非本人简历一律 404。
func (h *ResumeHandler) loadResume(c *gin.Context, profile *database.Profile) (*database.Resume, bool) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		NotFound(c, resume.ErrResumeNotFound.Error())
		return nil, false
	}
	r, err := h.resumes.GetResume(c.Request.Context(), profile.ID, id)
	if err != nil {
		writeResumeError(c, h.logger, err, "load resume")
		return nil, false
	}
	return r, true
}

// Dashboard 返回全部简历与各类条目。
func (h *ResumeHandler) Dashboard(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	dashboard, err := h.resumes.Dashboard(c.Request.Context(), profile.ID)
	if err != nil {
		writeResumeError(c, h.logger, err, "load dashboard")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active_resume_id": profile.ActiveResumeID,
		"resumes":          dashboard.Resumes,
		"sections":         dashboard.Sections,
	})
}

// ListResumes 按标题列出简历。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	resumes, err := h.resumes.ListResumes(c.Request.Context(), profile.ID)
	if err != nil {
		writeResumeError(c, h.logger, err, "list resumes")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": resumes})
}

// CreateResume 新建简历并设为当前简历。
func (h *ResumeHandler) CreateResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}

	created, err := h.resumes.CreateResume(c.Request.Context(), profile, req.Title, req.Summary)
	if err != nil {
		writeResumeError(c, h.logger, err, "create resume")
		return
	}

	editURL := fmt.Sprintf("/v1/resumes/%d", created.ID)
	c.Header("Location", editURL)
	c.JSON(http.StatusCreated, gin.H{"resume": created, "edit_url": editURL})
}

// GetResume 返回简历及其关联条目，并设为当前简历。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	r, ok := h.loadResume(c, profile)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sections, err := h.resumes.Sections(ctx, r)
	if err != nil {
		writeResumeError(c, h.logger, err, "load sections")
		return
	}
	if err := h.resumes.MarkActive(ctx, profile, r.ID); err != nil {
		writeResumeError(c, h.logger, err, "mark active resume")
		return
	}
	c.JSON(http.StatusOK, resumeDetailResponse{Resume: r, Sections: sections, HasPDF: r.PdfKey != ""})
}

// UpdateResume 修改标题与摘要。
func (h *ResumeHandler) UpdateResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		NotFound(c, resume.ErrResumeNotFound.Error())
		return
	}
	updated, err := h.resumes.UpdateResume(c.Request.Context(), profile, id, req.Title, req.Summary)
	if err != nil {
		writeResumeError(c, h.logger, err, "update resume")
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteResume 删除简历，条目保留，已生成的 PDF 一并删除。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		NotFound(c, resume.ErrResumeNotFound.Error())
		return
	}

	ctx := c.Request.Context()
	deleted, err := h.resumes.DeleteResume(ctx, profile, id)
	if err != nil {
		writeResumeError(c, h.logger, err, "delete resume")
		return
	}
	logger := loggerFor(c, h.logger).With(slog.Uint64("resume_id", uint64(id)))
	if deleted.PdfKey != "" {
		if err := h.storage.DeleteObject(ctx, deleted.PdfKey); err != nil {
			logger.Warn("delete resume pdf failed", slog.String("key", deleted.PdfKey), slog.Any("error", err))
		}
	}
	logger.Info("resume deleted")
	c.JSON(http.StatusOK, gin.H{"active_resume_id": profile.ActiveResumeID})
}

// LinkedSection 列出简历中某一类已关联的条目。
func (h *ResumeHandler) LinkedSection(c *gin.Context) {
	kind, err := resume.LookupKind(c.Param("section"))
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	r, ok := h.loadResume(c, profile)
	if !ok {
		return
	}
	items, err := h.resumes.LinkedItems(c.Request.Context(), r, kind)
	if err != nil {
		writeResumeError(c, h.logger, err, "list linked items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"resume_id": r.ID, "section": kind.Name, "items": items})
}

// PrintResume 返回可打印的 HTML。
func (h *ResumeHandler) PrintResume(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	r, ok := h.loadResume(c, profile)
	if !ok {
		return
	}
	html, err := h.resumes.PrintHTML(c.Request.Context(), profile, r)
	if err != nil {
		writeResumeError(c, h.logger, err, "render resume")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// DownloadResume 投递 PDF 生成任务，完成后经 WebSocket 通知。
func (h *ResumeHandler) DownloadResume(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	r, ok := h.loadResume(c, profile)
	if !ok {
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	logger := loggerFor(c, h.logger).With(slog.Uint64("resume_id", uint64(r.ID)))
	task, taskErr := tasks.NewPDFGenerateTask(r.ID, correlationID)
	info, err := enqueue(c.Request.Context(), h.queue, logger, task, taskErr, asynq.MaxRetry(5))
	if err != nil {
		Internal(c, "failed to enqueue pdf generation")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "PDF generation request accepted",
		"task_id": info.ID,
	})
}

// GetDownloadLink 生成简历 PDF 的预签名下载链接。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	r, ok := h.loadResume(c, profile)
	if !ok {
		return
	}

	if r.PdfKey == "" {
		NotFound(c, "pdf not generated yet")
		return
	}

	signedURL, err := h.storage.PresignDownload(c.Request.Context(), r.PdfKey, downloadLinkTTL, storage.PDFFilename(r.Title))
	if err != nil {
		loggerFor(c, h.logger).Error("generate download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL, "expires_in": int(downloadLinkTTL.Seconds())})
}
