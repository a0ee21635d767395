package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"portfolio/internal/database"
	"portfolio/internal/errcode"
	"portfolio/internal/resume"
	"portfolio/internal/storage"
	"portfolio/internal/tasks"
)

// RenderFunc 将 HTML 转为 PDF。
type RenderFunc func(ctx context.Context, html string) ([]byte, error)

// PDFTaskHandler 负责消费 PDF 生成任务。
type PDFTaskHandler struct {
	db       *gorm.DB
	resumes  *resume.Service
	storage  storage.ObjectStore
	notifier Notifier
	render   RenderFunc
	logger   *slog.Logger
}

// NewPDFTaskHandler 创建任务处理器。
func NewPDFTaskHandler(
	db *gorm.DB,
	resumes *resume.Service,
	store storage.ObjectStore,
	notifier Notifier,
	render RenderFunc,
	logger *slog.Logger,
) *PDFTaskHandler {
	return &PDFTaskHandler{
		db:       db,
		resumes:  resumes,
		storage:  store,
		notifier: notifier,
		render:   render,
		logger:   logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PDFGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("resume_id", int(payload.ResumeID)),
	)
	log.Info("starting resume pdf generation")

	db := h.db.WithContext(ctx)
	var res database.Resume
	if err := db.First(&res, payload.ResumeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume not found, skipping task")
			return nil
		}
		log.Error("query resume failed", slog.Any("error", err))
		return err
	}
	var profile database.Profile
	if err := db.First(&profile, "id = ?", res.ProfileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("profile not found, skipping task")
			return nil
		}
		log.Error("query profile failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(profile.UserID)))

	failCode := errcode.SystemError
	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := PDFGenerationNotifyMessage{
			Status:        "error",
			ResumeID:      res.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     failCode,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishNotify(ctx, h.notifier, profile.UserID, notify); err != nil {
			log.Error("publish pdf error notification failed", slog.Any("error", err))
		}
	}()

	sections, err := h.resumes.Sections(ctx, &res)
	if err != nil {
		log.Error("load resume sections failed", slog.Any("error", err))
		return err
	}
	html, err := resume.RenderPrintHTML(resume.BuildPrintData(&profile, &res, sections))
	if err != nil {
		log.Error("render print html failed", slog.Any("error", err))
		return err
	}

	pdfBytes, err := h.render(ctx, string(html))
	if err != nil {
		log.Error("generate pdf failed", slog.Any("error", err))
		failCode = errcode.RenderFailed
		return err
	}

	objectName := storage.ResumePDFKey(profile.ID)
	if _, err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		failCode = errcode.StorageFailed
		return err
	}

	previous, err := h.resumes.SetPdfKey(ctx, res.ID, objectName)
	if err != nil {
		log.Error("update resume pdf key failed", slog.Any("error", err))
		_ = h.storage.DeleteObject(ctx, objectName)
		if errors.Is(err, resume.ErrResumeNotFound) {
			return nil
		}
		return err
	}
	if previous != "" && previous != objectName {
		if err := h.storage.DeleteObject(ctx, previous); err != nil {
			log.Warn("delete previous pdf failed", slog.String("object", previous), slog.Any("error", err))
		}
	}

	notify := PDFGenerationNotifyMessage{
		Status:        "completed",
		ResumeID:      res.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if empty := emptySections(sections); len(empty) == len(resume.Kinds) {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "Resume has no linked sections; only the header was exported."
		notify.MissingKeys = empty
		log.Warn("pdf generated without sections")
	}
	if err := publishNotify(ctx, h.notifier, profile.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("resume pdf generation completed", slog.String("object", objectName), slog.Int("bytes", len(pdfBytes)))
	return nil
}

func emptySections(sections map[string][]database.SectionItem) []string {
	var empty []string
	for _, k := range resume.Kinds {
		if len(sections[k.Plural]) == 0 {
			empty = append(empty, k.Plural)
		}
	}
	return empty
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
