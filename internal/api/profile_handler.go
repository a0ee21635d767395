package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"portfolio/internal/accounts"
	"portfolio/internal/storage"
	"portfolio/internal/tasks"
)

const photoURLTTL = 15 * time.Minute

// 允许的头像类型及其扩展名。
var photoExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// ProfileHandler 处理当前用户的资料、头像与 IP 记录。
type ProfileHandler struct {
	accounts      *accounts.Service
	storage       storage.ObjectStore
	scanner       FileScanner
	queue         TaskEnqueuer
	logger        *slog.Logger
	maxPhotoBytes int64
}

// NewProfileHandler 构造资料处理器；scanner 为 nil 时不做病毒扫描。
func NewProfileHandler(accountsSvc *accounts.Service, store storage.ObjectStore, scanner FileScanner, queue TaskEnqueuer, logger *slog.Logger, maxPhotoBytes int64) *ProfileHandler {
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = 5 << 20
	}
	return &ProfileHandler{
		accounts:      accountsSvc,
		storage:       store,
		scanner:       scanner,
		queue:         queue,
		logger:        logger,
		maxPhotoBytes: maxPhotoBytes,
	}
}

type profileRequest struct {
	FName       string `json:"fname" binding:"max=50"`
	MName       string `json:"mname" binding:"max=50"`
	LName       string `json:"lname" binding:"max=50"`
	Street1     string `json:"street1" binding:"max=100"`
	Street2     string `json:"street2" binding:"max=100"`
	City        string `json:"city" binding:"max=50"`
	State       string `json:"state" binding:"omitempty,len=2"`
	Zipcode     string `json:"zipcode" binding:"omitempty,len=5,digits"`
	HomePhone   string `json:"home_phone" binding:"omitempty,max=10,digits"`
	MobilePhone string `json:"mobile_phone" binding:"omitempty,max=10,digits"`
	WorkPhone   string `json:"work_phone" binding:"omitempty,max=10,digits"`
	Email       string `json:"email" binding:"required,email,max=200"`
	Preference  string `json:"preference" binding:"omitempty,oneof=home mobile work text email"`
}

// GetProfile 返回当前用户的资料。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile 保存资料，邮箱变更时重新发送验证邮件。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger).With(slog.String("profile_id", profile.ID.String()))

	emailChanged, err := h.accounts.UpdateProfile(ctx, profile, accounts.ProfileUpdate{
		FName:       strings.TrimSpace(req.FName),
		MName:       strings.TrimSpace(req.MName),
		LName:       strings.TrimSpace(req.LName),
		Street1:     strings.TrimSpace(req.Street1),
		Street2:     strings.TrimSpace(req.Street2),
		City:        strings.TrimSpace(req.City),
		State:       req.State,
		Zipcode:     req.Zipcode,
		HomePhone:   req.HomePhone,
		MobilePhone: req.MobilePhone,
		WorkPhone:   req.WorkPhone,
		Email:       req.Email,
		Preference:  req.Preference,
	})
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailDomainNotAllowed):
			BadRequest(c, "email domain is not allowed")
		case errors.Is(err, accounts.ErrEmailTaken):
			Conflict(c, "email already registered")
		default:
			logger.Error("update profile failed", slog.Any("error", err))
			Internal(c, "failed to update profile")
		}
		return
	}

	if emailChanged {
		task, taskErr := tasks.NewEmailVerificationTask(profile.ID)
		_, _ = enqueue(ctx, h.queue, logger, task, taskErr)
		logger.Info("profile email changed, verification requested")
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile, "email_changed": emailChanged})
}

// DeleteProfile 删除账号，并清理其在对象存储中的文件。
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger).With(slog.String("profile_id", profile.ID.String()))

	if err := h.accounts.DeleteProfile(ctx, profile.ID); err != nil {
		if errors.Is(err, accounts.ErrProfileNotFound) {
			NotFound(c, "profile not found")
			return
		}
		logger.Error("delete profile failed", slog.Any("error", err))
		Internal(c, "failed to delete profile")
		return
	}

	for _, prefix := range storage.ProfilePrefixes(profile.ID) {
		if err := h.storage.DeletePrefix(ctx, prefix); err != nil {
			logger.Warn("delete stored objects failed", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}
	logger.Info("profile deleted")
	c.Status(http.StatusNoContent)
}

// UploadPhoto 校验类型与大小、扫描病毒后上传头像，并删除旧头像。
func (h *ProfileHandler) UploadPhoto(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	logger := loggerFor(c, h.logger).With(slog.String("profile_id", profile.ID.String()))

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size > h.maxPhotoBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	mtype, err := mimetype.DetectReader(fileReader)
	if err != nil {
		BadRequest(c, "unreadable file")
		return
	}
	ext, allowed := photoExtensions[mtype.String()]
	if !allowed {
		BadRequest(c, "unsupported image type")
		return
	}

	if h.scanner != nil {
		if _, err := fileReader.Seek(0, io.SeekStart); err != nil {
			Internal(c, "failed to read file")
			return
		}
		if err := h.scanner.Scan(fileReader); err != nil {
			if errors.Is(err, errMaliciousFile) {
				logger.Warn("malicious upload rejected")
				BadRequest(c, errMaliciousFile.Error())
				return
			}
			logger.Error("scan file failed", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}
	if _, err := fileReader.Seek(0, io.SeekStart); err != nil {
		Internal(c, "failed to read file")
		return
	}

	ctx := c.Request.Context()
	objectKey := storage.ProfilePhotoKey(profile.ID, ext)
	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, mtype.String()); err != nil {
		logger.Error("upload photo failed", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	previous, err := h.accounts.SetPhotoKey(ctx, profile.ID, objectKey)
	if err != nil {
		logger.Error("store photo key failed", slog.Any("error", err))
		_ = h.storage.DeleteObject(ctx, objectKey)
		Internal(c, "failed to save photo")
		return
	}
	profile.PhotoKey = objectKey
	if previous != "" && previous != objectKey {
		if err := h.storage.DeleteObject(ctx, previous); err != nil {
			logger.Warn("delete previous photo failed", slog.String("key", previous), slog.Any("error", err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"photo_key": objectKey})
}

// GetPhoto 返回头像的临时访问链接。
func (h *ProfileHandler) GetPhoto(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	if profile.PhotoKey == "" {
		NotFound(c, "no photo uploaded")
		return
	}
	signedURL, err := h.storage.PresignDownload(c.Request.Context(), profile.PhotoKey, photoURLTTL, "")
	if err != nil {
		loggerFor(c, h.logger).Error("generate photo url failed", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL, "expires_in": int(photoURLTTL.Seconds())})
}

// ListIPs 列出当前用户使用过的 IP。
func (h *ProfileHandler) ListIPs(c *gin.Context) {
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	ips, err := h.accounts.ListIPs(c.Request.Context(), profile.UserID)
	if err != nil {
		loggerFor(c, h.logger).Error("list ips failed", slog.Any("error", err))
		Internal(c, "failed to list ip addresses")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": ips})
}
