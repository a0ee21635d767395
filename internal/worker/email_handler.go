package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"portfolio/internal/database"
	"portfolio/internal/mail"
	"portfolio/internal/metrics"
	"portfolio/internal/tasks"
)

// EmailTaskHandler 消费邮件类任务。收件人等数据在执行时重新读取，
// 行已被删除的任务直接跳过。
type EmailTaskHandler struct {
	db              *gorm.DB
	sender          mail.Sender
	siteURL         string
	verificationTTL time.Duration
	resetTTL        time.Duration
	logger          *slog.Logger
}

// NewEmailTaskHandler 创建邮件任务处理器。
func NewEmailTaskHandler(db *gorm.DB, sender mail.Sender, siteURL string, verificationTTL, resetTTL time.Duration, logger *slog.Logger) *EmailTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailTaskHandler{
		db:              db,
		sender:          sender,
		siteURL:         siteURL,
		verificationTTL: verificationTTL,
		resetTTL:        resetTTL,
		logger:          logger,
	}
}

// Register 将各邮件任务挂到 mux 上。
func (h *EmailTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeEmailVerification, h.HandleVerification)
	mux.HandleFunc(tasks.TypeEmailPasswordReset, h.HandlePasswordReset)
	mux.HandleFunc(tasks.TypeEmailComment, h.HandleComment)
}

func decodePayload(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (h *EmailTaskHandler) send(ctx context.Context, kind string, msg mail.Message) error {
	err := h.sender.Send(ctx, msg)
	metrics.MailSent.WithLabelValues(kind, metrics.Result(err)).Inc()
	return err
}

// HandleVerification 发送邮箱验证邮件，使用 Profile 当前的令牌。
func (h *EmailTaskHandler) HandleVerification(ctx context.Context, t *asynq.Task) error {
	var payload tasks.EmailVerificationPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	log := h.logger.With(slog.String("task", t.Type()), slog.String("profile_id", payload.ProfileID.String()))

	var profile database.Profile
	if err := h.db.WithContext(ctx).First(&profile, "id = ?", payload.ProfileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("profile not found, skipping verification email")
			return nil
		}
		return err
	}
	if profile.EmailValid {
		log.Info("email already verified, skipping")
		return nil
	}

	msg, err := mail.VerificationEmail(mail.VerificationData{
		SiteURL:   h.siteURL,
		Name:      profile.DisplayName(),
		Username:  profile.Username,
		Email:     profile.Email,
		ProfileID: profile.ID,
		Token:     profile.VerificationToken,
		TTL:       h.verificationTTL,
	})
	if err != nil {
		return err
	}
	if err := h.send(ctx, "verification", msg); err != nil {
		log.Error("send verification email failed", slog.Any("error", err))
		return err
	}
	log.Info("verification email sent")
	return nil
}

// HandlePasswordReset 发送密码重置邮件。
func (h *EmailTaskHandler) HandlePasswordReset(ctx context.Context, t *asynq.Task) error {
	var payload tasks.EmailPasswordResetPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	log := h.logger.With(slog.String("task", t.Type()), slog.Uint64("user_id", uint64(payload.UserID)))

	var user database.User
	if err := h.db.WithContext(ctx).Preload("Profile").First(&user, payload.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("user not found, skipping password reset email")
			return nil
		}
		return err
	}
	name := user.Username
	if user.Profile != nil {
		name = user.Profile.DisplayName()
	}

	msg, err := mail.PasswordResetEmail(mail.PasswordResetData{
		SiteURL:  h.siteURL,
		Name:     name,
		Username: user.Username,
		Email:    user.Email,
		Token:    payload.Token,
		TTL:      h.resetTTL,
	})
	if err != nil {
		return err
	}
	if err := h.send(ctx, "password_reset", msg); err != nil {
		log.Error("send password reset email failed", slog.Any("error", err))
		return err
	}
	log.Info("password reset email sent")
	return nil
}

// HandleComment 通知帖子或父评论的作者。
func (h *EmailTaskHandler) HandleComment(ctx context.Context, t *asynq.Task) error {
	var payload tasks.EmailCommentPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	log := h.logger.With(slog.String("task", t.Type()), slog.String("comment_id", payload.CommentID.String()))
	db := h.db.WithContext(ctx)

	var comment database.Comment
	if err := db.First(&comment, "id = ?", payload.CommentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("comment not found, skipping notification")
			return nil
		}
		return err
	}
	var recipient database.Profile
	if err := db.First(&recipient, "id = ?", payload.RecipientProfileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("recipient not found, skipping notification")
			return nil
		}
		return err
	}
	var post database.Post
	if err := db.First(&post, "id = ?", comment.PostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("post not found, skipping notification")
			return nil
		}
		return err
	}

	data := mail.CommentData{
		SiteURL:       h.siteURL,
		RecipientName: recipient.DisplayName(),
		RecipientMail: recipient.Email,
		Author:        commentAuthor(&comment),
		Text:          comment.Text,
		PostID:        post.ID,
		PostSubject:   post.Subject,
	}
	if comment.ParentID != nil {
		var parent database.Comment
		err := db.First(&parent, "id = ?", *comment.ParentID).Error
		switch {
		case err == nil:
			if parent.ProfileID != nil && *parent.ProfileID == recipient.ID {
				data.IsReply = true
				data.ParentText = parent.Text
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
	}

	msg, err := mail.CommentEmail(data)
	if err != nil {
		return err
	}
	if err := h.send(ctx, "comment", msg); err != nil {
		log.Error("send comment notification failed", slog.Any("error", err))
		return err
	}
	log.Info("comment notification sent", slog.String("recipient", recipient.ID.String()))
	return nil
}

func commentAuthor(c *database.Comment) string {
	name := c.FName
	if c.LName != "" {
		if name != "" {
			name += " "
		}
		name += c.LName
	}
	if name == "" {
		return c.Username
	}
	return name
}
