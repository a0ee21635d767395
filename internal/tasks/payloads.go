package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePDFGenerate        = "pdf:generate"
	TypeEmailVerification  = "email:verification"
	TypeEmailPasswordReset = "email:password_reset"
	TypeEmailComment       = "email:comment"
)

// PDFGeneratePayload 描述生成 PDF 所需的最小信息。
type PDFGeneratePayload struct {
	ResumeID      uint   `json:"resume_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewPDFGenerateTask 构造一个新的简历 PDF 生成任务。
func NewPDFGenerateTask(id uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PDFGeneratePayload{
		ResumeID:      id,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePDFGenerate, payload), nil
}

// EmailVerificationPayload 指向需要发送验证邮件的 Profile。
type EmailVerificationPayload struct {
	ProfileID uuid.UUID `json:"profile_id"`
}

// NewEmailVerificationTask 构造验证邮件任务，令牌在执行时读取最新值。
func NewEmailVerificationTask(profileID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailVerificationPayload{ProfileID: profileID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailVerification, payload), nil
}

// EmailPasswordResetPayload 携带一次性重置令牌。
type EmailPasswordResetPayload struct {
	UserID uint   `json:"user_id"`
	Token  string `json:"token"`
}

// NewEmailPasswordResetTask 构造密码重置邮件任务。
func NewEmailPasswordResetTask(userID uint, token string) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailPasswordResetPayload{UserID: userID, Token: token})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailPasswordReset, payload), nil
}

// EmailCommentPayload 描述一条新评论通知。
type EmailCommentPayload struct {
	CommentID          uuid.UUID `json:"comment_id"`
	RecipientProfileID uuid.UUID `json:"recipient_profile_id"`
}

// NewEmailCommentTask 构造评论通知邮件任务。
func NewEmailCommentTask(commentID, recipient uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailCommentPayload{CommentID: commentID, RecipientProfileID: recipient})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailComment, payload), nil
}
