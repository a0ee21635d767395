// Package mail 负责渲染邮件模板并通过 SMTP 投递。
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"portfolio/internal/config"
)

// Message 是一封待发送的 HTML 邮件。
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender 投递邮件。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender 使用 PLAIN 认证发送邮件，端口 587 时由 net/smtp 自动 STARTTLS。
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	enabled  bool
	logger   *slog.Logger
}

// NewSMTPSender 根据配置构造发送器；缺少主机或发件人时发送器处于禁用状态。
func NewSMTPSender(cfg config.MailConfig, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	enabled := strings.TrimSpace(cfg.Host) != "" && strings.TrimSpace(cfg.From) != ""
	if !enabled {
		logger.Warn("mail sender disabled: smtp host or from address missing")
	}
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		enabled:  enabled,
		logger:   logger,
	}
}

// Enabled 报告是否会真正投递。
func (s *SMTPSender) Enabled() bool { return s.enabled }

// Send 实现 Sender。禁用时只记录日志。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("mail has no recipients")
	}
	if !s.enabled {
		s.logger.Info("mail skipped", slog.Any("to", msg.To), slog.String("subject", msg.Subject))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, auth, s.from, msg.To, buildMIME(s.from, msg)); err != nil {
		return fmt.Errorf("send mail to %v: %w", msg.To, err)
	}
	s.logger.Info("mail sent", slog.Any("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
