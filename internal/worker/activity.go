package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"portfolio/internal/events"
	"portfolio/internal/mail"
	"portfolio/internal/metrics"
)

// ActivityHandler 将活动事件转为给站点管理员的邮件。
type ActivityHandler struct {
	sender     mail.Sender
	adminEmail string
	siteURL    string
	logger     *slog.Logger
}

// NewActivityHandler 创建活动事件处理器；adminEmail 为空时只记录日志。
func NewActivityHandler(sender mail.Sender, adminEmail, siteURL string, logger *slog.Logger) *ActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityHandler{
		sender:     sender,
		adminEmail: strings.TrimSpace(adminEmail),
		siteURL:    siteURL,
		logger:     logger,
	}
}

// Handle 满足 events.Handler。
func (h *ActivityHandler) Handle(ctx context.Context, event events.Event) error {
	log := h.logger.With(slog.String("event", event.Type), slog.String("correlation_id", event.CorrelationID))
	if h.adminEmail == "" {
		log.Info("admin email not configured, activity event dropped")
		return nil
	}

	var (
		msg mail.Message
		err error
	)
	switch event.Type {
	case events.TypeAccountCreated:
		var p events.AccountCreated
		if err := event.Decode(&p); err != nil {
			return err
		}
		name := strings.TrimSpace(p.FirstName + " " + p.LastName)
		msg, err = mail.UserCreatedEmail(mail.UserCreatedData{
			SiteURL:  h.siteURL,
			Admin:    h.adminEmail,
			Username: p.Username,
			Name:     name,
			Email:    p.Email,
			IP:       p.IP,
		})
	case events.TypeBlacklistBlocked:
		var p events.BlacklistBlocked
		if err := event.Decode(&p); err != nil {
			return err
		}
		msg, err = mail.BlacklistBlockedEmail(mail.BlacklistBlockedData{
			SiteURL: h.siteURL,
			Admin:   h.adminEmail,
			IP:      p.IP,
			Method:  p.Method,
			Path:    p.Path,
			At:      event.OccurredAt,
		})
	default:
		log.Warn("unknown activity event, ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("render %s email: %w", event.Type, err)
	}

	err = h.sender.Send(ctx, msg)
	metrics.MailSent.WithLabelValues(event.Type, metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	log.Info("admin notified")
	return nil
}
