package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func joinURL(siteURL string, parts ...string) string {
	return strings.TrimRight(siteURL, "/") + "/" + strings.Join(parts, "/")
}

// VerificationLink 返回邮箱验证链接 <site>/verify-email/<profileID>/<token>/。
func VerificationLink(siteURL string, profileID uuid.UUID, token string) string {
	return joinURL(siteURL, "verify-email", profileID.String(), token) + "/"
}

// PostLink 返回帖子的浏览地址。
func PostLink(siteURL string, postID uuid.UUID) string {
	return joinURL(siteURL, "forum", "view-post", postID.String())
}

// VerificationData 是验证邮件的模板参数。
type VerificationData struct {
	SiteURL   string
	Name      string
	Username  string
	Email     string
	ProfileID uuid.UUID
	Token     string
	TTL       time.Duration
}

// VerificationEmail 渲染邮箱验证邮件。
func VerificationEmail(d VerificationData) (Message, error) {
	body, err := render("verification.html", map[string]any{
		"SiteURL":   d.SiteURL,
		"Name":      d.Name,
		"Username":  d.Username,
		"Email":     d.Email,
		"Link":      VerificationLink(d.SiteURL, d.ProfileID, d.Token),
		"ExpiresIn": humanDuration(d.TTL),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{d.Email},
		Subject: fmt.Sprintf("User %s was successfully created", d.Username),
		HTML:    body,
	}, nil
}

// PasswordResetData 是密码重置邮件的模板参数。
type PasswordResetData struct {
	SiteURL  string
	Name     string
	Username string
	Email    string
	Token    string
	TTL      time.Duration
}

// PasswordResetEmail 渲染密码重置邮件。
func PasswordResetEmail(d PasswordResetData) (Message, error) {
	body, err := render("password_reset.html", map[string]any{
		"Name":      d.Name,
		"Username":  d.Username,
		"Token":     d.Token,
		"Link":      joinURL(d.SiteURL, "password-reset", d.Token) + "/",
		"ExpiresIn": humanDuration(d.TTL),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{d.Email},
		Subject: "Password reset requested",
		HTML:    body,
	}, nil
}

// CommentData 是评论通知的模板参数。
type CommentData struct {
	SiteURL       string
	RecipientName string
	RecipientMail string
	Author        string
	Text          string
	ParentText    string
	IsReply       bool
	PostID        uuid.UUID
	PostSubject   string
}

// CommentEmail 渲染评论或回复通知。
func CommentEmail(d CommentData) (Message, error) {
	body, err := render("comment.html", map[string]any{
		"SiteURL":     d.SiteURL,
		"Author":      d.Author,
		"Text":        d.Text,
		"ParentText":  d.ParentText,
		"IsReply":     d.IsReply,
		"PostSubject": d.PostSubject,
		"Link":        PostLink(d.SiteURL, d.PostID),
	})
	if err != nil {
		return Message{}, err
	}
	subject := fmt.Sprintf("Hello, %s! %s made a comment on your post", d.RecipientName, d.Author)
	if d.IsReply {
		subject = fmt.Sprintf("Hello, %s! %s replied to your comment", d.RecipientName, d.Author)
	}
	return Message{
		To:      []string{d.RecipientMail},
		Subject: subject,
		HTML:    body,
	}, nil
}

// UserCreatedData 是管理员“新用户”通知的模板参数。
type UserCreatedData struct {
	SiteURL  string
	Admin    string
	Username string
	Name     string
	Email    string
	IP       string
}

// UserCreatedEmail 通知站点管理员有新账号注册。
func UserCreatedEmail(d UserCreatedData) (Message, error) {
	body, err := render("user_created.html", d)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{d.Admin},
		Subject: fmt.Sprintf("User %s was successfully created", d.Username),
		HTML:    body,
	}, nil
}

// BlacklistBlockedData 是黑名单拦截通知的模板参数。
type BlacklistBlockedData struct {
	SiteURL string
	Admin   string
	IP      string
	Method  string
	Path    string
	At      time.Time
}

// BlacklistBlockedEmail 通知站点管理员黑名单已生效。
func BlacklistBlockedEmail(d BlacklistBlockedData) (Message, error) {
	body, err := render("blacklist_blocked.html", map[string]any{
		"SiteURL": d.SiteURL,
		"IP":      d.IP,
		"Method":  d.Method,
		"Path":    d.Path,
		"At":      d.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{d.Admin},
		Subject: fmt.Sprintf("Blacklist activated for %s", d.IP),
		HTML:    body,
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short time"
	case d%(24*time.Hour) == 0:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		return d.Round(time.Minute).String()
	}
}
