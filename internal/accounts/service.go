// Package accounts 实现注册、资料同步、邮箱验证与 IP 记录等账号规则。
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"portfolio/internal/database"
)

var (
	ErrUsernameTaken          = errors.New("username already taken")
	ErrEmailTaken             = errors.New("email already registered")
	ErrEmailDomainNotAllowed  = errors.New("email domain is not allowed")
	ErrInvalidVerification    = errors.New("invalid verification link")
	ErrVerificationExpired    = errors.New("verification link expired")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrAlreadyBlacklisted     = errors.New("ip already blacklisted")
	ErrInvalidIP              = errors.New("invalid ip address")
	ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")
)

// Service 负责 User 与 Profile 的一致性维护。
type Service struct {
	db              *gorm.DB
	allowedDomains  []string
	verificationTTL time.Duration
	now             func() time.Time
}

// NewService 构造账号服务。allowedDomains 为空表示不限制邮箱域名。
func NewService(db *gorm.DB, allowedDomains []string, verificationTTL time.Duration) *Service {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		if d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@")); d != "" {
			domains = append(domains, d)
		}
	}
	return &Service{
		db:              db,
		allowedDomains:  domains,
		verificationTTL: verificationTTL,
		now:             time.Now,
	}
}

// RegisterInput 是创建账号所需字段，密码已是哈希。
type RegisterInput struct {
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IP           string
}

// NormalizeUsername 用户名统一小写存储。
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// EmailDomainAllowed 检查邮箱域名是否在白名单内。
func (s *Service) EmailDomainAllowed(email string) bool {
	if len(s.allowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range s.allowedDomains {
		if domain == allowed {
			return true
		}
	}
	return false
}

// Register 在同一事务中创建 User、Profile 并记录注册 IP。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*database.Profile, error) {
	in.Username = NormalizeUsername(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if !s.EmailDomainAllowed(in.Email) {
		return nil, ErrEmailDomainNotAllowed
	}

	var profile database.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUnique(tx, in.Username, in.Email, uuid.Nil); err != nil {
			return err
		}

		user := database.User{
			Username:     in.Username,
			Email:        in.Email,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			PasswordHash: in.PasswordHash,
			IsActive:     true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return mapDuplicate(err, ErrUsernameTaken)
		}

		profile = database.Profile{
			UserID:     user.ID,
			Username:   user.Username,
			Email:      user.Email,
			FName:      user.FirstName,
			LName:      user.LastName,
			Preference: database.PreferenceHome,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return mapDuplicate(err, ErrEmailTaken)
		}

		if in.IP != "" {
			if err := tx.Create(&database.IPAddress{UserID: user.ID, IP: in.IP}).Error; err != nil {
				return fmt.Errorf("record ip: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func ensureUnique(tx *gorm.DB, username, email string, exclude uuid.UUID) error {
	if username != "" {
		var count int64
		if err := tx.Model(&database.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if count > 0 {
			return ErrUsernameTaken
		}
	}

	var count int64
	q := tx.Model(&database.Profile{}).Where("LOWER(email) = ?", strings.ToLower(email))
	if exclude != uuid.Nil {
		q = q.Where("id <> ?", exclude)
	}
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}
	return nil
}

func mapDuplicate(err, conflict error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return conflict
	}
	return err
}

// ProfileByUserID 返回用户对应的 Profile。
func (s *Service) ProfileByUserID(ctx context.Context, userID uint) (*database.Profile, error) {
	var profile database.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// ProfileByID 按主键返回 Profile。
func (s *Service) ProfileByID(ctx context.Context, id uuid.UUID) (*database.Profile, error) {
	var profile database.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// ProfileUpdate 是可编辑的资料字段。
type ProfileUpdate struct {
	FName       string
	MName       string
	LName       string
	Street1     string
	Street2     string
	City        string
	State       string
	Zipcode     string
	HomePhone   string
	MobilePhone string
	WorkPhone   string
	Email       string
	Preference  string
}

// UpdateProfile 保存资料并同步 User 的姓名与邮箱；邮箱变更时重置验证状态。
func (s *Service) UpdateProfile(ctx context.Context, profile *database.Profile, upd ProfileUpdate) (emailChanged bool, err error) {
	upd.Email = strings.TrimSpace(upd.Email)
	emailChanged = !strings.EqualFold(upd.Email, profile.Email)
	if emailChanged && !s.EmailDomainAllowed(upd.Email) {
		return false, ErrEmailDomainNotAllowed
	}

	next := *profile
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if emailChanged {
			if err := ensureUnique(tx, "", upd.Email, profile.ID); err != nil {
				return err
			}
		}

		next.FName = upd.FName
		next.MName = upd.MName
		next.LName = upd.LName
		next.Street1 = upd.Street1
		next.Street2 = upd.Street2
		next.City = upd.City
		next.State = strings.ToUpper(upd.State)
		next.Zipcode = upd.Zipcode
		next.HomePhone = upd.HomePhone
		next.MobilePhone = upd.MobilePhone
		next.WorkPhone = upd.WorkPhone
		next.Email = upd.Email
		next.Preference = upd.Preference
		if emailChanged {
			next.EmailValid = false
			if err := next.RotateVerificationToken(); err != nil {
				return err
			}
		}

		if err := tx.Save(&next).Error; err != nil {
			return mapDuplicate(err, ErrEmailTaken)
		}

		return tx.Model(&database.User{}).Where("id = ?", profile.UserID).Updates(map[string]any{
			"first_name": next.FName,
			"last_name":  next.LName,
			"email":      next.Email,
		}).Error
	})
	if err != nil {
		return false, err
	}
	*profile = next
	return emailChanged, nil
}

// DeleteProfile 删除 Profile 及其关联 User，简历与条目随外键级联删除。
func (s *Service) DeleteProfile(ctx context.Context, profileID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile database.Profile
		if err := tx.First(&profile, "id = ?", profileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return err
		}

		// 论坛内容保留冗余的作者姓名。
		if err := tx.Model(&database.Post{}).Where("profile_id = ?", profile.ID).Update("profile_id", nil).Error; err != nil {
			return fmt.Errorf("detach posts: %w", err)
		}
		if err := tx.Model(&database.Comment{}).Where("profile_id = ?", profile.ID).Update("profile_id", nil).Error; err != nil {
			return fmt.Errorf("detach comments: %w", err)
		}

		if err := tx.Delete(&profile).Error; err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		if err := tx.Where("user_id = ?", profile.UserID).Delete(&database.IPAddress{}).Error; err != nil {
			return fmt.Errorf("delete ip records: %w", err)
		}
		if err := tx.Unscoped().Delete(&database.User{}, profile.UserID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

// VerifyEmail 校验链接中的令牌，成功后标记邮箱有效并轮换令牌使链接失效。
func (s *Service) VerifyEmail(ctx context.Context, profileID uuid.UUID, token string) (*database.Profile, error) {
	var profile database.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&profile, "id = ?", profileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidVerification
			}
			return err
		}
		if token == "" || profile.VerificationToken != token {
			return ErrInvalidVerification
		}
		if profile.TokenCreatedAt == nil || s.now().Sub(*profile.TokenCreatedAt) > s.verificationTTL {
			return ErrVerificationExpired
		}

		profile.EmailValid = true
		if err := profile.RotateVerificationToken(); err != nil {
			return err
		}
		return tx.Save(&profile).Error
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// PrepareVerification 为未验证的邮箱生成新令牌；不存在或已验证时返回 nil。
func (s *Service) PrepareVerification(ctx context.Context, email string) (*database.Profile, error) {
	var profile database.Profile
	err := s.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if profile.EmailValid {
		return nil, nil
	}
	if err := profile.RotateVerificationToken(); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&profile).Updates(map[string]any{
		"verification_token": profile.VerificationToken,
		"token_created_at":   profile.TokenCreatedAt,
	}).Error; err != nil {
		return nil, fmt.Errorf("store verification token: %w", err)
	}
	return &profile, nil
}

// SetApproval 设置资料的审核状态。
func (s *Service) SetApproval(ctx context.Context, profileID uuid.UUID, approved bool) error {
	res := s.db.WithContext(ctx).Model(&database.Profile{}).Where("id = ?", profileID).Update("is_approved", approved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// IPExists 报告用户是否已使用过该 IP。
func (s *Service) IPExists(ctx context.Context, userID uint, ip string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.IPAddress{}).
		Where("user_id = ? AND ip = ?", userID, ip).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordIP 首次出现的 IP 才写入，返回是否新增。
func (s *Service) RecordIP(ctx context.Context, userID uint, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	if normalized, err := NormalizeIP(ip); err == nil {
		ip = normalized
	}
	exists, err := s.IPExists(ctx, userID, ip)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.db.WithContext(ctx).Create(&database.IPAddress{UserID: userID, IP: ip}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListIPs 按时间倒序列出用户的 IP 记录。
func (s *Service) ListIPs(ctx context.Context, userID uint) ([]database.IPAddress, error) {
	var ips []database.IPAddress
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&ips).Error; err != nil {
		return nil, err
	}
	return ips, nil
}

// SetPhotoKey 更新头像对象键并返回旧键，调用方负责删除旧对象。
func (s *Service) SetPhotoKey(ctx context.Context, profileID uuid.UUID, key string) (string, error) {
	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile database.Profile
		if err := tx.Select("id", "photo_key").First(&profile, "id = ?", profileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return err
		}
		previous = profile.PhotoKey
		return tx.Model(&database.Profile{}).Where("id = ?", profileID).Update("photo_key", key).Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}
