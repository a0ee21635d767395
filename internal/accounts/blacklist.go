package accounts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"

	"portfolio/internal/database"
)

type blacklistCacheItem struct {
	blocked   bool
	expiresAt time.Time
}

// Blacklist 在数据库黑名单前加一层带过期时间的 LRU 缓存。
type Blacklist struct {
	db    *gorm.DB
	cache *lru.Cache[string, blacklistCacheItem]
	ttl   time.Duration
	now   func() time.Time
}

// NewBlacklist 创建黑名单查询器，size 为缓存容量，ttl 为单条缓存有效期。
func NewBlacklist(db *gorm.DB, size int, ttl time.Duration) (*Blacklist, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, blacklistCacheItem](size)
	if err != nil {
		return nil, fmt.Errorf("create blacklist cache: %w", err)
	}
	return &Blacklist{db: db, cache: cache, ttl: ttl, now: time.Now}, nil
}

// NormalizeIP 校验并返回规范化的 IP 文本。
func NormalizeIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", ErrInvalidIP
	}
	return parsed.String(), nil
}

// IsBlocked 报告 IP 是否在黑名单中。
func (b *Blacklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	if normalized, err := NormalizeIP(ip); err == nil {
		ip = normalized
	}
	if item, ok := b.cache.Get(ip); ok {
		if b.now().Before(item.expiresAt) {
			return item.blocked, nil
		}
		b.cache.Remove(ip)
	}

	var count int64
	if err := b.db.WithContext(ctx).Model(&database.Blacklist{}).Where("ip = ?", ip).Count(&count).Error; err != nil {
		return false, fmt.Errorf("query blacklist: %w", err)
	}
	blocked := count > 0
	b.cache.Add(ip, blacklistCacheItem{blocked: blocked, expiresAt: b.now().Add(b.ttl)})
	return blocked, nil
}

// List 按时间倒序列出黑名单。
func (b *Blacklist) List(ctx context.Context) ([]database.Blacklist, error) {
	var entries []database.Blacklist
	if err := b.db.WithContext(ctx).Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Add 加入黑名单并使缓存失效。
func (b *Blacklist) Add(ctx context.Context, ip, reason string) (*database.Blacklist, error) {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := b.db.WithContext(ctx).Model(&database.Blacklist{}).Where("ip = ?", normalized).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrAlreadyBlacklisted
	}

	entry := database.Blacklist{IP: normalized, Reason: strings.TrimSpace(reason)}
	if err := b.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyBlacklisted
		}
		return nil, err
	}
	b.cache.Remove(normalized)
	return &entry, nil
}

// Remove 按 ID 移出黑名单。
func (b *Blacklist) Remove(ctx context.Context, id uuid.UUID) (*database.Blacklist, error) {
	var entry database.Blacklist
	if err := b.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBlacklistEntryNotFound
		}
		return nil, err
	}
	if err := b.db.WithContext(ctx).Delete(&entry).Error; err != nil {
		return nil, err
	}
	b.cache.Remove(entry.IP)
	return &entry, nil
}

// RemoveIP 按 IP 移出黑名单。
func (b *Blacklist) RemoveIP(ctx context.Context, ip string) error {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return err
	}
	res := b.db.WithContext(ctx).Where("ip = ?", normalized).Delete(&database.Blacklist{})
	if res.Error != nil {
		return res.Error
	}
	b.cache.Remove(normalized)
	if res.RowsAffected == 0 {
		return ErrBlacklistEntryNotFound
	}
	return nil
}

// BlockUserIPs 将用户记录过的全部 IP 加入黑名单，返回新增条数。
func (b *Blacklist) BlockUserIPs(ctx context.Context, userID uint, reason string) (int, error) {
	var ips []database.IPAddress
	if err := b.db.WithContext(ctx).Where("user_id = ?", userID).Find(&ips).Error; err != nil {
		return 0, err
	}
	added := 0
	for _, rec := range ips {
		if _, err := b.Add(ctx, rec.IP, reason); err != nil {
			if errors.Is(err, ErrAlreadyBlacklisted) || errors.Is(err, ErrInvalidIP) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}
