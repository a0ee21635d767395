// Package forum 实现帖子、评论与回复树。
package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"portfolio/internal/database"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrForbidden       = errors.New("not allowed to modify this content")
	ErrEmptyContent    = errors.New("content must not be empty")
)

// MaxPageSize 是列表接口允许的最大分页大小。
const MaxPageSize = 100

// Service 封装论坛的数据库操作。
type Service struct {
	db              *gorm.DB
	defaultPageSize int
}

// NewService 构造论坛服务。
func NewService(db *gorm.DB, defaultPageSize int) *Service {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &Service{db: db, defaultPageSize: defaultPageSize}
}

// PostSummary 是列表项，附带评论数。
type PostSummary struct {
	database.Post
	CommentCount int64 `json:"comment_count"`
}

// Page 描述分页结果。
type Page struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func isAuthor(owner *uuid.UUID, actor *database.Profile) bool {
	return actor != nil && owner != nil && *owner == actor.ID
}

// ListPosts 按创建时间倒序分页列出帖子。
func (s *Service) ListPosts(ctx context.Context, page, pageSize int) ([]PostSummary, Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	meta := Page{Page: page, PageSize: pageSize}

	db := s.db.WithContext(ctx)
	if err := db.Model(&database.Post{}).Count(&meta.Total).Error; err != nil {
		return nil, meta, fmt.Errorf("count posts: %w", err)
	}

	var posts []database.Post
	if err := db.Order("created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&posts).Error; err != nil {
		return nil, meta, fmt.Errorf("list posts: %w", err)
	}

	counts := make(map[uuid.UUID]int64, len(posts))
	if len(posts) > 0 {
		ids := make([]uuid.UUID, 0, len(posts))
		for _, p := range posts {
			ids = append(ids, p.ID)
		}
		var rows []struct {
			PostID uuid.UUID
			Total  int64
		}
		if err := db.Model(&database.Comment{}).
			Select("post_id, COUNT(*) AS total").
			Where("post_id IN ?", ids).
			Group("post_id").
			Scan(&rows).Error; err != nil {
			return nil, meta, fmt.Errorf("count comments: %w", err)
		}
		for _, r := range rows {
			counts[r.PostID] = r.Total
		}
	}

	items := make([]PostSummary, 0, len(posts))
	for _, p := range posts {
		items = append(items, PostSummary{Post: p, CommentCount: counts[p.ID]})
	}
	return items, meta, nil
}

// GetPost 按 ID 返回帖子。
func (s *Service) GetPost(ctx context.Context, id uuid.UUID) (*database.Post, error) {
	var post database.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// PostComments 返回帖子的全部评论，按创建时间升序。
func (s *Service) PostComments(ctx context.Context, postID uuid.UUID) ([]database.Comment, error) {
	var comments []database.Comment
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

// CreatePost 以 author 身份发帖。
func (s *Service) CreatePost(ctx context.Context, author *database.Profile, subject, message string) (*database.Post, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" || strings.TrimSpace(message) == "" {
		return nil, ErrEmptyContent
	}
	post := database.Post{Subject: subject, Message: message}
	post.SetAuthor(author)
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// UpdatePost 只允许作者修改。
func (s *Service) UpdatePost(ctx context.Context, actor *database.Profile, id uuid.UUID, subject, message string) (*database.Post, error) {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAuthor(post.ProfileID, actor) {
		return nil, ErrForbidden
	}
	subject = strings.TrimSpace(subject)
	if subject == "" || strings.TrimSpace(message) == "" {
		return nil, ErrEmptyContent
	}
	post.Subject = subject
	post.Message = message
	post.SetAuthor(actor)
	if err := s.db.WithContext(ctx).Save(post).Error; err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return post, nil
}

// DeletePost 作者或管理员可删除，评论一并删除。
func (s *Service) DeletePost(ctx context.Context, actor *database.Profile, id uuid.UUID) error {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if !isAuthor(post.ProfileID, actor) && !actor.IsAdmin() {
		return ErrForbidden
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&database.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Delete(post).Error; err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		return nil
	})
}

// CommentByID 按 ID 返回评论。
func (s *Service) CommentByID(ctx context.Context, id uuid.UUID) (*database.Comment, error) {
	var comment database.Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, err
	}
	return &comment, nil
}

// CreatedComment 是新评论及计算通知所需的上下文。
type CreatedComment struct {
	Comment *database.Comment
	Post    *database.Post
	Parent  *database.Comment
}

// CreateComment 发表评论；parentID 非空时为回复，父评论必须属于同一帖子。
func (s *Service) CreateComment(ctx context.Context, author *database.Profile, postID uuid.UUID, parentID *uuid.UUID, text string) (*CreatedComment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	var parent *database.Comment
	if parentID != nil {
		parent, err = s.CommentByID(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.PostID != post.ID {
			return nil, ErrCommentNotFound
		}
	}

	comment := database.Comment{PostID: post.ID, Text: text}
	if parent != nil {
		pid := parent.ID
		comment.ParentID = &pid
	}
	comment.SetAuthor(author)
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return &CreatedComment{Comment: &comment, Post: post, Parent: parent}, nil
}

// UpdateComment 只允许作者修改。
func (s *Service) UpdateComment(ctx context.Context, actor *database.Profile, id uuid.UUID, text string) (*database.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	comment, err := s.CommentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAuthor(comment.ProfileID, actor) {
		return nil, ErrForbidden
	}
	comment.Text = text
	comment.SetAuthor(actor)
	if err := s.db.WithContext(ctx).Save(comment).Error; err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return comment, nil
}

// DeleteComment 删除评论及其全部后代，返回删除条数。
func (s *Service) DeleteComment(ctx context.Context, actor *database.Profile, id uuid.UUID) (int, error) {
	comment, err := s.CommentByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if !isAuthor(comment.ProfileID, actor) && !actor.IsAdmin() {
		return 0, ErrForbidden
	}

	deleted := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := []uuid.UUID{comment.ID}
		frontier := []uuid.UUID{comment.ID}
		for len(frontier) > 0 {
			var next []uuid.UUID
			if err := tx.Model(&database.Comment{}).
				Where("parent_id IN ?", frontier).
				Pluck("id", &next).Error; err != nil {
				return fmt.Errorf("collect replies: %w", err)
			}
			ids = append(ids, next...)
			frontier = next
		}
		// 先删叶子，外键约束下也不会失败。
		for i := len(ids) - 1; i >= 0; i-- {
			if err := tx.Delete(&database.Comment{}, "id = ?", ids[i]).Error; err != nil {
				return fmt.Errorf("delete comment: %w", err)
			}
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// NotificationRecipient 返回需要收到新评论通知的 Profile ID。
// 回复他人评论时通知父评论作者；否则评论他人帖子时通知帖子作者。
func NotificationRecipient(post *database.Post, parent, comment *database.Comment) *uuid.UUID {
	if parent != nil && !sameProfile(comment.ProfileID, parent.ProfileID) {
		return parent.ProfileID
	}
	if post != nil && !sameProfile(comment.ProfileID, post.ProfileID) {
		return post.ProfileID
	}
	return nil
}

func sameProfile(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
