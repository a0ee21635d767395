package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"portfolio/internal/accounts"
	"portfolio/internal/database"
	"portfolio/internal/forum"
	"portfolio/internal/tasks"
)

// ForumHandler 处理帖子与评论。
type ForumHandler struct {
	forum    *forum.Service
	accounts *accounts.Service
	queue    TaskEnqueuer
	logger   *slog.Logger
	maxDepth int
}

// NewForumHandler 构造论坛处理器。
func NewForumHandler(forumSvc *forum.Service, accountsSvc *accounts.Service, queue TaskEnqueuer, logger *slog.Logger, maxDepth int) *ForumHandler {
	return &ForumHandler{
		forum:    forumSvc,
		accounts: accountsSvc,
		queue:    queue,
		logger:   logger,
		maxDepth: maxDepth,
	}
}

type postRequest struct {
	Subject string `json:"subject" binding:"required,max=100"`
	Message string `json:"message" binding:"required"`
}

type commentRequest struct {
	Text string `json:"text" binding:"required"`
}

type postDetailResponse struct {
	Post         *database.Post       `json:"post"`
	MessageHTML  string               `json:"message_html"`
	Comments     []*forum.CommentNode `json:"comments"`
	CommentCount int                  `json:"comment_count"`
}

// writeForumError 映射论坛服务的错误。
func (h *ForumHandler) writeForumError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, forum.ErrPostNotFound):
		NotFound(c, forum.ErrPostNotFound.Error())
	case errors.Is(err, forum.ErrCommentNotFound):
		NotFound(c, forum.ErrCommentNotFound.Error())
	case errors.Is(err, forum.ErrForbidden):
		Forbidden(c, forum.ErrForbidden.Error())
	case errors.Is(err, forum.ErrEmptyContent):
		BadRequest(c, forum.ErrEmptyContent.Error())
	default:
		loggerFor(c, h.logger).Error(action+" failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

// ListPosts 按时间倒序分页列出帖子。
func (h *ForumHandler) ListPosts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	items, meta, err := h.forum.ListPosts(c.Request.Context(), page, pageSize)
	if err != nil {
		h.writeForumError(c, err, "list posts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page": meta})
}

// GetPost 返回帖子、渲染后的正文与评论树。
func (h *ForumHandler) GetPost(c *gin.Context) {
	postID, err := parseUUIDParam(c, "postID")
	if err != nil {
		NotFound(c, forum.ErrPostNotFound.Error())
		return
	}
	ctx := c.Request.Context()

	post, err := h.forum.GetPost(ctx, postID)
	if err != nil {
		h.writeForumError(c, err, "get post")
		return
	}
	comments, err := h.forum.PostComments(ctx, postID)
	if err != nil {
		h.writeForumError(c, err, "load comments")
		return
	}
	tree := forum.BuildCommentTree(comments, h.maxDepth)
	forum.RenderTree(tree)

	c.JSON(http.StatusOK, postDetailResponse{
		Post:         post,
		MessageHTML:  forum.RenderMarkdown(post.Message),
		Comments:     tree,
		CommentCount: len(comments),
	})
}

// CreatePost 发帖，作者信息取自当前用户。
func (h *ForumHandler) CreatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	post, err := h.forum.CreatePost(c.Request.Context(), profile, req.Subject, req.Message)
	if err != nil {
		h.writeForumError(c, err, "create post")
		return
	}
	loggerFor(c, h.logger).Info("post created", slog.String("post_id", post.ID.String()))
	c.JSON(http.StatusCreated, post)
}

// UpdatePost 只允许作者编辑。
func (h *ForumHandler) UpdatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	postID, err := parseUUIDParam(c, "postID")
	if err != nil {
		NotFound(c, forum.ErrPostNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	post, err := h.forum.UpdatePost(c.Request.Context(), profile, postID, req.Subject, req.Message)
	if err != nil {
		h.writeForumError(c, err, "update post")
		return
	}
	c.JSON(http.StatusOK, post)
}

// DeletePost 作者或 staff 可删除，评论随之删除。
func (h *ForumHandler) DeletePost(c *gin.Context) {
	postID, err := parseUUIDParam(c, "postID")
	if err != nil {
		NotFound(c, forum.ErrPostNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	if err := h.forum.DeletePost(c.Request.Context(), profile, postID); err != nil {
		h.writeForumError(c, err, "delete post")
		return
	}
	loggerFor(c, h.logger).Info("post deleted", slog.String("post_id", postID.String()))
	c.Status(http.StatusNoContent)
}

// CreateComment 发表顶层评论。
func (h *ForumHandler) CreateComment(c *gin.Context) {
	h.createComment(c, false)
}

// CreateReply 回复同一帖子下的评论。
func (h *ForumHandler) CreateReply(c *gin.Context) {
	h.createComment(c, true)
}

func (h *ForumHandler) createComment(c *gin.Context, reply bool) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	postID, err := parseUUIDParam(c, "postID")
	if err != nil {
		NotFound(c, forum.ErrPostNotFound.Error())
		return
	}
	var parentID *uuid.UUID
	if reply {
		id, err := parseUUIDParam(c, "commentID")
		if err != nil {
			NotFound(c, forum.ErrCommentNotFound.Error())
			return
		}
		parentID = &id
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	created, err := h.forum.CreateComment(ctx, profile, postID, parentID, req.Text)
	if err != nil {
		h.writeForumError(c, err, "create comment")
		return
	}

	logger := loggerFor(c, h.logger).With(slog.String("comment_id", created.Comment.ID.String()))
	if recipient := forum.NotificationRecipient(created.Post, created.Parent, created.Comment); recipient != nil {
		task, taskErr := tasks.NewEmailCommentTask(created.Comment.ID, *recipient)
		_, _ = enqueue(ctx, h.queue, logger, task, taskErr)
	}
	logger.Info("comment created", slog.Bool("reply", reply))

	c.JSON(http.StatusCreated, forum.CommentNode{
		Comment:  *created.Comment,
		TextHTML: forum.RenderMarkdown(created.Comment.Text),
		Replies:  []*forum.CommentNode{},
	})
}

// UpdateComment 只允许作者修改。
func (h *ForumHandler) UpdateComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	commentID, err := parseUUIDParam(c, "commentID")
	if err != nil {
		NotFound(c, forum.ErrCommentNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	comment, err := h.forum.UpdateComment(c.Request.Context(), profile, commentID, req.Text)
	if err != nil {
		h.writeForumError(c, err, "update comment")
		return
	}
	c.JSON(http.StatusOK, comment)
}

// DeleteComment 删除评论及其全部回复。
func (h *ForumHandler) DeleteComment(c *gin.Context) {
	commentID, err := parseUUIDParam(c, "commentID")
	if err != nil {
		NotFound(c, forum.ErrCommentNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	deleted, err := h.forum.DeleteComment(c.Request.Context(), profile, commentID)
	if err != nil {
		h.writeForumError(c, err, "delete comment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
