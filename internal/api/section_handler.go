package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio/internal/accounts"
	"portfolio/internal/resume"
)

// SectionHandler 处理九类简历条目的增删改查与排序。
type SectionHandler struct {
	resumes  *resume.Service
	accounts *accounts.Service
	logger   *slog.Logger
}

// NewSectionHandler 构造条目处理器。
func NewSectionHandler(resumes *resume.Service, accountsSvc *accounts.Service, logger *slog.Logger) *SectionHandler {
	return &SectionHandler{resumes: resumes, accounts: accountsSvc, logger: logger}
}

type reorderRequest struct {
	Order []resume.OrderEntry `json:"order"`
}

func reorderError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "message": msg})
}

func sectionKind(c *gin.Context) (resume.Kind, bool) {
	kind, err := resume.LookupKind(c.Param("section"))
	if err != nil {
		NotFound(c, err.Error())
		return resume.Kind{}, false
	}
	return kind, true
}

// List 列出当前用户某一类的全部条目。
func (h *SectionHandler) List(c *gin.Context) {
	kind, ok := sectionKind(c)
	if !ok {
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	items, err := h.resumes.ListItems(c.Request.Context(), profile.ID, kind)
	if err != nil {
		writeResumeError(c, h.logger, err, "list items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": kind.Name, "items": items})
}

// Add 新建条目，关联到 resume_ids、当前简历或不关联。
func (h *SectionHandler) Add(c *gin.Context) {
	h.add(c, false)
}

// AddToResume 新建条目，未给出 resume_ids 时关联到路由中的简历。
func (h *SectionHandler) AddToResume(c *gin.Context) {
	h.add(c, true)
}

func (h *SectionHandler) add(c *gin.Context, fromRoute bool) {
	kind, ok := sectionKind(c)
	if !ok {
		return
	}
	item := kind.New()
	if err := c.ShouldBindJSON(item); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	var routeResumeID *uint
	if fromRoute {
		id, err := parseUintParam(c, "id")
		if err != nil {
			NotFound(c, resume.ErrResumeNotFound.Error())
			return
		}
		routeResumeID = &id
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}

	if err := h.resumes.AddItem(c.Request.Context(), profile, kind, item, routeResumeID); err != nil {
		writeResumeError(c, h.logger, err, "add "+kind.Name)
		return
	}
	loggerFor(c, h.logger).Info("section item added",
		slog.String("section", kind.Name),
		slog.Uint64("item_id", uint64(item.Base().ID)),
	)
	c.JSON(http.StatusCreated, item)
}

// Get 返回单个条目。
func (h *SectionHandler) Get(c *gin.Context) {
	kind, ok := sectionKind(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "itemID")
	if err != nil {
		NotFound(c, resume.ErrItemNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	item, err := h.resumes.GetItem(c.Request.Context(), profile.ID, kind, id)
	if err != nil {
		writeResumeError(c, h.logger, err, "get "+kind.Name)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Update 在已有条目上合并请求字段；给出 resume_ids 时整体替换关联。
func (h *SectionHandler) Update(c *gin.Context) {
	kind, ok := sectionKind(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "itemID")
	if err != nil {
		NotFound(c, resume.ErrItemNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	item, err := h.resumes.GetItem(ctx, profile.ID, kind, id)
	if err != nil {
		writeResumeError(c, h.logger, err, "get "+kind.Name)
		return
	}
	item.Base().ResumeIDs = nil
	if err := c.ShouldBindJSON(item); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	item.Base().ID = id

	if err := h.resumes.UpdateItem(ctx, profile, kind, item); err != nil {
		writeResumeError(c, h.logger, err, "update "+kind.Name)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Delete 删除条目，返回客户端应跳转的简历。
func (h *SectionHandler) Delete(c *gin.Context) {
	kind, ok := sectionKind(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "itemID")
	if err != nil {
		NotFound(c, resume.ErrItemNotFound.Error())
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}
	redirect, err := h.resumes.DeleteItem(c.Request.Context(), profile.ID, kind, id)
	if err != nil {
		writeResumeError(c, h.logger, err, "delete "+kind.Name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect_resume_id": redirect})
}

// Reorder 批量更新位置，只接受 POST。
func (h *SectionHandler) Reorder(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		reorderError(c, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}
	kind, err := resume.LookupKind(c.Param("section"))
	if err != nil {
		reorderError(c, http.StatusNotFound, err.Error())
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reorderError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	profile, ok := currentProfile(c, h.accounts)
	if !ok {
		return
	}

	if err := h.resumes.Reorder(c.Request.Context(), profile.ID, kind, req.Order); err != nil {
		loggerFor(c, h.logger).Info("reorder rejected", slog.String("section", kind.Name), slog.Any("error", err))
		reorderError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
