package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio/internal/accounts"
	"portfolio/internal/database"
)

// AdminHandler 提供黑名单与用户审核等后台操作，仅对 staff 开放。
type AdminHandler struct {
	accounts  *accounts.Service
	blacklist *accounts.Blacklist
	logger    *slog.Logger
}

// NewAdminHandler 构造后台处理器。
func NewAdminHandler(accountsSvc *accounts.Service, blacklist *accounts.Blacklist, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accountsSvc, blacklist: blacklist, logger: logger}
}

type blacklistRequest struct {
	IP     string `json:"ip" binding:"required,max=45"`
	Reason string `json:"reason" binding:"max=255"`
}

type approvalRequest struct {
	IsApproved *bool `json:"is_approved" binding:"required"`
}

type blockProfileRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// ListBlacklist 列出所有黑名单条目。
func (h *AdminHandler) ListBlacklist(c *gin.Context) {
	entries, err := h.blacklist.List(c.Request.Context())
	if err != nil {
		loggerFor(c, h.logger).Error("list blacklist failed", slog.Any("error", err))
		Internal(c, "failed to list blacklist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

// AddBlacklist 新增黑名单条目。
func (h *AdminHandler) AddBlacklist(c *gin.Context) {
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	logger := loggerFor(c, h.logger)

	entry, err := h.blacklist.Add(c.Request.Context(), req.IP, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrInvalidIP):
			BadRequest(c, accounts.ErrInvalidIP.Error())
		case errors.Is(err, accounts.ErrAlreadyBlacklisted):
			Conflict(c, accounts.ErrAlreadyBlacklisted.Error())
		default:
			logger.Error("add blacklist failed", slog.Any("error", err))
			Internal(c, "failed to add blacklist entry")
		}
		return
	}
	logger.Info("ip blacklisted", slog.String("ip", entry.IP))
	c.JSON(http.StatusCreated, entry)
}

// RemoveBlacklist 删除黑名单条目。
func (h *AdminHandler) RemoveBlacklist(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		NotFound(c, accounts.ErrBlacklistEntryNotFound.Error())
		return
	}
	logger := loggerFor(c, h.logger)

	entry, err := h.blacklist.Remove(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrBlacklistEntryNotFound) {
			NotFound(c, accounts.ErrBlacklistEntryNotFound.Error())
			return
		}
		logger.Error("remove blacklist failed", slog.Any("error", err))
		Internal(c, "failed to remove blacklist entry")
		return
	}
	logger.Info("ip removed from blacklist", slog.String("ip", entry.IP))
	c.Status(http.StatusNoContent)
}

// ProfileIPs 列出指定用户记录过的 IP。
func (h *AdminHandler) ProfileIPs(c *gin.Context) {
	profile, ok := h.profileParam(c)
	if !ok {
		return
	}
	ips, err := h.accounts.ListIPs(c.Request.Context(), profile.UserID)
	if err != nil {
		loggerFor(c, h.logger).Error("list profile ips failed", slog.Any("error", err))
		Internal(c, "failed to list ip addresses")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_id": profile.ID, "items": ips})
}

// BlockProfile 把用户所有记录过的 IP 加入黑名单。
func (h *AdminHandler) BlockProfile(c *gin.Context) {
	var req blockProfileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, bindErrorMessage(err))
			return
		}
	}
	profile, ok := h.profileParam(c)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "blocked with account " + profile.Username
	}

	added, err := h.blacklist.BlockUserIPs(c.Request.Context(), profile.UserID, reason)
	if err != nil {
		loggerFor(c, h.logger).Error("block profile ips failed", slog.Any("error", err))
		Internal(c, "failed to blacklist ip addresses")
		return
	}
	loggerFor(c, h.logger).Info("profile ips blacklisted",
		slog.String("profile_id", profile.ID.String()),
		slog.Int("added", added),
	)
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// SetApproval 修改用户的审核状态。
func (h *AdminHandler) SetApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, bindErrorMessage(err))
		return
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		NotFound(c, accounts.ErrProfileNotFound.Error())
		return
	}
	if err := h.accounts.SetApproval(c.Request.Context(), id, *req.IsApproved); err != nil {
		if errors.Is(err, accounts.ErrProfileNotFound) {
			NotFound(c, accounts.ErrProfileNotFound.Error())
			return
		}
		loggerFor(c, h.logger).Error("set approval failed", slog.Any("error", err))
		Internal(c, "failed to update approval")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_approved": *req.IsApproved})
}

func (h *AdminHandler) profileParam(c *gin.Context) (*database.Profile, bool) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		NotFound(c, accounts.ErrProfileNotFound.Error())
		return nil, false
	}
	profile, err := h.accounts.ProfileByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrProfileNotFound) {
			NotFound(c, accounts.ErrProfileNotFound.Error())
			return nil, false
		}
		loggerFor(c, h.logger).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return profile, true
}
