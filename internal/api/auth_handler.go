package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"portfolio/internal/accounts"
	"portfolio/internal/auth"
	"portfolio/internal/captcha"
	"portfolio/internal/database"
	"portfolio/internal/events"
	"portfolio/internal/tasks"
)

const refreshTokenCookieName = "refresh_token"
const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"
const passwordResetKeyPrefix = "auth:pwreset:"
const passwordResetTokenLength = 40

// AuthOptions 汇总认证流程的可调参数。
type AuthOptions struct {
	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
	CookieDomain          string
	RequireVerifiedEmail  bool
	PasswordResetTTL      time.Duration
}

// AuthHandler 处理注册、登录、刷新、退出、邮箱验证与密码重置。
type AuthHandler struct {
	db          *gorm.DB
	authService *auth.AuthService
	accounts    *accounts.Service
	redis       redis.UniversalClient
	captcha     captcha.Verifier
	queue       TaskEnqueuer
	events      events.Publisher
	logger      *slog.Logger
	opts        AuthOptions
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(
	db *gorm.DB,
	authService *auth.AuthService,
	accountsSvc *accounts.Service,
	redisClient redis.UniversalClient,
	verifier captcha.Verifier,
	queue TaskEnqueuer,
	publisher events.Publisher,
	logger *slog.Logger,
	opts AuthOptions,
) *AuthHandler {
	if verifier == nil {
		verifier = captcha.Disabled{}
	}
	if opts.PasswordResetTTL <= 0 {
		opts.PasswordResetTTL = time.Hour
	}
	return &AuthHandler{
		db:          db,
		authService: authService,
		accounts:    accountsSvc,
		redis:       redisClient,
		captcha:     verifier,
		queue:       queue,
		events:      publisher,
		logger:      logger,
		opts:        opts,
	}
}

type registerRequest struct {
	FirstName    string `json:"first_name" binding:"required,max=50"`
	LastName     string `json:"last_name" binding:"required,max=50"`
	Username     string `json:"username" binding:"required,min=3,max=30"`
	Email        string `json:"email" binding:"required,email,max=200"`
	Password1    string `json:"password1" binding:"required,min=8,max=72"`
	Password2    string `json:"password2" binding:"required,eqfield=Password1"`
	CaptchaToken string `json:"captcha_token"`
}

// Register 创建账号与 Profile，随后发送验证邮件并通知管理员。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()
	username := accounts.NormalizeUsername(req.Username)
	logger := loggerFor(c, h.logger).With(slog.String("username", username))

	if !h.verifyCaptcha(c, req.CaptchaToken, ip, logger) {
		return
	}

	hashed, err := h.authService.HashPassword(req.Password1)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	profile, err := h.accounts.Register(ctx, accounts.RegisterInput{
		Username:     username,
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hashed,
		IP:           ip,
	})
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailDomainNotAllowed):
			BadRequest(c, "email domain is not allowed")
		case errors.Is(err, accounts.ErrUsernameTaken):
			Conflict(c, "username already taken")
		case errors.Is(err, accounts.ErrEmailTaken):
			Conflict(c, "email already registered")
		default:
			logger.Error("register failed", slog.Any("error", err))
			Internal(c, "internal error")
		}
		return
	}

	task, taskErr := tasks.NewEmailVerificationTask(profile.ID)
	_, _ = enqueue(ctx, h.queue, logger, task, taskErr)
	publishEvent(c, h.events, logger, events.TypeAccountCreated, events.AccountCreated{
		ProfileID: profile.ID,
		UserID:    profile.UserID,
		Username:  profile.Username,
		Email:     profile.Email,
		FirstName: profile.FName,
		LastName:  profile.LName,
		IP:        ip,
	})
	logger.Info("user registered", slog.Uint64("user_id", uint64(profile.UserID)))

	body := gin.H{"profile": profile}
	if !h.opts.RequireVerifiedEmail {
		tokenPair, err := h.authService.GenerateTokenPair(profile.UserID, false)
		if err != nil {
			logger.Error("generate token pair failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		h.setRefreshCookie(c, tokenPair.RefreshToken)
		body["access_token"] = tokenPair.AccessToken
		body["token_type"] = "Bearer"
		body["expires_in"] = int(h.authService.AccessTokenTTL().Seconds())
	}
	c.JSON(http.StatusCreated, body)
}

type loginRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	CaptchaToken string `json:"captcha_token"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Login 校验口令并返回 Token。
func (h *AuthHandler) Login(c *gin.Context) {
	ip := c.ClientIP()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	username := accounts.NormalizeUsername(req.Username)
	logger := loggerFor(c, h.logger).With(slog.String("username", username))

	// 速率限制：每 IP+用户名 每小时
	rateKey := "rate:login:" + ip + ":" + username + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if h.opts.LoginRateLimitPerHour > 0 && count > int64(h.opts.LoginRateLimitPerHour) {
		TooManyRequests(c, "rate limit exceeded")
		return
	}

	// 锁定检查
	lockKey := "lock:login:" + username
	if ttl, _ := h.redis.TTL(ctx, lockKey).Result(); ttl > 0 {
		TooManyRequests(c, "account temporarily locked")
		return
	}

	if !h.verifyCaptcha(c, req.CaptchaToken, ip, logger) {
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Preload("Profile").Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			_ = h.incrementLoginFail(ctx, username)
			UnauthorizedMsg(c, "User does not exist.")
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		_ = h.incrementLoginFail(ctx, username)
		UnauthorizedMsg(c, "Invalid password")
		return
	}
	if !user.IsActive {
		Forbidden(c, "account disabled")
		return
	}
	if h.opts.RequireVerifiedEmail && user.Profile != nil && !user.Profile.EmailValid && !user.Profile.IsSuperuser {
		Forbidden(c, "email not verified")
		return
	}

	// 登录成功：清理失败计数
	_ = h.redis.Del(ctx, "lock:login:fail:"+username).Err()

	if added, err := h.accounts.RecordIP(ctx, user.ID, ip); err != nil {
		logger.Warn("record login ip failed", slog.Any("error", err))
	} else if added {
		logger.Info("new login ip recorded", slog.String("ip", ip))
	}
	now := time.Now().UTC()
	if err := h.db.WithContext(ctx).Model(&user).UpdateColumn("last_login", &now).Error; err != nil {
		logger.Warn("update last login failed", slog.Any("error", err))
	}

	mustChangePassword := user.MustChangePassword
	tokenPair, err := h.authService.GenerateTokenPair(user.ID, mustChangePassword)
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair, mustChangePassword)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh 校验刷新令牌并颁发新的 TokenPair。
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger)

	claims, ok := h.validRefreshClaims(refreshToken, logger)
	if !ok {
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.redis.Get(ctx, key).Err(); err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	} else if !errors.Is(err, redis.Nil) {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil || !user.IsActive {
		logger.Info("refresh user unavailable", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	mustChangePassword := user.MustChangePassword
	tokenPair, err := h.authService.GenerateTokenPair(claims.UserID, mustChangePassword)
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 旋转旧刷新令牌，防止重复使用。
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair, mustChangePassword)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,max=72"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required,eqfield=NewPassword"`
}

// ChangePassword 校验当前密码并更新为新密码，同时清除强制改密标记。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		logger.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if !h.authService.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		logger.Info("change password: current password mismatch")
		UnauthorizedMsg(c, "Invalid password")
		return
	}

	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		BadRequest(c, "new password must be different from current password")
		return
	}

	if err := h.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if refreshToken, err := c.Cookie(refreshTokenCookieName); err == nil && refreshToken != "" {
		if claims, ok := h.validRefreshClaims(refreshToken, logger); ok {
			key := refreshTokenBlacklistKeyPrefix + claims.ID
			if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
				logger.Error("change password: revoke refresh failed", slog.Any("error", err))
				Internal(c, "internal error")
				return
			}
		}
	}

	tokenPair, err := h.authService.GenerateTokenPair(user.ID, false)
	if err != nil {
		logger.Error("change password: generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair, false)
}

// Logout 将刷新令牌加入黑名单，防止继续使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		BadRequest(c, "refresh token missing")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger)

	claims, ok := h.validRefreshClaims(refreshToken, logger)
	if !ok {
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 清除 Cookie。
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.opts.CookieDomain),
	})
	c.Status(http.StatusOK)
}

// VerifyEmail 处理邮件中的验证链接。
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	profileID, err := parseUUIDParam(c, "profileID")
	if err != nil {
		BadRequest(c, accounts.ErrInvalidVerification.Error())
		return
	}

	profile, err := h.accounts.VerifyEmail(c.Request.Context(), profileID, c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrInvalidVerification):
			BadRequest(c, accounts.ErrInvalidVerification.Error())
		case errors.Is(err, accounts.ErrVerificationExpired):
			Gone(c, accounts.ErrVerificationExpired.Error())
		default:
			loggerFor(c, h.logger).Error("verify email failed", slog.Any("error", err))
			Internal(c, "internal error")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified", "username": profile.Username})
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResendVerification 为未验证的邮箱重新发送验证邮件，始终返回 202。
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger)

	profile, err := h.accounts.PrepareVerification(ctx, req.Email)
	if err != nil {
		logger.Error("prepare verification failed", slog.Any("error", err))
	}
	if profile != nil {
		task, taskErr := tasks.NewEmailVerificationTask(profile.ID)
		_, _ = enqueue(ctx, h.queue, logger, task, taskErr)
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "if the address is registered and unverified, a new link has been sent"})
}

// RequestPasswordReset 生成一次性重置令牌并发送邮件，始终返回 202。
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger)
	accepted := gin.H{"message": "if the address is registered, a reset link has been sent"}

	var user database.User
	err := h.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("password reset lookup failed", slog.Any("error", err))
		}
		c.JSON(http.StatusAccepted, accepted)
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusAccepted, accepted)
		return
	}

	token, err := auth.RandomToken(passwordResetTokenLength)
	if err != nil {
		logger.Error("generate reset token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	key := passwordResetKeyPrefix + token
	if err := h.redis.Set(ctx, key, strconv.FormatUint(uint64(user.ID), 10), h.opts.PasswordResetTTL).Err(); err != nil {
		logger.Error("store reset token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	task, taskErr := tasks.NewEmailPasswordResetTask(user.ID, token)
	if _, err := enqueue(ctx, h.queue, logger, task, taskErr); err != nil {
		_ = h.redis.Del(ctx, key).Err()
	}
	c.JSON(http.StatusAccepted, accepted)
}

type passwordResetConfirmRequest struct {
	Token     string `json:"token" binding:"required"`
	Password1 string `json:"password1" binding:"required,min=8,max=72"`
	Password2 string `json:"password2" binding:"required,eqfield=Password1"`
}

// ConfirmPasswordReset 消费重置令牌并设置新密码。
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req passwordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	logger := loggerFor(c, h.logger)

	value, err := consumeOnce(ctx, h.redis, passwordResetKeyPrefix+req.Token)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Error("consume reset token failed", slog.Any("error", err))
		}
		BadRequest(c, "invalid or expired reset token")
		return
	}
	userID, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		BadRequest(c, "invalid or expired reset token")
		return
	}

	if err := h.setPassword(ctx, uint(userID), req.Password1); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			BadRequest(c, "invalid or expired reset token")
			return
		}
		logger.Error("reset password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	logger.Info("password reset completed", slog.Uint64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h *AuthHandler) setPassword(ctx context.Context, userID uint, password string) error {
	hashed, err := h.authService.HashPassword(password)
	if err != nil {
		return err
	}
	res := h.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (h *AuthHandler) verifyCaptcha(c *gin.Context, token, ip string, logger *slog.Logger) bool {
	err := h.captcha.Verify(c.Request.Context(), token, ip)
	if err == nil {
		return true
	}
	if errors.Is(err, captcha.ErrMissingToken) || errors.Is(err, captcha.ErrRejected) {
		logger.Info("captcha rejected", slog.Any("error", err))
		BadRequest(c, "captcha verification failed")
		return false
	}
	logger.Error("captcha verification error", slog.Any("error", err))
	Internal(c, "captcha verification unavailable")
	return false
}

func (h *AuthHandler) validRefreshClaims(token string, logger *slog.Logger) (*auth.TokenClaims, bool) {
	claims, err := h.authService.ValidateTokenType(token, auth.TokenTypeRefresh)
	if err != nil {
		logger.Info("refresh token rejected", slog.Any("error", err))
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, tokenPair auth.TokenPair, mustChangePassword bool) {
	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        tokenPair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		MustChangePassword: mustChangePassword,
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.opts.CookieDomain),
		Expires:  time.Now().Add(h.authService.RefreshTokenTTL()),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) incrementLoginFail(ctx context.Context, username string) error {
	failKey := "lock:login:fail:" + username
	count, err := h.redis.Incr(ctx, failKey).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		_ = h.redis.Expire(ctx, failKey, h.opts.LoginLockTTL).Err()
	}
	if h.opts.LoginLockThreshold > 0 && count >= int64(h.opts.LoginLockThreshold) {
		_ = h.redis.Set(ctx, "lock:login:"+username, "1", h.opts.LoginLockTTL).Err()
	}
	return nil
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}
