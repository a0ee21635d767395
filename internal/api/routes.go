package api

import (
	"github.com/gin-gonic/gin"

	"portfolio/internal/api/middleware"
	"portfolio/internal/config"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, cfg *config.Config, deps Dependencies) {
	authHandler := NewAuthHandler(
		deps.DB,
		deps.AuthService,
		deps.Accounts,
		deps.Redis,
		deps.Captcha,
		deps.Queue,
		deps.Events,
		deps.Logger,
		AuthOptions{
			LoginRateLimitPerHour: cfg.Auth.LoginRateLimitPerHour,
			LoginLockThreshold:    cfg.Auth.LoginLockThreshold,
			LoginLockTTL:          cfg.Auth.LoginLockTTL,
			CookieDomain:          cfg.API.CookieDomain,
			RequireVerifiedEmail:  cfg.Accounts.RequireVerifiedEmail,
			PasswordResetTTL:      cfg.Accounts.PasswordResetTTL,
		},
	)
	profileHandler := NewProfileHandler(deps.Accounts, deps.Storage, deps.Scanner, deps.Queue, deps.Logger, cfg.Accounts.MaxPhotoBytes)
	adminHandler := NewAdminHandler(deps.Accounts, deps.Blacklist, deps.Logger)
	forumHandler := NewForumHandler(deps.Forum, deps.Accounts, deps.Queue, deps.Logger, cfg.Forum.MaxDepth)
	resumeHandler := NewResumeHandler(deps.Resumes, deps.Accounts, deps.Queue, deps.Storage, deps.Logger)
	sectionHandler := NewSectionHandler(deps.Resumes, deps.Accounts, deps.Logger)
	wsHandler := NewWsHandler(deps.Redis, deps.AuthService, deps.Accounts, deps.Logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.AuthService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
			authGroup.GET("/verify-email/:profileID/:token", authHandler.VerifyEmail)
			authGroup.POST("/resend-verification", authHandler.ResendVerification)
			authGroup.POST("/password-reset", authHandler.RequestPasswordReset)
			authGroup.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)
		}

		profileGroup := v1.Group("/profile")
		profileGroup.Use(authMiddleware, passwordGate)
		{
			profileGroup.GET("", profileHandler.GetProfile)
			profileGroup.PUT("", profileHandler.UpdateProfile)
			profileGroup.DELETE("", profileHandler.DeleteProfile)
			profileGroup.GET("/photo", profileHandler.GetPhoto)
			profileGroup.POST("/photo", profileHandler.UploadPhoto)
			profileGroup.GET("/ips", profileHandler.ListIPs)
		}

		forumGroup := v1.Group("/forum")
		{
			forumGroup.GET("/posts", forumHandler.ListPosts)
			forumGroup.GET("/posts/:postID", forumHandler.GetPost)

			member := forumGroup.Group("")
			member.Use(authMiddleware, passwordGate)
			member.POST("/posts", forumHandler.CreatePost)
			member.PUT("/posts/:postID", forumHandler.UpdatePost)
			member.DELETE("/posts/:postID", forumHandler.DeletePost)
			member.POST("/posts/:postID/comments", forumHandler.CreateComment)
			member.POST("/posts/:postID/comments/:commentID/replies", forumHandler.CreateReply)
			member.PUT("/comments/:commentID", forumHandler.UpdateComment)
			member.DELETE("/comments/:commentID", forumHandler.DeleteComment)
		}

		app := v1.Group("")
		app.Use(authMiddleware, passwordGate)
		{
			app.GET("/dashboard", resumeHandler.Dashboard)

			app.GET("/resumes", resumeHandler.ListResumes)
			app.POST("/resumes", resumeHandler.CreateResume)
			app.GET("/resumes/:id", resumeHandler.GetResume)
			app.PUT("/resumes/:id", resumeHandler.UpdateResume)
			app.DELETE("/resumes/:id", resumeHandler.DeleteResume)
			app.GET("/resumes/:id/sections/:section", resumeHandler.LinkedSection)
			app.POST("/resumes/:id/sections/:section", sectionHandler.AddToResume)
			app.GET("/resumes/:id/print", resumeHandler.PrintResume)
			app.POST("/resumes/:id/download", resumeHandler.DownloadResume)
			app.GET("/resumes/:id/download-link", resumeHandler.GetDownloadLink)

			app.GET("/sections/:section", sectionHandler.List)
			app.POST("/sections/:section", sectionHandler.Add)
			app.Any("/sections/:section/order", sectionHandler.Reorder)
			app.GET("/sections/:section/items/:itemID", sectionHandler.Get)
			app.PUT("/sections/:section/items/:itemID", sectionHandler.Update)
			app.DELETE("/sections/:section/items/:itemID", sectionHandler.Delete)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(authMiddleware, passwordGate, middleware.RequireStaffMiddleware(deps.Accounts))
		{
			adminGroup.GET("/blacklist", adminHandler.ListBlacklist)
			adminGroup.POST("/blacklist", adminHandler.AddBlacklist)
			adminGroup.DELETE("/blacklist/:id", adminHandler.RemoveBlacklist)
			adminGroup.GET("/profiles/:id/ips", adminHandler.ProfileIPs)
			adminGroup.POST("/profiles/:id/blacklist", adminHandler.BlockProfile)
			adminGroup.PUT("/profiles/:id/approval", adminHandler.SetApproval)
		}
	}
}
