package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"drive/internal/server/auth"
	"drive/internal/server/config"
)

// Router holds everything SetupRouter wires together.
type Router struct {
	Handler *Handler
	// Blobs is nil unless the filesystem gateway is in use.
	Blobs  *BlobHandler
	Gate   auth.Gate
	Logger *zap.Logger
}

// SetupRouter creates and configures the echo router with all routes and middleware.
// The returned limiter should be closed on shutdown.
func SetupRouter(r Router, cfg *config.ServerConfig) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(r.Logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	// Rate limiter on upload init and anonymous share resolution
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	e.GET("/health", r.Handler.HandleHealth)

	if r.Blobs != nil {
		e.PUT("/blob/*", r.Blobs.HandlePut)
		e.GET("/blob/*", r.Blobs.HandleGet)
	}

	api := e.Group("/api")

	// Anonymous
	api.GET("/shared/:shareId", r.Handler.HandleResolveShare, limiter.Middleware())

	authed := api.Group("", RequireAuth(r.Gate))

	authed.POST("/folders", r.Handler.HandleCreateFolder)
	authed.GET("/folders/:id", r.Handler.HandleListFolder)
	authed.PATCH("/folders/:id", r.Handler.HandleUpdateFolder)
	authed.DELETE("/folders/:id", r.Handler.HandleDeleteFolder)

	authed.POST("/files/init", r.Handler.HandleInitUpload, limiter.Middleware())
	authed.POST("/files/complete", r.Handler.HandleCompleteUpload)
	authed.GET("/files/:id", r.Handler.HandleGetFile)
	authed.DELETE("/files/:id", r.Handler.HandleDeleteFile)
	authed.POST("/files/:id/share", r.Handler.HandleShare)
	authed.POST("/files/:id/share-email", r.Handler.HandleShareEmail)

	authed.GET("/search", r.Handler.HandleSearch)
	authed.GET("/shared-with-me", r.Handler.HandleSharedWithMe)

	authed.GET("/trash", r.Handler.HandleListTrash)
	authed.POST("/trash/restore", r.Handler.HandleRestore)
	authed.DELETE("/trash/:id", r.Handler.HandlePermanentDelete)

	return e, limiter
}
