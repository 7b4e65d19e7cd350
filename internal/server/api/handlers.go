package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"drive/internal/server/auth"
	"drive/internal/server/logging"
	"drive/internal/server/service"
	"drive/internal/version"
)

// Handler contains the HTTP handlers for the drive API.
type Handler struct {
	svc *service.DriveService
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.DriveService) *Handler {
	return &Handler{svc: svc}
}

type createFolderRequest struct {
	Name     string  `json:"name" validate:"required"`
	ParentID *string `json:"parentId"`
}

type updateFolderRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentId"`
}

type initUploadRequest struct {
	Name     string  `json:"name" validate:"required"`
	FolderID *string `json:"folderId"`
}

type completeUploadRequest struct {
	FileID     string  `json:"fileId" validate:"required"`
	Name       string  `json:"name" validate:"required"`
	MimeType   string  `json:"mimeType"`
	SizeBytes  *int64  `json:"sizeBytes" validate:"required,min=0"`
	FolderID   *string `json:"folderId"`
	StorageKey string  `json:"storageKey" validate:"required"`
}

type restoreRequest struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required,oneof=folder file"`
}

type shareEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// caller returns the authenticated identity set by RequireAuth.
func caller(c echo.Context) *auth.Identity {
	id, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return &auth.Identity{}
	}
	return id
}

// HandleCreateFolder handles POST /api/folders.
func (h *Handler) HandleCreateFolder(c echo.Context) error {
	var req createFolderRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	folder, err := h.svc.CreateFolder(c.Request().Context(), caller(c).UserID, req.Name, req.ParentID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toFolder(folder))
}

// HandleListFolder handles GET /api/folders/:id. The id "root" lists the top level.
func (h *Handler) HandleListFolder(c echo.Context) error {
	listing, err := h.svc.ListFolder(c.Request().Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"folder":  toFolder(listing.Folder),
		"folders": toFolders(listing.Folders),
		"files":   toFiles(listing.Files),
	})
}

// HandleUpdateFolder handles PATCH /api/folders/:id.
func (h *Handler) HandleUpdateFolder(c echo.Context) error {
	var req updateFolderRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	folder, err := h.svc.UpdateFolder(c.Request().Context(), caller(c).UserID, c.Param("id"), service.FolderUpdate{
		Name:     req.Name,
		ParentID: req.ParentID,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toFolder(folder))
}

// HandleDeleteFolder handles DELETE /api/folders/:id.
func (h *Handler) HandleDeleteFolder(c echo.Context) error {
	if err := h.svc.DeleteFolder(c.Request().Context(), caller(c).UserID, c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "folder moved to trash"})
}

// HandleInitUpload handles POST /api/files/init.
func (h *Handler) HandleInitUpload(c echo.Context) error {
	var req initUploadRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	upload, err := h.svc.InitUpload(c.Request().Context(), caller(c).UserID, req.Name, req.FolderID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"fileId":     upload.FileID,
		"storageKey": upload.StorageKey,
		"uploadUrl":  upload.UploadURL,
		"token":      upload.Token,
		"expiresAt":  upload.ExpiresAt,
	})
}

// HandleCompleteUpload handles POST /api/files/complete.
func (h *Handler) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	file, err := h.svc.CompleteUpload(c.Request().Context(), caller(c).UserID, service.CompleteUploadInput{
		FileID:     req.FileID,
		Name:       req.Name,
		MimeType:   req.MimeType,
		SizeBytes:  *req.SizeBytes,
		FolderID:   req.FolderID,
		StorageKey: req.StorageKey,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toFile(file))
}

// HandleGetFile handles GET /api/files/:id and returns a download capability.
func (h *Handler) HandleGetFile(c echo.Context) error {
	dl, err := h.svc.GetDownload(c.Request().Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"name":      dl.File.Name,
		"url":       dl.URL,
		"expiresAt": dl.ExpiresAt,
		"file":      toFile(dl.File),
	})
}

// HandleDeleteFile handles DELETE /api/files/:id (soft delete).
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	if err := h.svc.DeleteFile(c.Request().Context(), caller(c).UserID, c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file moved to trash"})
}

// HandleSearch handles GET /api/search?q=.
func (h *Handler) HandleSearch(c echo.Context) error {
	files, err := h.svc.Search(c.Request().Context(), caller(c).UserID, c.QueryParam("q"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": toFiles(files)})
}

// HandleShare handles POST /api/files/:id/share.
func (h *Handler) HandleShare(c echo.Context) error {
	share, err := h.svc.Share(c.Request().Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toShare(share))
}

// HandleShareEmail handles POST /api/files/:id/share-email.
func (h *Handler) HandleShareEmail(c echo.Context) error {
	var req shareEmailRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	share, err := h.svc.ShareWithEmail(c.Request().Context(), caller(c).UserID, c.Param("id"), req.Email)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toShare(share))
}

// HandleResolveShare handles GET /api/shared/:shareId. No authentication.
func (h *Handler) HandleResolveShare(c echo.Context) error {
	shared, err := h.svc.ResolveSharedFile(c.Request().Context(), c.Param("shareId"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"file": &publicFileResponse{
			ID:        shared.File.ID,
			Name:      shared.File.Name,
			MimeType:  shared.File.MimeType,
			SizeBytes: shared.File.SizeBytes,
		},
		"downloadUrl": shared.URL,
		"expiresAt":   shared.ExpiresAt,
	})
}

// HandleSharedWithMe handles GET /api/shared-with-me.
func (h *Handler) HandleSharedWithMe(c echo.Context) error {
	files, err := h.svc.ListSharedWithMe(c.Request().Context(), caller(c).Email)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": toFiles(files)})
}

// HandleListTrash handles GET /api/trash.
func (h *Handler) HandleListTrash(c echo.Context) error {
	trash, err := h.svc.ListTrash(c.Request().Context(), caller(c).UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"folders": toFolders(trash.Folders),
		"files":   toFiles(trash.Files),
	})
}

// HandleRestore handles POST /api/trash/restore.
func (h *Handler) HandleRestore(c echo.Context) error {
	var req restoreRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if err := h.svc.Restore(c.Request().Context(), caller(c).UserID, req.ID, req.Type); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": req.Type + " restored"})
}

// HandlePermanentDelete handles DELETE /api/trash/:id?type=.
func (h *Handler) HandlePermanentDelete(c echo.Context) error {
	res, err := h.svc.PermanentDelete(c.Request().Context(), caller(c).UserID, c.Param("id"), c.QueryParam("type"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"blobsPurged":  res.BlobsPurged,
		"blobsPending": res.BlobsPending,
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including metadata store connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.svc.Ping(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = "unreachable"
		logging.FromContext(c.Request().Context()).Warn("health check failed", zap.Error(err))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
		"version":  version.Version,
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	default:
		logging.FromContext(c.Request().Context()).Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// errorHandler renders framework errors (bad bodies, unknown routes) in
// the same {"error": ...} shape as handler errors.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		logging.FromContext(c.Request().Context()).Error("unhandled error", zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, echo.Map{"error": msg})
}
