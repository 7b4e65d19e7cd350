package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"drive/internal/server/logging"
	"drive/internal/server/storage"
)

// BlobHandler serves filesystem-gateway capabilities. Requests carry no
// bearer token; the signed query string is the credential.
type BlobHandler struct {
	gw *storage.FileSystemGateway
}

func NewBlobHandler(gw *storage.FileSystemGateway) *BlobHandler {
	return &BlobHandler{gw: gw}
}

// blobKey reads the key from the decoded request path rather than the
// route param, so escaped characters in file names survive intact.
func blobKey(c echo.Context) string {
	return strings.TrimPrefix(c.Request().URL.Path, "/blob/")
}

// HandlePut handles PUT /blob/* with an upload capability.
func (b *BlobHandler) HandlePut(c echo.Context) error {
	key := blobKey(c)
	q := c.QueryParams()
	if err := b.gw.Verify(http.MethodPut, key, "", q.Get("expires"), q.Get("sig")); err != nil {
		return capabilityError(c, err)
	}

	n, err := b.gw.Save(key, c.Request().Body)
	switch {
	case errors.Is(err, storage.ErrObjectExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "object already exists"})
	case errors.Is(err, storage.ErrObjectPurged):
		return c.JSON(http.StatusGone, echo.Map{"error": "object was deleted"})
	case err != nil:
		logging.FromContext(c.Request().Context()).Error("blob write failed", zap.String("storage_key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store object"})
	}
	return c.JSON(http.StatusOK, echo.Map{"storageKey": key, "size": n})
}

// HandleGet handles GET /blob/* with a download capability.
func (b *BlobHandler) HandleGet(c echo.Context) error {
	key := blobKey(c)
	q := c.QueryParams()
	name := q.Get("name")
	if err := b.gw.Verify(http.MethodGet, key, name, q.Get("expires"), q.Get("sig")); err != nil {
		return capabilityError(c, err)
	}

	path, err := b.gw.GetPath(key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "object not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read object"})
	}

	if name != "" {
		return c.Attachment(path, name)
	}
	return c.File(path)
}

func capabilityError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid storage key"})
	case errors.Is(err, storage.ErrCapabilityExpired):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "capability expired"})
	default:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid signature"})
	}
}
