package attachment

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/abduss/gomedia/internal/auth"
	"github.com/abduss/gomedia/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterRoutes mounts attachment operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/attachments", handler.upload)
	group.GET("/attachments/:id", handler.get)
	group.DELETE("/attachments/:id", handler.delete)
	group.POST("/attachments/:id/sanitize", handler.resanitize)
	group.POST("/attachments/:id/previews", handler.regenerate)
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) upload(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if limit := h.service.cfg.MaxUploadSize; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	var postID *uuid.UUID
	if raw := c.PostForm("post_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
			return
		}
		postID = &id
	}

	path, err := h.saveUpload(fileHeader)
	if err != nil {
		logger.With(zap.L(), c).Error("save upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to receive upload"})
		return
	}
	defer func() { _ = removeIfExists(path) }()

	a, err := h.service.Create(c.Request.Context(), CreateInput{
		FilePath: path,
		FileName: fileHeader.Filename,
		UserID:   userID,
		PostID:   postID,
	})
	if err != nil {
		h.fail(c, err, "failed to store upload")
		return
	}

	status := http.StatusCreated
	if a.InProgress() {
		status = http.StatusAccepted
	}
	h.respond(c, status, a)
}

func (h *httpHandler) get(c *gin.Context) {
	who, id, ok := h.target(c)
	if !ok {
		return
	}
	a, err := h.service.Get(c.Request.Context(), id, who)
	if err != nil {
		h.fail(c, err, "failed to load attachment")
		return
	}
	h.respond(c, http.StatusOK, a)
}

func (h *httpHandler) delete(c *gin.Context) {
	who, id, ok := h.target(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, who); err != nil {
		h.fail(c, err, "failed to delete attachment")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) resanitize(c *gin.Context) {
	who, id, ok := h.target(c)
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), id, who); err != nil {
		h.fail(c, err, "failed to load attachment")
		return
	}
	a, err := h.service.Resanitize(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to sanitize attachment")
		return
	}
	h.respond(c, http.StatusOK, a)
}

func (h *httpHandler) regenerate(c *gin.Context) {
	who, id, ok := h.target(c)
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), id, who); err != nil {
		h.fail(c, err, "failed to load attachment")
		return
	}
	a, err := h.service.RegeneratePreviews(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to regenerate previews")
		return
	}
	h.respond(c, http.StatusOK, a)
}

func (h *httpHandler) target(c *gin.Context) (Requester, uuid.UUID, bool) {
	userID, user, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return Requester{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return Requester{}, uuid.Nil, false
	}
	return Requester{UserID: userID, Admin: user.IsAdmin}, id, true
}

func (h *httpHandler) respond(c *gin.Context, status int, a Attachment) {
	view, err := h.service.View(c.Request.Context(), a)
	if err != nil {
		h.fail(c, err, "failed to resolve attachment urls")
		return
	}
	c.JSON(status, view)
}

func (h *httpHandler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many uploads are still processing"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "attachment is still processing"})
	default:
		logger.With(zap.L(), c).Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

// saveUpload copies the multipart file into the temp dir. The service takes
// the file over from here.
func (h *httpHandler) saveUpload(fileHeader *multipart.FileHeader) (string, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.service.cfg.TempDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
