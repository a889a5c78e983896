// Package handler exposes the file vault over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/encryption"
	"careportal/internal/platform/httpx"
	"careportal/internal/vault/domain"
	"careportal/internal/vault/service"
)

// multipartOverhead is the allowance for form boundaries and headers on top of the file itself.
const multipartOverhead = 64 << 10

// Vault is the vault service as used by the handlers.
type Vault interface {
	Store(ctx context.Context, in service.UploadInput) (*domain.FileRecord, error)
	Retrieve(ctx context.Context, fileID string) ([]byte, *domain.FileRecord, error)
	Delete(ctx context.Context, fileID string) error
	List(ctx context.Context, ownerID string) ([]*domain.FileRecord, error)
	UploadLimit() int64
}

type Handler struct {
	svc Vault
}

func NewHandler(svc Vault) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the file routes on a group that already requires a bearer token.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/files", h.Upload)
	g.GET("/files", h.List)
	g.GET("/files/:id", h.Download)
	g.DELETE("/files/:id", h.Delete)
}

type fileView struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	UploadedBy   string `json:"uploaded_by"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	CreatedAt    string `json:"created_at"`
}

func view(f *domain.FileRecord) fileView {
	return fileView{
		ID:           f.ID,
		OwnerID:      f.OwnerID,
		UploadedBy:   f.UploadedBy,
		OriginalName: f.OriginalName,
		MimeType:     f.MimeType,
		Size:         f.Size,
		CreatedAt:    f.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Upload accepts multipart field "file" and optional "owner_id". The body is capped before it is
// read, so an oversized upload is refused without buffering it whole.
func (h *Handler) Upload(c *gin.Context) {
	limit := h.svc.UploadLimit()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Fail(c, http.StatusRequestEntityTooLarge, service.ErrTooLarge.Error())
			return
		}
		httpx.Fail(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	if fh.Size > limit {
		httpx.Fail(c, http.StatusRequestEntityTooLarge, service.ErrTooLarge.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		httpx.Internal(c, "vault", err)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		httpx.Internal(c, "vault", err)
		return
	}
	rec, err := h.svc.Store(httpx.Ctx(c), service.UploadInput{
		OwnerID:      c.PostForm("owner_id"),
		OriginalName: fh.Filename,
		Content:      content,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view(rec))
}

// Download returns the decrypted file as an attachment.
func (h *Handler) Download(c *gin.Context) {
	content, rec, err := h.svc.Retrieve(httpx.Ctx(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
	c.Data(http.StatusOK, rec.MimeType, content)
}

// List returns file metadata for owner_id (default: the caller).
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(httpx.Ctx(c), c.Query("owner_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]fileView, 0, len(list))
	for _, f := range list {
		out = append(out, view(f))
	}
	c.JSON(http.StatusOK, gin.H{"files": out})
}

// Delete removes a file. Owner or admin only.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(httpx.Ctx(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, err error) {
	if httpx.RBAC(c, err) {
		return
	}
	switch {
	case errors.Is(err, service.ErrAccessDenied):
		httpx.Fail(c, http.StatusForbidden, "access denied")
	case errors.Is(err, service.ErrNotFound):
		httpx.Fail(c, http.StatusNotFound, "file not found")
	case errors.Is(err, service.ErrTooLarge):
		httpx.Fail(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUnsupportedType):
		httpx.Fail(c, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrEmptyFile):
		httpx.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, encryption.ErrCrypto):
		httpx.Internal(c, "vault", fmt.Errorf("stored file cannot be decrypted: %w", err))
	default:
		httpx.Internal(c, "vault", err)
	}
}
