package handler

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// DownloadHandler serves stored exports behind signed tokens.
type DownloadHandler struct {
	exports exportService
}

// NewDownloadHandler constructs DownloadHandler.
func NewDownloadHandler(exports exportService) *DownloadHandler {
	return &DownloadHandler{exports: exports}
}

// Download godoc
// @Summary Download a published export
// @Tags Downloads
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /downloads/{token} [get]
func (h *DownloadHandler) Download(c *gin.Context) {
	file, claims, err := h.exports.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	name := filepath.Base(claims.Path)
	if parts := strings.SplitN(name, "-", 2); len(parts) == 2 && parts[1] != "" {
		name = parts[1]
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	})
}
