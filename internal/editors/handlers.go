package editors

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
)

// OpenInCursorRequest is the body of POST /api/open-in-cursor.
type OpenInCursorRequest struct {
	Filepath string `json:"filepath"`
}

// OpenEditorRequest is the body of POST /api/v1/editor/open.
type OpenEditorRequest struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

type Handlers struct {
	service *Service
	logger  *logger.Logger
}

func NewHandlers(svc *Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "editors-handlers")),
	}
}

func RegisterRoutes(router gin.IRouter, svc *Service, log *logger.Logger) {
	h := NewHandlers(svc, log)
	router.POST("/api/open-in-cursor", h.httpOpenInCursor)
	router.POST("/api/v1/editor/open", h.httpOpenEditor)
}

func (h *Handlers) httpOpenInCursor(c *gin.Context) {
	var req OpenInCursorRequest
	if !bindBody(c, &req) {
		return
	}
	h.open(c, req.Filepath, 0, 0)
}

func (h *Handlers) httpOpenEditor(c *gin.Context) {
	var req OpenEditorRequest
	if !bindBody(c, &req) {
		return
	}
	h.open(c, req.FilePath, req.Line, req.Column)
}

// bindBody decodes a JSON body into req. An empty body leaves req zero so the
// missing path is reported; an unparseable one is answered with 400.
func bindBody(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}

func (h *Handlers) open(c *gin.Context, path string, line, column int) {
	err := h.service.OpenFile(c.Request.Context(), path, line, column)
	switch {
	case errors.Is(err, ErrPathRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrPathRequired.Error()})
	case err != nil:
		h.logger.Error("failed to open file in editor", zap.String("path", path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to open file in editor",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("Opened %s in %s", path, h.service.Name()),
		})
	}
}
