package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LogsHandler exposes the operator activity log the dashboard shows in
// its CLI panel: read the file, append a line, wipe it.
type LogsHandler struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func NewLogsHandler(path string, logger *zap.Logger) *LogsHandler {
	return &LogsHandler{path: path, logger: logger}
}

// View returns the log as plain text. A missing file reads as empty.
func (h *LogsHandler) View(c *gin.Context) {
	h.mu.Lock()
	data, err := os.ReadFile(h.path)
	h.mu.Unlock()
	if err != nil {
		data = nil
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

type appendLogRequest struct {
	Msg string `json:"msg"`
}

// Append adds one timestamped line. An empty or unparseable message is
// ignored rather than rejected; the dashboard fires these blind.
func (h *LogsHandler) Append(c *gin.Context) {
	var req appendLogRequest
	_ = c.ShouldBindJSON(&req)
	if req.Msg != "" {
		if err := h.appendLine(req.Msg); err != nil {
			h.logger.Warn("cli log append failed", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Clear truncates the log.
func (h *LogsHandler) Clear(c *gin.Context) {
	h.mu.Lock()
	err := os.WriteFile(h.path, nil, 0o644)
	h.mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		h.logger.Warn("cli log clear failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *LogsHandler) appendLine(msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)
	return err
}
