package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/callback"
	"github.com/user/pmb-go/internal/models"
	"github.com/user/pmb-go/internal/obs"
)

// maxHitBody bounds how much of a beacon request body gets recorded.
const maxHitBody = 64 * 1024

// CallbackHandler serves the beacon endpoint and the hit log.
type CallbackHandler struct {
	store   *callback.Store
	metrics *obs.Metrics
	logger  *zap.Logger
}

func NewCallbackHandler(store *callback.Store, metrics *obs.Metrics, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{store: store, metrics: metrics, logger: logger}
}

// Hit records one beacon callback and returns 204 immediately. Nothing
// here may block: the beacon fires from victim pages and any delay is
// visible to the target.
func (h *CallbackHandler) Hit(c *gin.Context) {
	hit := models.CallbackHit{
		Time:       models.EpochSeconds(time.Now()),
		RemoteAddr: c.ClientIP(),
		Method:     c.Request.Method,
		Args:       firstQueryValues(c),
		Headers:    flattenHeaders(c.Request.Header),
	}

	if strings.Contains(c.ContentType(), "json") {
		if raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHitBody)); err == nil && json.Valid(raw) {
			hit.JSON = raw
		}
	}

	hit.InjectionID = c.Query("id")
	if hit.InjectionID == "" && hit.JSON != nil {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(hit.JSON, &body); err == nil {
			hit.InjectionID = body.ID
		}
	}

	h.store.RecordHit(hit)
	h.metrics.CallbackHits.Inc()
	h.logger.Info("callback hit",
		zap.String("injection_id", hit.InjectionID),
		zap.String("remote_addr", hit.RemoteAddr))

	c.Status(http.StatusNoContent)
}

// List returns all recorded hits in arrival order.
func (h *CallbackHandler) List(c *gin.Context) {
	hits := h.store.ListHits()
	if hits == nil {
		hits = []models.CallbackHit{}
	}
	c.JSON(http.StatusOK, hits)
}

// Clear empties the hit log.
func (h *CallbackHandler) Clear(c *gin.Context) {
	h.store.ClearHits()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// Injections returns all tracked injections keyed by id.
func (h *CallbackHandler) Injections(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.ListInjections())
}

func firstQueryValues(c *gin.Context) map[string]string {
	args := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			args[key] = values[0]
		}
	}
	return args
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
