package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/models"
	"github.com/user/pmb-go/internal/repeater"
	"github.com/user/pmb-go/internal/repository"
)

// RepeaterHandler serves the request engine and the saved templates.
type RepeaterHandler struct {
	engine    *repeater.Engine
	templates repository.TemplateRepository
	logger    *zap.Logger
}

func NewRepeaterHandler(engine *repeater.Engine, templates repository.TemplateRepository, logger *zap.Logger) *RepeaterHandler {
	return &RepeaterHandler{engine: engine, templates: templates, logger: logger}
}

// Send performs a server-side request on the operator's behalf.
func (h *RepeaterHandler) Send(c *gin.Context) {
	var opts repeater.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if opts.URL == "" {
		errorResponse(c, http.StatusBadRequest, "url is required")
		return
	}

	result, err := h.engine.Send(c.Request.Context(), opts)
	switch {
	case errors.Is(err, repeater.ErrPolicyDenied):
		errorResponse(c, http.StatusForbidden, err.Error())
	case err != nil:
		h.logger.Warn("repeater send failed", zap.String("url", opts.URL), zap.Error(err))
		errorResponse(c, http.StatusBadGateway, err.Error())
	default:
		c.JSON(http.StatusOK, result)
	}
}

type saveTemplateRequest struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Save upserts a request template. Omitting the id creates a new one.
func (h *RepeaterHandler) Save(c *gin.Context) {
	var req saveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.URL == "" {
		errorResponse(c, http.StatusBadRequest, "name and url are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	tpl := &models.RequestTemplate{
		ID:      req.ID,
		Name:    req.Name,
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Body:    req.Body,
	}
	if err := h.templates.Save(c.Request.Context(), tpl); err != nil {
		h.logger.Error("template save failed", zap.String("id", req.ID), zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "could not save template")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": tpl.ID})
}

// List returns template summaries, most recently saved first.
func (h *RepeaterHandler) List(c *gin.Context) {
	summaries, err := h.templates.ListSummaries(c.Request.Context())
	if err != nil {
		h.logger.Error("template list failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "could not list templates")
		return
	}
	if summaries == nil {
		summaries = []repository.TemplateSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

// RawDB dumps every template in full, for export or debugging.
func (h *RepeaterHandler) RawDB(c *gin.Context) {
	templates, err := h.templates.FindAll(c.Request.Context())
	if err != nil {
		h.logger.Error("template dump failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "could not read templates")
		return
	}
	if templates == nil {
		templates = []*models.RequestTemplate{}
	}
	c.JSON(http.StatusOK, templates)
}
