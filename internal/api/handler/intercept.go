// Package handler implements the dashboard and CLI HTTP endpoints.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/intercept"
	"github.com/user/pmb-go/internal/models"
	"github.com/user/pmb-go/internal/obs"
)

// InterceptHandler serves the intercept toggle and the pending-flow
// rendezvous endpoints.
type InterceptHandler struct {
	broker  *intercept.Broker
	toggle  *intercept.Toggle
	metrics *obs.Metrics
	logger  *zap.Logger
}

func NewInterceptHandler(broker *intercept.Broker, toggle *intercept.Toggle, metrics *obs.Metrics, logger *zap.Logger) *InterceptHandler {
	return &InterceptHandler{broker: broker, toggle: toggle, metrics: metrics, logger: logger}
}

// Status reports whether intercept mode is on.
func (h *InterceptHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.toggle.Enabled()})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// Toggle sets intercept mode. A body with "enabled" forces that value;
// an absent body (or one without the field) flips the current state.
func (h *InterceptHandler) Toggle(c *gin.Context) {
	var req toggleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var enabled bool
	if req.Enabled != nil {
		enabled = h.toggle.Set(*req.Enabled)
	} else {
		enabled = h.toggle.Flip()
	}
	h.logger.Info("intercept mode changed", zap.Bool("enabled", enabled))
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// ListPending returns undecided flows, newest first.
func (h *InterceptHandler) ListPending(c *gin.Context) {
	flows := h.broker.ListPending()
	if flows == nil {
		flows = []models.Flow{}
	}
	c.JSON(http.StatusOK, flows)
}

type newFlowRequest struct {
	FlowID string          `json:"flow_id"`
	Data   models.FlowData `json:"data"`
}

// NewFlow registers a pending flow submitted by an external proxy
// worker. The in-process engine talks to the broker directly; this
// endpoint keeps out-of-process workers on the same table.
func (h *InterceptHandler) NewFlow(c *gin.Context) {
	var req newFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FlowID == "" {
		errorResponse(c, http.StatusBadRequest, "flow_id is required")
		return
	}
	h.broker.Submit(models.Flow{FlowID: req.FlowID, Data: req.Data})
	h.metrics.InterceptedFlows.Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// PollDecision claims the decision for a flow if one has been made.
// The claim is destructive: a decision is handed out exactly once.
func (h *InterceptHandler) PollDecision(c *gin.Context) {
	flowID := c.Query("flow_id")
	if flowID == "" {
		errorResponse(c, http.StatusBadRequest, "flow_id is required")
		return
	}

	d := h.broker.Claim(flowID)
	if d == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	var modified any
	if d.Modified != nil {
		modified = d.Modified
	}
	c.JSON(http.StatusOK, gin.H{"decision": d.Kind, "modified": modified})
}

type decisionRequest struct {
	FlowID   string               `json:"flow_id"`
	Decision string               `json:"decision"`
	Modified *models.Modification `json:"modified"`
}

// PostDecision records the operator verdict for a pending flow.
func (h *InterceptHandler) PostDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FlowID == "" {
		errorResponse(c, http.StatusBadRequest, "flow_id is required")
		return
	}

	err := h.broker.Decide(req.FlowID, models.Decision{Kind: req.Decision, Modified: req.Modified})
	switch {
	case errors.Is(err, intercept.ErrInvalidDecision):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, intercept.ErrUnknownFlow):
		errorResponse(c, http.StatusNotFound, "unknown flow")
	case err != nil:
		errorResponse(c, http.StatusInternalServerError, "decision failed")
	default:
		h.metrics.Decisions.WithLabelValues(req.Decision).Inc()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
