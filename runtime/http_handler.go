package runtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const contactPath = "/api/v1/tenants/:tenant/sessions/:session/contacts/:contact"

type messageRequest struct {
	Text string `json:"text"`
}

type startRequest struct {
	TriggerText string `json:"trigger_text"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// HTTPHandler exposes the interpreter over HTTP for the messaging gateway.
type HTTPHandler struct {
	l           *slog.Logger
	interpreter *Interpreter
	instances   InstanceStore
}

func NewHTTPHandler(l *slog.Logger, interpreter *Interpreter, instances InstanceStore) *HTTPHandler {
	return &HTTPHandler{l: l, interpreter: interpreter, instances: instances}
}

// Register mounts the handler's routes on g.
func (h *HTTPHandler) Register(g *gin.Engine) {
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := g.Group("/api/v1")
	api.GET("/tenants/:tenant/triggers", h.matchTrigger)
	api.GET("/instances/:id", h.getInstance)
	api.GET("/instances/:id/history", h.history)

	contact := g.Group(contactPath)
	contact.POST("/messages", h.handleMessage)
	contact.POST("/flows/:flow/start", h.startFlow)
	contact.POST("/resume", h.resumeFlow)
	contact.GET("/flow", h.activeFlow)
	contact.DELETE("/flow", h.cancelFlow)
}

var wrongBodyFormatRes = gin.H{"message": "Wrong request body format"}

func bindContact(c *gin.Context) (ContactKey, bool) {
	var key ContactKey
	if err := c.ShouldBindUri(&key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid contact path: " + err.Error()})
		return ContactKey{}, false
	}
	return key, true
}

func (h *HTTPHandler) handleMessage(c *gin.Context) {
	key, ok := bindContact(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
		return
	}
	c.JSON(http.StatusOK, h.interpreter.Handle(c.Request.Context(), key, req.Text))
}

func (h *HTTPHandler) startFlow(c *gin.Context) {
	key, ok := bindContact(c)
	if !ok {
		return
	}
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
			return
		}
	}
	c.JSON(http.StatusOK, h.interpreter.StartFlow(c.Request.Context(), key, c.Param("flow"), req.TriggerText))
}

func (h *HTTPHandler) resumeFlow(c *gin.Context) {
	key, ok := bindContact(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
		return
	}
	c.JSON(http.StatusOK, h.interpreter.ResumeFlow(c.Request.Context(), key, req.Text))
}

func (h *HTTPHandler) activeFlow(c *gin.Context) {
	key, ok := bindContact(c)
	if !ok {
		return
	}
	in, err := h.instances.GetActive(c.Request.Context(), key)
	h.respondInstance(c, in, err)
}

func (h *HTTPHandler) cancelFlow(c *gin.Context) {
	key, ok := bindContact(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by api"
	}
	if err := h.interpreter.CancelFlow(c.Request.Context(), key, req.Reason); err != nil {
		h.l.Error("Flow cancel failed", "contact", key.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error cancelling flow: " + err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) matchTrigger(c *gin.Context) {
	flowID, ok := h.interpreter.ShouldStartFlow(c.Request.Context(), c.Param("tenant"), c.Query("text"))
	c.JSON(http.StatusOK, gin.H{"match": ok, "flow_id": flowID})
}

func (h *HTTPHandler) getInstance(c *gin.Context) {
	in, err := h.instances.GetInstance(c.Request.Context(), c.Param("id"))
	h.respondInstance(c, in, err)
}

func (h *HTTPHandler) respondInstance(c *gin.Context, in *Instance, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Instance not found"})
	case err != nil:
		h.l.Error("Instance lookup failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error loading instance: " + err.Error()})
	default:
		c.JSON(http.StatusOK, in)
	}
}

func (h *HTTPHandler) history(c *gin.Context) {
	entries, err := h.instances.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.l.Error("History lookup failed", "instance", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error loading history: " + err.Error()})
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
