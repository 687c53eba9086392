package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/highclaw/clawdeck/internal/deck"
)

// handleHealth returns the health status.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.opts.Version,
	})
}

// handleStatus returns the last published snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	if s.opts.Deck == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bridge not paired"})
		return
	}
	snap := s.opts.Deck.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"model":     snap.Model,
		"status":    snap.Status,
		"uptime":    snap.Uptime,
		"transport": s.opts.Deck.TransportName(),
		"bridge": gin.H{
			"version": s.opts.Version,
			"uptime":  formatUptime(time.Since(s.startedAt)),
		},
	})
}

// handleLogs returns buffered log entries. Query: level, component, limit.
func (s *Server) handleLogs(c *gin.Context) {
	if s.opts.LogBuffer == nil {
		c.JSON(http.StatusOK, gin.H{"logs": []any{}})
		return
	}

	f := LogFilter{MinLevel: slog.LevelDebug, Component: c.Query("component")}
	if lv := c.Query("level"); lv != "" {
		if err := f.MinLevel.UnmarshalText([]byte(lv)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid level %q", lv)})
			return
		}
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", l)})
			return
		}
		f.Limit = n
	}
	c.JSON(http.StatusOK, gin.H{"logs": s.opts.LogBuffer.Filter(f)})
}

// handleListActions lists the action identifiers the bridge understands.
func (s *Server) handleListActions(c *gin.Context) {
	models := gin.H{}
	for _, id := range deck.ModelActions() {
		m, _ := deck.ModelFor(id)
		models[id] = m
	}
	c.JSON(http.StatusOK, gin.H{
		"actions": deck.KnownActions(),
		"models":  models,
	})
}

type triggerRequest struct {
	Data map[string]string `json:"data"`
}

// handleTriggerAction dispatches an action as if the panel had pressed it.
func (s *Server) handleTriggerAction(c *gin.Context) {
	if s.opts.Deck == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bridge not paired"})
		return
	}
	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res := s.opts.Deck.Dispatch(c.Request.Context(), c.Param("id"), req.Data)
	body := gin.H{
		"actionId":   res.ActionID,
		"command":    res.Command,
		"model":      res.Model,
		"message":    res.Message,
		"ok":         res.OK(),
		"durationMs": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, deck.ErrUnknownAction):
		status = http.StatusNotFound
	case errors.Is(res.Err, deck.ErrMissingModel):
		status = http.StatusBadRequest
	case res.Err != nil:
		status = http.StatusBadGateway
	}
	c.JSON(status, body)
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
