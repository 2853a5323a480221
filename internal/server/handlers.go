package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koscakluka/ema-dictation/core/resultchannel"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	State         string `json:"state"`
	Status        string `json:"status,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Config        any    `json:"config"`
	PendingFinals int    `json:"pending_finals"`

	ConsumerConnected bool `json:"consumer_connected"`
	Backlog           int  `json:"backlog"`
	WaveformClients   int  `json:"waveform_clients"`
}

func (s *Server) status(c *gin.Context) {
	snapshot := s.orchestrator.Snapshot()
	c.JSON(http.StatusOK, statusResponse{
		State:             string(snapshot.State),
		Status:            string(snapshot.Status),
		SessionID:         snapshot.SessionID,
		Config:            snapshot.Config,
		PendingFinals:     snapshot.PendingFinals,
		ConsumerConnected: s.endpoint.Connected(),
		Backlog:           s.endpoint.Backlog(),
		WaveformClients:   s.waveform.Clients(),
	})
}

func (s *Server) listDevices(c *gin.Context) {
	if s.devices == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "device listing is not supported by this audio backend"})
		return
	}

	devices, err := s.devices.Devices()
	if err != nil {
		s.logger.Warn("failed to list devices", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) protocolSchema(c *gin.Context) {
	c.JSON(http.StatusOK, resultchannel.Schema())
}

// requestLogger logs finished requests. Health checks are skipped.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	}
}
