package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/analytics-service/internal/config"
	"github.com/aigoflow/analytics-service/internal/llm"
)

type HealthService struct {
	nats   *nats.Conn
	config *config.Config
	llm    llm.Client
}

type HealthStatus struct {
	ServiceName  string            `json:"service_name"`
	Status       string            `json:"status"` // online, offline, busy
	Offline      bool              `json:"offline_mode"`
	Models       map[string]string `json:"models"` // task kind -> model id
	LastActivity time.Time         `json:"last_activity"`
	Endpoint     string            `json:"endpoint"`
	NATSTopic    string            `json:"nats_topic"`
	Version      string            `json:"version"`
}

func NewHealthService(natsConn *nats.Conn, cfg *config.Config, client llm.Client) *HealthService {
	return &HealthService{
		nats:   natsConn,
		config: cfg,
		llm:    client,
	}
}

func (h *HealthService) Start(ctx context.Context) error {
	// Subscribe to health check requests for this service
	healthTopic := fmt.Sprintf("models.%s.health", h.config.ServiceName)

	_, err := h.nats.Subscribe(healthTopic, func(msg *nats.Msg) {
		status := h.getHealthStatus()

		statusData, err := json.Marshal(status)
		if err != nil {
			slog.Error("Failed to marshal health status", "error", err)
			return
		}

		if err := msg.Respond(statusData); err != nil {
			slog.Error("Failed to respond to health check", "error", err)
		}
	})

	if err != nil {
		return fmt.Errorf("failed to subscribe to health topic: %w", err)
	}

	// Answer discovery requests with the task-kind model map. The reply goes
	// to the NATS reply subject or, failing that, a reply_to in the payload.
	_, err = h.nats.Subscribe("models.discovery", func(msg *nats.Msg) {
		status := h.getHealthStatus()

		models := make([]string, 0, len(status.Models))
		for _, model := range status.Models {
			models = append(models, model)
		}
		response, err := json.Marshal(map[string]interface{}{
			"service_name": status.ServiceName,
			"models":       models,
			"nats_topic":   status.NATSTopic,
		})
		if err != nil {
			return
		}

		replyTo := msg.Reply
		if replyTo == "" {
			var req struct {
				ReplyTo string `json:"reply_to"`
			}
			if json.Unmarshal(msg.Data, &req) == nil {
				replyTo = req.ReplyTo
			}
		}
		if replyTo == "" {
			return
		}
		if err := h.nats.Publish(replyTo, response); err != nil {
			slog.Error("Failed to respond to discovery request", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to discovery topic: %w", err)
	}

	slog.Info("Health service started", "topic", healthTopic)

	// Publish periodic heartbeats
	go h.publishHeartbeats(ctx)

	return nil
}

func (h *HealthService) publishHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	heartbeatTopic := fmt.Sprintf("models.%s.heartbeat", h.config.ServiceName)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := h.getHealthStatus()
			statusData, err := json.Marshal(status)
			if err != nil {
				continue
			}

			if err := h.nats.Publish(heartbeatTopic, statusData); err != nil {
				slog.Warn("Failed to publish heartbeat", "error", err)
			}
		}
	}
}

func (h *HealthService) getHealthStatus() HealthStatus {
	models := make(map[string]string)
	for kind, route := range h.llm.Routes() {
		models[kind.String()] = route.Model
	}

	return HealthStatus{
		ServiceName:  h.config.ServiceName,
		Status:       "online",
		Offline:      h.llm.Offline(),
		Models:       models,
		LastActivity: time.Now(),
		Endpoint:     fmt.Sprintf("http://localhost%s", h.config.HTTPAddr),
		NATSTopic:    h.config.Subject,
		Version:      "1.0.0",
	}
}
