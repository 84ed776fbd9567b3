package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/analytics-service/internal/config"
)

// QueryMessage is the NATS request payload for one pipeline run.
type QueryMessage struct {
	ReqID    string `json:"req_id,omitempty"`
	Question string `json:"question"`
	Caller   string `json:"caller,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// generateWorkerID creates a unique worker ID using timestamp and random bytes
func generateWorkerID() string {
	timestamp := time.Now().UnixNano()
	randomBytes := make([]byte, 4)
	rand.Read(randomBytes)
	randomHex := hex.EncodeToString(randomBytes)
	return fmt.Sprintf("worker-%d-%s", timestamp, randomHex)
}

type NATSService struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	query      *QueryService
	cfg        *config.Config
	monitoring *MonitoringService
}

func NewNATSService(cfg *config.Config, query *QueryService) (*NATSService, error) {
	// Connect to NATS
	conn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSService{
		conn:       conn,
		js:         js,
		query:      query,
		cfg:        cfg,
		monitoring: NewMonitoringService(conn, cfg, query),
	}, nil
}

func (s *NATSService) Start(ctx context.Context) error {
	// Create or update stream
	if err := s.ensureStream(); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}

	// Create pull consumer
	consumer, err := s.createConsumer()
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	slog.Info("NATS service starting",
		"stream", s.cfg.Stream,
		"subject", s.cfg.Subject,
		"consumer", s.cfg.Durable,
		"concurrency", s.cfg.Concurrency)

	// Start monitoring service
	go s.monitoring.Start(ctx)

	// Start workers with unique IDs
	for i := 0; i < s.cfg.Concurrency; i++ {
		workerID := generateWorkerID()
		go s.worker(ctx, consumer, workerID)
	}

	// Block until context is cancelled
	<-ctx.Done()
	slog.Info("NATS service shutting down")

	// Close connection
	s.conn.Close()
	return nil
}

func (s *NATSService) ensureStream() error {
	streamInfo, err := s.js.StreamInfo(s.cfg.Stream)
	if err != nil {
		if err == nats.ErrStreamNotFound {
			// Create new stream
			_, err = s.js.AddStream(&nats.StreamConfig{
				Name:      s.cfg.Stream,
				Subjects:  []string{s.cfg.Subject},
				MaxMsgs:   int64(s.cfg.MaxMsgs),
				MaxAge:    s.cfg.MaxAge,
				Storage:   nats.FileStorage,
				Retention: nats.WorkQueuePolicy,
			})
			if err != nil {
				return fmt.Errorf("failed to create stream: %w", err)
			}
			slog.Info("Created NATS stream", "name", s.cfg.Stream)
		} else {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
	} else {
		// Check if stream has our subject, update if needed
		hasSubject := false
		for _, subject := range streamInfo.Config.Subjects {
			if subject == s.cfg.Subject {
				hasSubject = true
				break
			}
		}

		if !hasSubject {
			newConfig := streamInfo.Config
			newConfig.Subjects = append(newConfig.Subjects, s.cfg.Subject)
			_, err = s.js.UpdateStream(&newConfig)
			if err != nil {
				return fmt.Errorf("failed to update stream with new subject: %w", err)
			}
			slog.Info("Updated NATS stream with new subject", "name", s.cfg.Stream, "subject", s.cfg.Subject)
		} else {
			slog.Info("NATS stream already exists", "name", s.cfg.Stream, "messages", streamInfo.State.Msgs)
		}
	}

	return nil
}

func (s *NATSService) createConsumer() (*nats.Subscription, error) {
	sub, err := s.js.PullSubscribe(s.cfg.Subject, s.cfg.Durable, nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}

	slog.Info("Created NATS consumer", "durable", s.cfg.Durable)
	return sub, nil
}

func (s *NATSService) worker(ctx context.Context, consumer *nats.Subscription, workerID string) {
	slog.Info("NATS worker starting", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("NATS worker shutting down", "worker_id", workerID)
			return
		default:
			// Fetch messages with timeout
			msgs, err := consumer.Fetch(1, nats.MaxWait(time.Second))
			if err != nil {
				if err == nats.ErrTimeout {
					continue // Normal timeout, continue polling
				}
				slog.Error("Failed to fetch messages", "worker_id", workerID, "error", err)
				time.Sleep(time.Second) // Back off on error
				continue
			}

			for _, msg := range msgs {
				s.monitoring.IncrementPending()
				s.processQueryMessage(ctx, msg, workerID)
				s.monitoring.DecrementPending()
			}
		}
	}
}

func (s *NATSService) processQueryMessage(ctx context.Context, msg *nats.Msg, workerID string) {
	s.monitoring.IncrementActive()
	defer s.monitoring.DecrementActive()

	start := time.Now()

	var req QueryMessage
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Error("Failed to parse query request",
			"worker_id", workerID,
			"error", err,
			"data", string(msg.Data))
		msg.Nak()
		return
	}

	if req.Question == "" {
		slog.Error("Query request without question", "worker_id", workerID)
		msg.Term()
		return
	}

	caller := req.Caller
	if caller == "" {
		caller = fmt.Sprintf("nats.%s", msg.Subject)
	}

	slog.Debug("Processing NATS query request",
		"worker_id", workerID,
		"req_id", req.ReqID,
		"subject", msg.Subject)

	outcome := s.query.Run(ctx, req.Question, req.ReqID, caller)

	response := map[string]interface{}{
		"req_id":   outcome.ReqID,
		"question": outcome.Question,
		"sql":      outcome.SQL,
		"columns":  outcome.Columns,
		"data":     outcome.DataMaps(),
		"answer":   outcome.Answer,
		"status":   outcome.Status,
	}
	responseData, marshalErr := json.Marshal(response)
	if marshalErr != nil {
		slog.Error("Failed to marshal outcome",
			"worker_id", workerID,
			"req_id", outcome.ReqID,
			"error", marshalErr)
		msg.Nak()
		return
	}

	// Send response if reply subject is provided in message payload
	if req.ReplyTo != "" {
		if publishErr := s.conn.Publish(req.ReplyTo, responseData); publishErr != nil {
			slog.Error("Failed to publish outcome",
				"worker_id", workerID,
				"req_id", outcome.ReqID,
				"reply_subject", req.ReplyTo,
				"error", publishErr)
		}
	}

	// Acknowledge message
	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("Failed to acknowledge message",
			"worker_id", workerID,
			"req_id", outcome.ReqID,
			"error", ackErr)
	}

	slog.Info("NATS query completed",
		"worker_id", workerID,
		"req_id", outcome.ReqID,
		"status", outcome.Status,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *NATSService) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *NATSService) GetConnection() *nats.Conn {
	return s.conn
}

func (s *NATSService) GetMonitoringService() *MonitoringService {
	return s.monitoring
}
