package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
)

// QueryClient provides a client interface for the analytics query service
type QueryClient interface {
	// Natural-language analytics query
	Query(ctx context.Context, question string) (*QueryOutcome, error)

	// Health and discovery
	CheckHealth(ctx context.Context, service string) (*HealthStatus, error)
	ListModels(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// NATSQueryClient implements QueryClient using NATS request/reply
type NATSQueryClient struct {
	conn     *nats.Conn
	subject  string
	clientID string
	timeout  time.Duration
}

// NewNATSClient creates a new NATS-based query client
func NewNATSClient(natsURL, clientID string) (QueryClient, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if clientID == "" {
		clientID = "analytics-client"
	}

	return &NATSQueryClient{
		conn:     conn,
		subject:  "analytics.query.request",
		clientID: clientID,
		timeout:  90 * time.Second,
	}, nil
}

// Query submits a question and waits for the pipeline outcome
func (c *NATSQueryClient) Query(ctx context.Context, question string) (*QueryOutcome, error) {
	// Generate ULID request ID
	reqID := ulid.Make().String()
	replySubject := fmt.Sprintf("analytics.query.reply.%s.%s", c.clientID, reqID)

	request := QueryRequest{
		ReqID:    reqID,
		Question: question,
		Caller:   c.clientID,
		ReplyTo:  replySubject,
	}

	slog.Debug("Sending query request",
		"subject", c.subject,
		"req_id", reqID,
		"reply_subject", replySubject)

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Subscribe to reply subject before publishing
	replyChan := make(chan *nats.Msg, 1)
	sub, err := c.conn.Subscribe(replySubject, func(msg *nats.Msg) {
		replyChan <- msg
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply: %w", err)
	}
	defer sub.Unsubscribe()

	if err := c.conn.Publish(c.subject, requestBytes); err != nil {
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	// Wait for outcome with timeout
	select {
	case msg := <-replyChan:
		var outcome QueryOutcome
		if err := json.Unmarshal(msg.Data, &outcome); err != nil {
			return nil, fmt.Errorf("failed to parse outcome: %w", err)
		}
		return &outcome, nil

	case <-time.After(c.timeout):
		return nil, fmt.Errorf("query timeout after %v", c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckHealth checks whether the service is available and healthy
func (c *NATSQueryClient) CheckHealth(ctx context.Context, service string) (*HealthStatus, error) {
	healthTopic := fmt.Sprintf("models.%s.health", service)

	msg, err := c.conn.RequestWithContext(ctx, healthTopic, nil)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	var health HealthStatus
	if err := json.Unmarshal(msg.Data, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &health, nil
}

// ListModels discovers the models behind the service via NATS
func (c *NATSQueryClient) ListModels(ctx context.Context) ([]string, error) {
	msg, err := c.conn.RequestWithContext(ctx, "models.discovery", nil)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}

	var response struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(msg.Data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse discovery response: %w", err)
	}
	return response.Models, nil
}

// Close closes the NATS connection
func (c *NATSQueryClient) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// SetTimeout configures request timeout
func (c *NATSQueryClient) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SetSubject overrides the request subject
func (c *NATSQueryClient) SetSubject(subject string) {
	c.subject = subject
}
