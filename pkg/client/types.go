package client

import "time"

// QueryRequest represents a request to the analytics query service
type QueryRequest struct {
	ReqID    string `json:"req_id"`
	Question string `json:"question"`
	Caller   string `json:"caller,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// QueryOutcome represents the terminal result of one pipeline run
type QueryOutcome struct {
	ReqID    string           `json:"req_id"`
	Question string           `json:"question"`
	SQL      string           `json:"sql"`
	Columns  []string         `json:"columns"`
	Data     []map[string]any `json:"data"`
	Answer   string           `json:"answer"`
	Status   string           `json:"status"`
}

// HealthStatus represents service health information
type HealthStatus struct {
	ServiceName  string            `json:"service_name"`
	Status       string            `json:"status"`
	Offline      bool              `json:"offline_mode"`
	Models       map[string]string `json:"models"`
	LastActivity time.Time         `json:"last_activity"`
	Endpoint     string            `json:"endpoint"`
	NATSTopic    string            `json:"nats_topic"`
	Version      string            `json:"version"`
}
