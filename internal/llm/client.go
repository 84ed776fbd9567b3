package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aigoflow/analytics-service/internal/config"
)

// ErrModelFailure marks a failed model call. The wrapped message never
// carries provider error text; that goes to the local log only.
var ErrModelFailure = errors.New("model call failed")

const systemPrompt = "你是一个电竞数据分析助手。"

// Result is one successful completion plus the accounting the audit trail
// needs.
type Result struct {
	Text        string
	Model       string
	Temperature float64
	Duration    time.Duration
}

// Client sends prompts to the backing model for a given task kind.
type Client interface {
	Complete(ctx context.Context, prompt string, kind TaskKind) (Result, error)
	Offline() bool
	Routes() map[TaskKind]Route
}

// ChatClient talks to a DeepSeek/OpenAI-compatible chat-completions endpoint.
// A weighted semaphore caps simultaneous outbound calls; acquisition blocks
// but never past the caller's deadline.
type ChatClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	routes  map[TaskKind]Route
	sem     *semaphore.Weighted
}

func NewChatClient(cfg *config.Config) (*ChatClient, error) {
	routes := map[TaskKind]Route{
		TaskClassification: {Model: cfg.ClassifyModel, Temperature: clampTemp(cfg.ClassifyTemp)},
		TaskGeneration:     {Model: cfg.GenerateModel, Temperature: clampTemp(cfg.GenerateTemp)},
		TaskSynthesis:      {Model: cfg.SynthModel, Temperature: clampTemp(cfg.SynthTemp)},
		TaskCreative:       {Model: cfg.CreativeModel, Temperature: clampTemp(cfg.CreativeTemp)},
	}
	for _, kind := range AllTasks {
		r, ok := routes[kind]
		if !ok || r.Model == "" {
			return nil, fmt.Errorf("no model configured for task kind %s", kind)
		}
	}

	concurrency := cfg.LLMConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &ChatClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		routes:  routes,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Offline reports whether no credential is configured. In that mode every
// call returns a deterministic stub so the pipeline stays exercisable.
func (c *ChatClient) Offline() bool {
	return c.apiKey == ""
}

// Routes returns a copy of the task-kind routing table.
func (c *ChatClient) Routes() map[TaskKind]Route {
	out := make(map[TaskKind]Route, len(c.routes))
	for k, v := range c.routes {
		out[k] = v
	}
	return out
}

func (c *ChatClient) Complete(ctx context.Context, prompt string, kind TaskKind) (Result, error) {
	route, ok := c.routes[kind]
	if !ok {
		return Result{}, fmt.Errorf("unknown task kind %s: %w", kind, ErrModelFailure)
	}

	start := time.Now()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("Model call slot not acquired before deadline", "task", kind.String(), "error", err)
		return Result{}, fmt.Errorf("%s: %w", kind, ErrModelFailure)
	}
	defer c.sem.Release(1)

	if c.Offline() {
		slog.Warn("No model credential configured, returning stub", "task", kind.String())
		return Result{
			Text:        stubText(kind),
			Model:       route.Model,
			Temperature: route.Temperature,
			Duration:    time.Since(start),
		}, nil
	}

	text, err := c.send(ctx, prompt, route)
	if err != nil {
		// Provider detail stays in the local log; callers see only the
		// typed failure.
		slog.Error("Model call failed", "task", kind.String(), "model", route.Model, "error", err)
		return Result{}, fmt.Errorf("%s: %w", kind, ErrModelFailure)
	}

	return Result{
		Text:        text,
		Model:       route.Model,
		Temperature: route.Temperature,
		Duration:    time.Since(start),
	}, nil
}

func (c *ChatClient) send(ctx context.Context, prompt string, route Route) (string, error) {
	reqBody := chatRequest{
		Model: route.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: clampTemp(route.Temperature),
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider error status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("provider returned empty content")
	}

	return parsed.Choices[0].Message.Content, nil
}

// stubText returns the deterministic offline response for a task kind. The
// generation stub mirrors the canned statement the dataset always satisfies.
func stubText(kind TaskKind) string {
	switch kind {
	case TaskClassification:
		return "relevant"
	case TaskGeneration:
		return "SELECT name, kills, deaths FROM players LIMIT 5"
	default:
		return "（离线模式）模型凭证未配置，这是一条占位回答。"
	}
}

func clampTemp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 2 {
		return 2
	}
	return t
}

// Chat completions wire types.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Ensure ChatClient implements Client.
var _ Client = (*ChatClient)(nil)
