package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aigoflow/analytics-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:        "https://api.deepseek.com/v1/chat/completions",
		ClassifyModel:  "deepseek-chat",
		GenerateModel:  "deepseek-chat",
		SynthModel:     "deepseek-chat",
		CreativeModel:  "deepseek-chat",
		ClassifyTemp:   0,
		GenerateTemp:   0,
		SynthTemp:      0.7,
		CreativeTemp:   5.0, // deliberately out of range
		LLMConcurrency: 4,
	}
}

func TestRoutingTableIsTotal(t *testing.T) {
	client, err := NewChatClient(testConfig())
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}

	routes := client.Routes()
	for _, kind := range AllTasks {
		route, ok := routes[kind]
		if !ok {
			t.Errorf("No route for task kind %s", kind)
			continue
		}
		if route.Model == "" {
			t.Errorf("Empty model for task kind %s", kind)
		}
	}
}

func TestMissingModelRejectedAtInit(t *testing.T) {
	cfg := testConfig()
	cfg.SynthModel = ""
	if _, err := NewChatClient(cfg); err == nil {
		t.Error("Expected an error when a task kind has no model")
	}
}

func TestTemperatureClamped(t *testing.T) {
	client, err := NewChatClient(testConfig())
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}

	if temp := client.Routes()[TaskCreative].Temperature; temp != 2 {
		t.Errorf("Expected creative temperature clamped to 2, got %v", temp)
	}
	if temp := client.Routes()[TaskClassification].Temperature; temp != 0 {
		t.Errorf("Expected classification temperature 0, got %v", temp)
	}
}

func TestOfflineStubs(t *testing.T) {
	client, err := NewChatClient(testConfig())
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}
	if !client.Offline() {
		t.Fatal("Client without credential should be offline")
	}

	res, err := client.Complete(context.Background(), "判断相关性", TaskClassification)
	if err != nil {
		t.Fatalf("Offline classification failed: %v", err)
	}
	if res.Text != "relevant" {
		t.Errorf("Expected deterministic relevant verdict, got %q", res.Text)
	}

	res, err = client.Complete(context.Background(), "生成SQL", TaskGeneration)
	if err != nil {
		t.Fatalf("Offline generation failed: %v", err)
	}
	if !strings.HasPrefix(strings.ToUpper(res.Text), "SELECT") {
		t.Errorf("Offline generation stub should be a SELECT, got %q", res.Text)
	}

	res, err = client.Complete(context.Background(), "回答问题", TaskSynthesis)
	if err != nil {
		t.Fatalf("Offline synthesis failed: %v", err)
	}
	if res.Text == "" {
		t.Error("Offline synthesis stub should not be empty")
	}
}

func TestCancelledContextFailsTyped(t *testing.T) {
	client, err := NewChatClient(testConfig())
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Complete(ctx, "prompt", TaskSynthesis); !errors.Is(err, ErrModelFailure) {
		t.Errorf("Expected ErrModelFailure, got %v", err)
	}
}

func TestLiveCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Missing bearer auth, got %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Expected system+user messages, got %v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "KDA最高的是playerA，达到8.5。"}},
			},
		})
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	client, err := NewChatClient(cfg)
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}

	res, err := client.Complete(context.Background(), "哪位选手的KDA最高", TaskSynthesis)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.Contains(res.Text, "playerA") {
		t.Errorf("Unexpected completion: %q", res.Text)
	}
	if res.Model != "deepseek-chat" {
		t.Errorf("Result should carry the routed model, got %q", res.Model)
	}
}

func TestConcurrencyCapSaturation(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	cfg.LLMConcurrency = 1
	client, err := NewChatClient(cfg)
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}

	// Hold the only slot with an in-flight call.
	firstDone := make(chan error, 1)
	go func() {
		_, err := client.Complete(context.Background(), "first", TaskSynthesis)
		firstDone <- err
	}()
	<-entered

	// A saturated caller blocks, then fails typed when its deadline expires
	// before the slot frees.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = client.Complete(ctx, "second", TaskGeneration)
	if !errors.Is(err, ErrModelFailure) {
		t.Fatalf("Expected ErrModelFailure under saturation, got %v", err)
	}
	if waited := time.Since(start); waited < 80*time.Millisecond {
		t.Errorf("Saturated call should block until its deadline, returned after %v", waited)
	}

	// A caller with budget left keeps waiting and succeeds once the slot frees.
	thirdDone := make(chan error, 1)
	go func() {
		_, err := client.Complete(context.Background(), "third", TaskGeneration)
		thirdDone <- err
	}()
	select {
	case err := <-thirdDone:
		t.Fatalf("Call should still be waiting for the slot, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	for _, done := range []chan error{firstDone, thirdDone} {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Call failed after the slot freed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Call did not complete after the slot freed")
		}
	}
}

func TestProviderErrorStaysOutOfCallerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "secret provider detail", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	client, err := NewChatClient(cfg)
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), "prompt", TaskGeneration)
	if !errors.Is(err, ErrModelFailure) {
		t.Fatalf("Expected ErrModelFailure, got %v", err)
	}
	if strings.Contains(err.Error(), "secret provider detail") {
		t.Error("Provider error text must not leak to callers")
	}
}
