package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aigoflow/analytics-service/internal/config"
	"github.com/aigoflow/analytics-service/internal/llm"
	"github.com/aigoflow/analytics-service/internal/models"
	"github.com/aigoflow/analytics-service/internal/prompts"
	"github.com/aigoflow/analytics-service/internal/repository"
	"github.com/aigoflow/analytics-service/internal/statsdb"
	"github.com/aigoflow/analytics-service/internal/store"
)

// fakeLLM returns canned text per task kind and counts calls, so tests can
// assert which stages actually ran.
type fakeLLM struct {
	mu      sync.Mutex
	replies map[llm.TaskKind]string
	errs    map[llm.TaskKind]error
	calls   map[llm.TaskKind]int
	block   bool
	blockOn map[llm.TaskKind]bool
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, kind llm.TaskKind) (llm.Result, error) {
	if f.block || f.blockOn[kind] {
		<-ctx.Done()
		return llm.Result{}, fmt.Errorf("%s: %w", kind, llm.ErrModelFailure)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[llm.TaskKind]int)
	}
	f.calls[kind]++
	if err := f.errs[kind]; err != nil {
		return llm.Result{}, err
	}
	return llm.Result{Text: f.replies[kind], Model: "fake-model", Duration: time.Millisecond}, nil
}

func (f *fakeLLM) Offline() bool { return false }

func (f *fakeLLM) Routes() map[llm.TaskKind]llm.Route {
	return map[llm.TaskKind]llm.Route{}
}

func (f *fakeLLM) callCount(kind llm.TaskKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func happyPathLLM() *fakeLLM {
	return &fakeLLM{replies: map[llm.TaskKind]string{
		llm.TaskClassification: "relevant",
		llm.TaskGeneration:     "SELECT name, kda FROM players ORDER BY kda DESC LIMIT 5",
		llm.TaskSynthesis:      "KDA最高的选手是playerJ。",
		llm.TaskCreative:       "这波操作，解说都看傻了！",
	}}
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		RunBudget:        10 * time.Second,
		ClassifyTimeout:  2 * time.Second,
		GenerateTimeout:  2 * time.Second,
		ExecuteTimeout:   2 * time.Second,
		SynthTimeout:     2 * time.Second,
		QuestionMaxLen:   256,
		RowCap:           200,
		ShortcutTriggers: []string{"锐评", "整活"},
	}
}

func newTestService(t *testing.T, cfg *config.Config, client llm.Client) *QueryService {
	t.Helper()
	dir := t.TempDir()

	stats, err := statsdb.Open(filepath.Join(dir, "stats.sqlite"))
	if err != nil {
		t.Fatalf("Failed to open stats db: %v", err)
	}
	t.Cleanup(func() { stats.Close() })
	for i := 0; i < 10; i++ {
		_, err := stats.Exec(`INSERT INTO players(name, kda, kills, deaths, assists, team_name) VALUES(?,?,?,?,?,?)`,
			"player"+string(rune('A'+i)), float64(i)+0.5, i, i%3, i*2, "TeamX")
		if err != nil {
			t.Fatalf("Failed to seed players: %v", err)
		}
	}

	audit, err := store.Open(filepath.Join(dir, "audit.sqlite"), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to open audit store: %v", err)
	}
	t.Cleanup(func() { audit.Close() })

	executor := statsdb.NewExecutor(stats, cfg.RowCap, cfg.ExecuteTimeout)
	registry := NewRequestRegistry(30 * time.Minute)
	return NewQueryService(cfg, client, executor, repository.NewSQLiteRepository(audit), registry)
}

func TestRunEndToEnd(t *testing.T) {
	fake := happyPathLLM()
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "哪位选手的KDA最高？", "", "test")

	if outcome.Status != models.StatusDone {
		t.Fatalf("Expected done, got %s (answer %q)", outcome.Status, outcome.Answer)
	}
	if outcome.ReqID == "" {
		t.Error("A request id should be assigned")
	}
	if !strings.HasPrefix(outcome.SQL, "SELECT") {
		t.Errorf("Outcome should carry the executed statement, got %q", outcome.SQL)
	}
	if len(outcome.Data) != 5 {
		t.Errorf("Expected 5 rows, got %d", len(outcome.Data))
	}
	if outcome.Answer != "KDA最高的选手是playerJ。" {
		t.Errorf("Unexpected answer %q", outcome.Answer)
	}

	entry, ok := svc.Registry().Get(outcome.ReqID)
	if !ok {
		t.Fatal("Registry should retain the completed request")
	}
	if entry.Status != models.StatusDone {
		t.Errorf("Registry status should be done, got %s", entry.Status)
	}

	records, err := svc.GetAuditRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("Failed to read audit records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 audit record, got %d", len(records))
	}
	rec := records[0]
	if rec.ReqID != outcome.ReqID || !rec.Relevant || !rec.SQLSuccess || rec.Status != models.StatusDone {
		t.Errorf("Audit record mismatch: %+v", rec)
	}
	if len(rec.Usage) != 3 {
		t.Errorf("Expected 3 model calls recorded, got %d", len(rec.Usage))
	}
}

func TestRunShortcutSkipsPipeline(t *testing.T) {
	fake := happyPathLLM()
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "帮我锐评一下RNG", "", "test")

	if outcome.Status != models.StatusShortcut {
		t.Fatalf("Expected shortcut, got %s", outcome.Status)
	}
	if outcome.Answer != "这波操作，解说都看傻了！" {
		t.Errorf("Unexpected answer %q", outcome.Answer)
	}
	if outcome.SQL != "" || len(outcome.Data) != 0 {
		t.Error("Shortcut runs must not touch the database")
	}
	if fake.callCount(llm.TaskClassification) != 0 || fake.callCount(llm.TaskGeneration) != 0 {
		t.Error("Shortcut must bypass classification and generation")
	}

	entry, _ := svc.Registry().Get(outcome.ReqID)
	if entry.Status != models.StatusDone {
		t.Errorf("Shortcut run should finish done in the registry, got %s", entry.Status)
	}
}

func TestRunIrrelevantFallsBack(t *testing.T) {
	fake := happyPathLLM()
	fake.replies[llm.TaskClassification] = "irrelevant"
	fake.replies[llm.TaskSynthesis] = prompts.RedirectAnswer
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "今天晚饭吃什么", "", "test")

	if outcome.Status != models.StatusIrrelevant {
		t.Fatalf("Expected irrelevant, got %s", outcome.Status)
	}
	if outcome.SQL != "" {
		t.Error("Off-topic questions must not produce SQL")
	}
	if fake.callCount(llm.TaskGeneration) != 0 {
		t.Error("Off-topic questions must not reach generation")
	}
	if outcome.Answer == "" {
		t.Error("Fallback answer should not be empty")
	}
}

func TestRunClassificationFailureFailsOpen(t *testing.T) {
	fake := happyPathLLM()
	fake.errs = map[llm.TaskKind]error{llm.TaskClassification: llm.ErrModelFailure}
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "哪位选手的KDA最高？", "", "test")

	if outcome.Status != models.StatusDone {
		t.Errorf("Classifier outage should fail open, got %s", outcome.Status)
	}
}

func TestRunRejectsMutatingStatement(t *testing.T) {
	fake := happyPathLLM()
	fake.replies[llm.TaskGeneration] = "DROP TABLE players;"
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "删掉选手表", "", "test")

	if outcome.Status != models.StatusInvalid {
		t.Fatalf("Expected invalid, got %s", outcome.Status)
	}
	if outcome.SQL != "" {
		t.Error("Rejected statements must not appear on the outcome")
	}

	// The rejected candidate is still auditable
	records, err := svc.GetAuditRecords(context.Background(), 1)
	if err != nil || len(records) != 1 {
		t.Fatalf("Failed to read audit records: %v", err)
	}
	if records[0].SQL != "DROP TABLE players;" {
		t.Errorf("Audit should carry the rejected candidate, got %q", records[0].SQL)
	}
	if records[0].SQLSuccess {
		t.Error("Rejected statement must not be marked successful")
	}

	// And the table is intact
	fake.replies[llm.TaskGeneration] = "SELECT name FROM players LIMIT 1"
	check := svc.Run(context.Background(), "随便查一个选手", "", "test")
	if check.Status != models.StatusDone {
		t.Errorf("players table should survive the rejected statement, got %s", check.Status)
	}
}

func TestRunStripsMarkdownFences(t *testing.T) {
	fake := happyPathLLM()
	fake.replies[llm.TaskGeneration] = "```sql\nSELECT name FROM players LIMIT 3\n```"
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "列出三位选手", "", "test")

	if outcome.Status != models.StatusDone {
		t.Fatalf("Expected done, got %s", outcome.Status)
	}
	if outcome.SQL != "SELECT name FROM players LIMIT 3" {
		t.Errorf("Fences should be stripped, got %q", outcome.SQL)
	}
}

func TestRunExecutionFailureKeepsStatement(t *testing.T) {
	fake := happyPathLLM()
	fake.replies[llm.TaskGeneration] = "SELECT no_such_column FROM players"
	svc := newTestService(t, testPipelineConfig(), fake)

	outcome := svc.Run(context.Background(), "查询一个不存在的字段", "", "test")

	if outcome.Status != models.StatusExecFailed {
		t.Fatalf("Expected exec_failed, got %s", outcome.Status)
	}
	if outcome.SQL != "SELECT no_such_column FROM players" {
		t.Errorf("Failed statement should stay on the outcome, got %q", outcome.SQL)
	}
	if len(outcome.Data) != 0 {
		t.Error("Failed execution must not return rows")
	}
	if outcome.Answer == "" {
		t.Error("Fallback answer should not be empty")
	}
}

func TestRunTimesOutAgainstBudget(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.RunBudget = 50 * time.Millisecond
	svc := newTestService(t, cfg, &fakeLLM{block: true})

	start := time.Now()
	outcome := svc.Run(context.Background(), "哪位选手的KDA最高？", "", "test")

	if outcome.Status != models.StatusTimedOut {
		t.Fatalf("Expected timed_out, got %s", outcome.Status)
	}
	if outcome.Answer != prompts.TimeoutAnswer {
		t.Errorf("Expected the canned timeout answer, got %q", outcome.Answer)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run should stop near the budget, took %v", elapsed)
	}
}

func TestRunFallbackOutlivingBudgetReportsTimedOut(t *testing.T) {
	fake := happyPathLLM()
	fake.replies[llm.TaskClassification] = "irrelevant"
	fake.blockOn = map[llm.TaskKind]bool{llm.TaskSynthesis: true}
	cfg := testPipelineConfig()
	cfg.RunBudget = 200 * time.Millisecond
	svc := newTestService(t, cfg, fake)

	outcome := svc.Run(context.Background(), "今天晚饭吃什么", "", "test")

	if outcome.Status != models.StatusTimedOut {
		t.Fatalf("Expected timed_out when the fallback call eats the budget, got %s", outcome.Status)
	}
	if outcome.Answer != prompts.TimeoutAnswer {
		t.Errorf("Expected the canned timeout answer, got %q", outcome.Answer)
	}
}

func TestRunOfflineEndToEnd(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.ClassifyModel = "deepseek-chat"
	cfg.GenerateModel = "deepseek-chat"
	cfg.SynthModel = "deepseek-chat"
	cfg.CreativeModel = "deepseek-chat"
	cfg.LLMConcurrency = 4

	client, err := llm.NewChatClient(cfg)
	if err != nil {
		t.Fatalf("NewChatClient failed: %v", err)
	}
	if !client.Offline() {
		t.Fatal("Client without credential should be offline")
	}
	svc := newTestService(t, cfg, client)

	outcome := svc.Run(context.Background(), "哪位选手的KDA最高？", "", "test")

	if outcome.Status != models.StatusDone {
		t.Fatalf("Offline run should complete, got %s (answer %q)", outcome.Status, outcome.Answer)
	}
	if outcome.SQL != "SELECT name, kills, deaths FROM players LIMIT 5" {
		t.Errorf("Unexpected offline statement %q", outcome.SQL)
	}
	if len(outcome.Columns) != 3 || outcome.Columns[0] != "name" {
		t.Errorf("Unexpected columns %v", outcome.Columns)
	}
	if len(outcome.Data) != 5 {
		t.Errorf("Expected 5 rows, got %d", len(outcome.Data))
	}
	if outcome.Answer == "" {
		t.Error("Offline answer should not be empty")
	}

	// Deterministic: a repeat run produces the same statement, rows and answer
	repeat := svc.Run(context.Background(), "哪位选手的KDA最高？", "", "test")
	if repeat.SQL != outcome.SQL || len(repeat.Data) != len(outcome.Data) || repeat.Answer != outcome.Answer {
		t.Error("Offline runs should be deterministic")
	}
}

func TestRunCapsLongQuestions(t *testing.T) {
	fake := happyPathLLM()
	cfg := testPipelineConfig()
	cfg.QuestionMaxLen = 10
	svc := newTestService(t, cfg, fake)

	long := strings.Repeat("选手数据统计问题", 50)
	outcome := svc.Run(context.Background(), long, "", "test")

	if outcome.Question != long {
		t.Error("Outcome should echo the original question")
	}
	entry, _ := svc.Registry().Get(outcome.ReqID)
	if got := len([]rune(entry.Capped)); got != 10 {
		t.Errorf("Expected capped question of 10 runes, got %d", got)
	}
}

func TestRunReassignsDuplicateID(t *testing.T) {
	fake := happyPathLLM()
	svc := newTestService(t, testPipelineConfig(), fake)

	first := svc.Run(context.Background(), "哪位选手的KDA最高？", "fixed-id", "test")
	second := svc.Run(context.Background(), "哪位选手的KDA最高？", "fixed-id", "test")

	if first.ReqID != "fixed-id" {
		t.Errorf("First run should keep the supplied id, got %s", first.ReqID)
	}
	if second.ReqID == "fixed-id" {
		t.Error("Second run must get a fresh id instead of clobbering the live entry")
	}
	if second.Status != models.StatusDone {
		t.Errorf("Second run should still complete, got %s", second.Status)
	}
}

func TestRunConcurrentIsolation(t *testing.T) {
	fake := happyPathLLM()
	svc := newTestService(t, testPipelineConfig(), fake)

	const runs = 8
	outcomes := make([]*models.PipelineOutcome, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = svc.Run(context.Background(), fmt.Sprintf("问题%d", i), "", "test")
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, outcome := range outcomes {
		if outcome.Status != models.StatusDone {
			t.Errorf("Run %d ended %s", i, outcome.Status)
		}
		if seen[outcome.ReqID] {
			t.Errorf("Duplicate request id %s", outcome.ReqID)
		}
		seen[outcome.ReqID] = true
	}
	if svc.Registry().Len() != runs {
		t.Errorf("Expected %d registry entries, got %d", runs, svc.Registry().Len())
	}
}
