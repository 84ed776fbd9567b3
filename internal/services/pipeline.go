package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/analytics-service/internal/config"
	"github.com/aigoflow/analytics-service/internal/llm"
	"github.com/aigoflow/analytics-service/internal/models"
	"github.com/aigoflow/analytics-service/internal/prompts"
	"github.com/aigoflow/analytics-service/internal/repository"
	"github.com/aigoflow/analytics-service/internal/schema"
	"github.com/aigoflow/analytics-service/internal/statsdb"
)

// Stage failures that all route through the single fallback path. An
// off-topic question is deliberately handled the same way as broken SQL so
// both get identical caller-visible treatment.
var (
	ErrIrrelevant    = errors.New("question is off-topic")
	ErrBadStatement  = errors.New("generated statement failed the read-only gate")
	ErrExecuteFailed = errors.New("statement execution failed")
)

// QueryService orchestrates the natural-language analytics pipeline:
// shortcut check, relevance classification, statement generation, execution
// and answer synthesis, degrading through the fallback answerer whenever a
// stage fails. One deadline context created at run entry bounds every
// downstream call.
type QueryService struct {
	cfg        *config.Config
	llm        llm.Client
	executor   *statsdb.Executor
	repo       repository.Repository
	registry   *RequestRegistry
	schemaText string
	glossary   map[string]string
}

func NewQueryService(cfg *config.Config, client llm.Client, executor *statsdb.Executor, repo repository.Repository, registry *RequestRegistry) *QueryService {
	return &QueryService{
		cfg:        cfg,
		llm:        client,
		executor:   executor,
		repo:       repo,
		registry:   registry,
		schemaText: schema.Description,
		glossary:   schema.Glossary,
	}
}

// Run processes one question end to end. It never panics past its boundary
// and every exit path returns a fully populated outcome.
func (s *QueryService) Run(ctx context.Context, question, reqID, caller string) (outcome *models.PipelineOutcome) {
	start := time.Now()
	capped := capQuestion(question, s.cfg.QuestionMaxLen)

	if reqID == "" {
		reqID = ulid.Make().String()
	}
	req := &models.QueryRequest{
		ReqID:       reqID,
		Caller:      caller,
		Question:    question,
		Capped:      capped,
		Status:      models.StatusInit,
		SubmittedAt: start,
	}
	if err := s.registry.Register(req); err != nil {
		// Caller-supplied id collided inside the retention window; issue a
		// fresh one rather than clobbering the live entry.
		slog.Warn("Request id collision, reassigning", "req_id", reqID)
		reqID = ulid.Make().String()
		req.ReqID = reqID
		_ = s.registry.Register(req)
	}

	outcome = &models.PipelineOutcome{
		ReqID:    reqID,
		Question: question,
		Data:     []models.Row{},
		Status:   models.StatusFailed,
		Answer:   prompts.FailureAnswer,
	}

	var usage []models.ModelUsage
	relevant := true
	execOK := false
	auditSQL := ""

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline panic", "req_id", reqID, "panic", r)
			outcome.SQL = ""
			outcome.Columns = nil
			outcome.Data = []models.Row{}
			outcome.Answer = prompts.FailureAnswer
			outcome.Status = models.StatusFailed
		}
		s.finish(start, req, outcome, usage, relevant, execOK, auditSQL)
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunBudget)
	defer cancel()

	// Keyword shortcut wins over every other stage.
	if s.matchShortcut(capped) {
		s.registry.UpdateStatus(reqID, models.StatusShortcut)
		res, err := s.call(runCtx, prompts.Creative(capped), llm.TaskCreative, s.cfg.SynthTimeout, "creative", reqID, &usage)
		if err != nil {
			s.resolveFailure(runCtx, outcome)
			return outcome
		}
		outcome.Answer = res.Text
		outcome.Status = models.StatusShortcut
		return outcome
	}

	// Relevance classification, fail-open on ambiguity.
	s.registry.UpdateStatus(reqID, models.StatusClassifying)
	if err := s.classify(runCtx, capped, reqID, &usage); err != nil {
		if runCtx.Err() != nil {
			s.resolveFailure(runCtx, outcome)
			return outcome
		}
		relevant = false
		outcome.Status = models.StatusIrrelevant
		outcome.Answer = s.fallbackAnswer(runCtx, capped, reqID, &usage)
		// The fallback call itself may have consumed the rest of the budget.
		if runCtx.Err() != nil {
			s.resolveFailure(runCtx, outcome)
		}
		return outcome
	}

	// Statement generation plus the single safety gate.
	s.registry.UpdateStatus(reqID, models.StatusGenerating)
	stmt, raw, err := s.generate(runCtx, capped, reqID, &usage)
	auditSQL = raw
	if err != nil {
		if runCtx.Err() != nil {
			s.resolveFailure(runCtx, outcome)
			return outcome
		}
		outcome.Status = models.StatusInvalid
		outcome.Answer = s.fallbackAnswer(runCtx, capped, reqID, &usage)
		if runCtx.Err() != nil {
			s.resolveFailure(runCtx, outcome)
		}
		return outcome
	}

	// Execution against the read-only capability. No retry: failures
	// degrade to the fallback answer.
	s.registry.UpdateStatus(reqID, models.StatusExecuting)
	execStart := time.Now()
	columns, rows, err := s.executor.Execute(runCtx, stmt)
	s.registry.RecordStage(reqID, "execute", time.Since(execStart))
	if err != nil {
		slog.Error("Statement execution failed", "req_id", reqID, "error", err)
		outcome.SQL = stmt
		if runCtx.Err() != nil {
			s.resolveFailure(runCtx, outcome)
			return outcome
		}
		outcome.Status = models.StatusExecFailed
		outcome.Answer = s.fallbackAnswer(runCtx, capped, reqID, &usage)
		if runCtx.Err() != nil {
			s.resolveFailure(runCtx, outcome)
		}
		return outcome
	}

	outcome.SQL = stmt
	outcome.Columns = columns
	outcome.Data = toRows(columns, rows)
	execOK = true

	// Answer synthesis from the result set.
	s.registry.UpdateStatus(reqID, models.StatusSynthesizing)
	res, err := s.call(runCtx, prompts.Answer(capped, columns, rows, s.glossary), llm.TaskSynthesis, s.cfg.SynthTimeout, "synthesize", reqID, &usage)
	if err != nil {
		s.resolveFailure(runCtx, outcome)
		return outcome
	}

	outcome.Answer = res.Text
	outcome.Status = models.StatusDone
	return outcome
}

// classify sends the binary relevance prompt. Only an explicit irrelevant
// marker rejects the question; ambiguous output and model failures fail
// open so downstream behavior is still exercised.
func (s *QueryService) classify(ctx context.Context, capped, reqID string, usage *[]models.ModelUsage) error {
	res, err := s.call(ctx, prompts.Classify(capped), llm.TaskClassification, s.cfg.ClassifyTimeout, "classify", reqID, usage)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("Classification unavailable, treating question as relevant", "req_id", reqID)
		return nil
	}
	if strings.Contains(strings.ToLower(res.Text), "irrelevant") {
		return ErrIrrelevant
	}
	return nil
}

// generate produces a statement and validates it starts with SELECT or
// WITH. The raw candidate is returned for the audit trail even when the
// gate rejects it; rejected text never reaches the executor.
func (s *QueryService) generate(ctx context.Context, capped, reqID string, usage *[]models.ModelUsage) (stmt, raw string, err error) {
	res, err := s.call(ctx, prompts.Generate(s.schemaText, capped, s.cfg.RowCap), llm.TaskGeneration, s.cfg.GenerateTimeout, "generate", reqID, usage)
	if err != nil {
		return "", "", err
	}
	candidate := stripStatement(res.Text)
	if !statsdb.ReadOnly(candidate) {
		slog.Warn("Generated statement rejected", "req_id", reqID, "length", len(candidate))
		return "", candidate, ErrBadStatement
	}
	return candidate, candidate, nil
}

// fallbackAnswer produces the degraded, data-free answer used for the
// irrelevant, invalid and execution-failed paths.
func (s *QueryService) fallbackAnswer(ctx context.Context, capped, reqID string, usage *[]models.ModelUsage) string {
	res, err := s.call(ctx, prompts.Fallback(capped), llm.TaskSynthesis, s.cfg.SynthTimeout, "fallback", reqID, usage)
	if err != nil {
		return prompts.RedirectAnswer
	}
	return res.Text
}

// resolveFailure stamps the outcome for a run that cannot continue, keeping
// whatever partial data has been computed when the budget ran out.
func (s *QueryService) resolveFailure(runCtx context.Context, outcome *models.PipelineOutcome) {
	if runCtx.Err() != nil {
		outcome.Status = models.StatusTimedOut
		outcome.Answer = prompts.TimeoutAnswer
		return
	}
	outcome.Status = models.StatusFailed
	outcome.Answer = prompts.FailureAnswer
}

func (s *QueryService) call(ctx context.Context, prompt string, kind llm.TaskKind, timeout time.Duration, stage, reqID string, usage *[]models.ModelUsage) (llm.Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.llm.Complete(stageCtx, prompt, kind)
	if err != nil {
		return llm.Result{}, err
	}
	*usage = append(*usage, models.ModelUsage{
		Stage:       stage,
		Model:       res.Model,
		Temperature: res.Temperature,
		DurationMs:  res.Duration.Milliseconds(),
	})
	s.registry.RecordStage(reqID, stage, res.Duration)
	return res, nil
}

func (s *QueryService) matchShortcut(capped string) bool {
	lowered := strings.ToLower(capped)
	for _, trigger := range s.cfg.ShortcutTriggers {
		if trigger != "" && strings.Contains(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// finish records the terminal state: registry status, audit record and an
// event for the degraded statuses. Audit append is best-effort and its
// failure only logs.
func (s *QueryService) finish(start time.Time, req *models.QueryRequest, outcome *models.PipelineOutcome, usage []models.ModelUsage, relevant, execOK bool, auditSQL string) {
	total := time.Since(start)
	s.registry.UpdateStatus(req.ReqID, outcome.Status)
	if outcome.Status == models.StatusShortcut {
		s.registry.UpdateStatus(req.ReqID, models.StatusDone)
	}

	rec := &models.AuditRecord{
		Timestamp:  start,
		ReqID:      req.ReqID,
		Caller:     req.Caller,
		Question:   req.Question,
		Relevant:   relevant,
		SQL:        auditSQL,
		SQLSuccess: execOK,
		Answer:     outcome.Answer,
		Status:     outcome.Status,
		Usage:      usage,
		TotalMs:    total.Milliseconds(),
	}
	// The run context may already be expired here; the audit write must
	// still be attempted.
	if !s.repo.Audit().Append(context.Background(), rec) {
		slog.Warn("Audit append dropped", "req_id", req.ReqID, "dropped_total", s.repo.Audit().Dropped())
	}

	switch outcome.Status {
	case models.StatusFailed, models.StatusTimedOut, models.StatusExecFailed, models.StatusInvalid:
		_ = s.repo.Event().LogEvent(context.Background(), "warn", "pipeline."+outcome.Status, "Pipeline run degraded", map[string]interface{}{
			"req_id": req.ReqID,
			"status": outcome.Status,
		})
	}

	slog.Info("Pipeline run finished",
		"req_id", req.ReqID,
		"status", outcome.Status,
		"rows", len(outcome.Data),
		"duration_ms", total.Milliseconds())
}

// GetAuditRecords exposes recent audit records for the observability
// surface.
func (s *QueryService) GetAuditRecords(ctx context.Context, limit int) ([]*models.AuditRecord, error) {
	return s.repo.Audit().Recent(ctx, limit)
}

// GetRepository returns the repository for use by other services
func (s *QueryService) GetRepository() repository.Repository {
	return s.repo
}

// Registry returns the in-flight request registry.
func (s *QueryService) Registry() *RequestRegistry {
	return s.registry
}

func capQuestion(q string, max int) string {
	q = strings.TrimSpace(q)
	if max <= 0 {
		return q
	}
	runes := []rune(q)
	if len(runes) <= max {
		return q
	}
	return string(runes[:max])
}

func stripStatement(text string) string {
	s := strings.TrimSpace(text)
	for _, prefix := range []string{"```sql", "```SQL", "```"} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.Trim(s, "`")
	return strings.TrimSpace(s)
}

func toRows(columns []string, rows [][]any) []models.Row {
	out := make([]models.Row, len(rows))
	for i, values := range rows {
		out[i] = models.Row{Columns: columns, Values: values}
	}
	return out
}
