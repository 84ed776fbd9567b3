package models

import "time"

// Status values for an in-flight or completed query request. Transitions are
// monotonic: a request never moves back to an earlier stage.
const (
	StatusInit         = "init"
	StatusShortcut     = "shortcut"
	StatusClassifying  = "classifying"
	StatusGenerating   = "generating"
	StatusExecuting    = "executing"
	StatusSynthesizing = "synthesizing"
	StatusDone         = "done"
	StatusIrrelevant   = "irrelevant"
	StatusInvalid      = "invalid"
	StatusExecFailed   = "exec_failed"
	StatusTimedOut     = "timed_out"
	StatusFailed       = "failed"
)

// QueryRequest tracks one pipeline run in the registry. Capped holds the
// length-limited working copy of the question that all stages operate on.
type QueryRequest struct {
	ReqID       string           `json:"req_id"`
	Caller      string           `json:"caller"`
	Question    string           `json:"question"`
	Capped      string           `json:"capped_question"`
	Status      string           `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	StageMs     map[string]int64 `json:"stage_ms,omitempty"`
}

// Row is one result row with column order preserved alongside the values.
type Row struct {
	Columns []string `json:"columns"`
	Values  []any    `json:"values"`
}

// Map renders the row as a column→value object for JSON surfaces.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		if i < len(r.Values) {
			m[c] = r.Values[i]
		}
	}
	return m
}

// PipelineOutcome is the terminal result of one run. SQL is empty whenever no
// valid statement was produced; Data is capped at the configured row limit.
type PipelineOutcome struct {
	ReqID    string   `json:"req_id"`
	Question string   `json:"question"`
	SQL      string   `json:"sql"`
	Columns  []string `json:"columns"`
	Data     []Row    `json:"data"`
	Answer   string   `json:"answer"`
	Status   string   `json:"status"`
}

// DataMaps renders the result rows as column→value objects, preserving the
// empty-slice shape for JSON surfaces.
func (o *PipelineOutcome) DataMaps() []map[string]any {
	out := make([]map[string]any, len(o.Data))
	for i, row := range o.Data {
		out[i] = row.Map()
	}
	return out
}

// ModelUsage records one model call made during a run.
type ModelUsage struct {
	Stage       string  `json:"stage"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	DurationMs  int64   `json:"dur_ms"`
}

// AuditRecord is the write-once log entry for a completed run. It is created
// at the terminal point of the pipeline and owned by the audit store after
// append; it is never mutated.
type AuditRecord struct {
	Timestamp  time.Time    `json:"ts"`
	ReqID      string       `json:"req_id"`
	Caller     string       `json:"caller"`
	Question   string       `json:"question"`
	Relevant   bool         `json:"relevant"`
	SQL        string       `json:"sql"`
	SQLSuccess bool         `json:"sql_success"`
	Answer     string       `json:"answer"`
	Status     string       `json:"status"`
	Usage      []ModelUsage `json:"usage"`
	TotalMs    int64        `json:"total_ms"`
}
