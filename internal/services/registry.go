package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/aigoflow/analytics-service/internal/models"
)

// statusRank enforces monotonic status transitions: an entry never moves
// back to an earlier stage.
var statusRank = map[string]int{
	models.StatusInit:         0,
	models.StatusClassifying:  1,
	models.StatusGenerating:   2,
	models.StatusExecuting:    3,
	models.StatusSynthesizing: 4,
	models.StatusShortcut:     5,
	models.StatusIrrelevant:   5,
	models.StatusInvalid:      5,
	models.StatusExecFailed:   5,
	models.StatusTimedOut:     5,
	models.StatusFailed:       5,
	models.StatusDone:         6,
}

// RequestRegistry is the concurrency-safe map of in-flight and recently
// completed requests. Entries older than the retention window are swept
// opportunistically on each registration; there is no background task.
type RequestRegistry struct {
	mu        sync.Mutex
	entries   map[string]*models.QueryRequest
	retention time.Duration
}

func NewRequestRegistry(retention time.Duration) *RequestRegistry {
	return &RequestRegistry{
		entries:   make(map[string]*models.QueryRequest),
		retention: retention,
	}
}

// Register adds a new entry and sweeps expired ones. It fails when the
// identifier is already held by a live entry, so identifiers stay unique
// within the retention window.
func (r *RequestRegistry) Register(req *models.QueryRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(time.Now())

	if _, exists := r.entries[req.ReqID]; exists {
		return fmt.Errorf("request id %q already registered", req.ReqID)
	}
	if req.StageMs == nil {
		req.StageMs = make(map[string]int64)
	}
	r.entries[req.ReqID] = req
	return nil
}

// UpdateStatus advances an entry's status. Regressions are ignored.
func (r *RequestRegistry) UpdateStatus(reqID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[reqID]
	if !ok {
		return
	}
	if statusRank[status] >= statusRank[entry.Status] {
		entry.Status = status
	}
}

// RecordStage stores the elapsed time of one completed stage.
func (r *RequestRegistry) RecordStage(reqID, stage string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[reqID]; ok {
		entry.StageMs[stage] = elapsed.Milliseconds()
	}
}

// Get returns a copy of an entry, so callers never share the registry's
// mutable state.
func (r *RequestRegistry) Get(reqID string) (models.QueryRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[reqID]
	if !ok {
		return models.QueryRequest{}, false
	}
	cp := *entry
	cp.StageMs = make(map[string]int64, len(entry.StageMs))
	for k, v := range entry.StageMs {
		cp.StageMs[k] = v
	}
	return cp, true
}

// Len returns the number of live entries.
func (r *RequestRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep removes entries older than the retention window and reports how
// many were removed.
func (r *RequestRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(time.Now())
}

func (r *RequestRegistry) sweepLocked(now time.Time) int {
	removed := 0
	for id, entry := range r.entries {
		if now.Sub(entry.SubmittedAt) > r.retention {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
