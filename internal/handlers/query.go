package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aigoflow/analytics-service/internal/services"
)

type QueryHandler struct {
	queryService *services.QueryService
}

func NewQueryHandler(queryService *services.QueryService) *QueryHandler {
	return &QueryHandler{
		queryService: queryService,
	}
}

func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/query", h.handleQuery)
	mux.HandleFunc("/v1/requests", h.handleRequestStatus)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/logs", h.handleLogs)
}

func (h *QueryHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var httpReq services.QueryMessage
	if err := json.NewDecoder(r.Body).Decode(&httpReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if httpReq.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	caller := httpReq.Caller
	if caller == "" {
		caller = "http"
	}

	outcome := h.queryService.Run(r.Context(), httpReq.Question, httpReq.ReqID, caller)

	resp := map[string]interface{}{
		"req_id":   outcome.ReqID,
		"question": outcome.Question,
		"sql":      outcome.SQL,
		"columns":  outcome.Columns,
		"data":     outcome.DataMaps(),
		"answer":   outcome.Answer,
		"status":   outcome.Status,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *QueryHandler) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	entry, ok := h.queryService.Registry().Get(id)
	if !ok {
		http.Error(w, "unknown request id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

func (h *QueryHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	// Non-positive values would make the SQLite LIMIT unbounded.
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	records, err := h.queryService.GetAuditRecords(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get audit records: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
