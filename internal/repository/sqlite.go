package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aigoflow/analytics-service/internal/models"
	"github.com/aigoflow/analytics-service/internal/store"
)

// SQLiteRepository implements Repository interface using SQLite
type SQLiteRepository struct {
	db        *store.DB
	auditRepo AuditRepositoryInterface
	eventRepo EventRepositoryInterface
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		db:        db,
		auditRepo: &SQLiteAuditRepository{db: db},
		eventRepo: &SQLiteEventRepository{db: db},
	}
}

func (r *SQLiteRepository) Audit() AuditRepositoryInterface {
	return r.auditRepo
}

func (r *SQLiteRepository) Event() EventRepositoryInterface {
	return r.eventRepo
}

// SQLiteAuditRepository handles the audit trail
type SQLiteAuditRepository struct {
	db *store.DB
}

func (r *SQLiteAuditRepository) Append(ctx context.Context, rec *models.AuditRecord) bool {
	return r.db.Audit(rec)
}

func (r *SQLiteAuditRepository) Dropped() int64 {
	return r.db.Dropped()
}

func (r *SQLiteAuditRepository) Recent(ctx context.Context, limit int) ([]*models.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts,req_id,caller,question,relevant,sql_text,sql_success,answer,status,usage_json,total_ms
		 FROM audit_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var tsFloat, totalMs float64
		var relevant, success int
		var usageJSON string

		if err := rows.Scan(
			&tsFloat, &rec.ReqID, &rec.Caller, &rec.Question, &relevant,
			&rec.SQL, &success, &rec.Answer, &rec.Status, &usageJSON, &totalMs,
		); err == nil {
			rec.Timestamp = time.Unix(0, int64(tsFloat*1e9))
			rec.Relevant = relevant == 1
			rec.SQLSuccess = success == 1
			rec.TotalMs = int64(totalMs)
			_ = json.Unmarshal([]byte(usageJSON), &rec.Usage)
			records = append(records, &rec)
		}
	}

	return records, rows.Err()
}

// SQLiteEventRepository handles event logging
type SQLiteEventRepository struct {
	db *store.DB
}

func (r *SQLiteEventRepository) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	r.db.Event(level, code, msg, meta)
	return nil
}
