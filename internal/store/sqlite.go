package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aigoflow/analytics-service/internal/models"
)

// DB is the audit/event store. Appends are best-effort: when the file lock
// cannot be taken within the busy timeout the record is dropped and counted,
// never blocking the pipeline.
type DB struct {
	*sql.DB
	dropped int64
}

func Open(path string, busyTimeout time.Duration) (*DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Create events table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		return nil, err
	}

	// Create audit table with one row per completed pipeline run
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_records(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		req_id TEXT,
		caller TEXT,
		question TEXT,
		relevant INTEGER,
		sql_text TEXT,
		sql_success INTEGER,
		answer TEXT,
		status TEXT,
		usage_json TEXT,
		total_ms REAL
	)`); err != nil {
		return nil, err
	}

	return &DB{DB: db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]interface{}) {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, _ = db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		float64(time.Now().UnixNano())/1e9, level, code, msg, m)
}

// Audit appends one record. It reports whether the record was persisted;
// false means the write was dropped (lock contention or storage failure).
func (db *DB) Audit(rec *models.AuditRecord) bool {
	usage, _ := json.Marshal(rec.Usage)
	_, err := db.Exec(`INSERT INTO audit_records(
		ts, req_id, caller, question, relevant, sql_text, sql_success, answer, status, usage_json, total_ms)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		float64(rec.Timestamp.UnixNano())/1e9, rec.ReqID, rec.Caller, rec.Question,
		boolInt(rec.Relevant), rec.SQL, boolInt(rec.SQLSuccess), rec.Answer, rec.Status,
		string(usage), float64(rec.TotalMs))
	if err != nil {
		atomic.AddInt64(&db.dropped, 1)
		return false
	}
	return true
}

// Dropped returns how many audit appends have been dropped so far.
func (db *DB) Dropped() int64 {
	return atomic.LoadInt64(&db.dropped)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
