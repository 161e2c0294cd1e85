// Package audit persists a write-only record of every tool call. The engine
// treats the sink as fire-and-forget: recording failures are logged and
// never fail a call.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/gatehouse-io/gatehouse/internal/logger"
	"github.com/gatehouse-io/gatehouse/pkg/executor"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_call_audit (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id       TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	endpoint_id   TEXT NOT NULL,
	risk_level    TEXT NOT NULL,
	arguments     TEXT NOT NULL,
	result_status TEXT NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_call ON tool_call_audit(call_id);
CREATE INDEX IF NOT EXISTS idx_audit_user ON tool_call_audit(user_id, created_at);
`

// Recorder writes audit records to SQLite through a single writer
// goroutine. Arguments pass through the redactor before touching disk.
type Recorder struct {
	db       *sql.DB
	queue    chan executor.AuditRecord
	done     chan struct{}
	redactor *logger.Redactor
	logger   zerolog.Logger
}

// NewRecorder opens (creating if needed) the audit database
func NewRecorder(path string, redactor *logger.Redactor, log zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	if redactor == nil {
		redactor = logger.NewRedactor()
	}

	r := &Recorder{
		db:       db,
		queue:    make(chan executor.AuditRecord, 256),
		done:     make(chan struct{}),
		redactor: redactor,
		logger:   log,
	}
	go r.run()

	log.Info().Str("path", path).Msg("Audit recorder started")
	return r, nil
}

// Record implements executor.AuditSink. Non-blocking: if the queue is full
// the record is dropped with a warning rather than stalling a tool call.
func (r *Recorder) Record(rec executor.AuditRecord) {
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn().Str("call", rec.CallID).Msg("Audit queue full, dropping record")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.insert(rec); err != nil {
			r.logger.Error().Err(err).Str("call", rec.CallID).Msg("Failed to persist audit record")
		}
	}
}

func (r *Recorder) insert(rec executor.AuditRecord) error {
	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	redacted := r.redactor.Redact(string(args))

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = r.db.Exec(
		`INSERT INTO tool_call_audit
		 (call_id, user_id, endpoint_id, risk_level, arguments, result_status, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.UserID, rec.EndpointID, string(rec.Risk),
		redacted, string(rec.ResultStatus), string(rec.ErrorKind), ts,
	)
	return err
}

// Close drains the queue and closes the database
func (r *Recorder) Close() error {
	close(r.queue)
	<-r.done
	return r.db.Close()
}
