package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/shortontech/trafficgate/internal/event"
)

// PGConfig holds configuration for the Postgres sink.
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
}

// PGSink batches decisions into a JSONB table. A batch is written when it
// reaches BatchSize or every FlushMS, whichever comes first.
type PGSink struct {
	config PGConfig
	db     *sql.DB

	mu    sync.Mutex
	batch []event.Decision

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// OnFlush, when set, observes every batch write.
	OnFlush func(n int, d time.Duration, err error)
}

func NewPGSinkFromEnv() *PGSink {
	return &PGSink{config: PGConfig{
		DSN:       os.Getenv("PG_DSN"),
		Table:     getEnvOr("PG_TABLE", "decisions_json"),
		BatchSize: getIntEnv("PG_BATCH_SIZE", 500),
		FlushMS:   getIntEnv("PG_FLUSH_MS", 500),
		UseCopy:   getBoolEnv("PG_COPY", true),
	}}
}

func NewPGSink(dsn string) *PGSink {
	return &PGSink{config: PGConfig{
		DSN:       dsn,
		Table:     "decisions_json",
		BatchSize: 500,
		FlushMS:   500,
		UseCopy:   true,
	}}
}

func (s *PGSink) Name() string { return "postgres" }

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateTableName guards the table name, which is interpolated into SQL.
func validateTableName(name string) error {
	if name == "" || len(name) > 63 || !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}
	if s.config.BatchSize <= 0 {
		s.config.BatchSize = 500
	}
	if s.config.FlushMS <= 0 {
		s.config.FlushMS = 500
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.db = db
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.ensureSchema(); err != nil {
		s.cancel()
		_ = db.Close()
		s.db = nil
		return err
	}

	s.batch = make([]event.Decision, 0, s.config.BatchSize)
	s.done = make(chan struct{})
	go s.flushRoutine()
	return nil
}

func (s *PGSink) ensureSchema() error {
	t := s.config.Table
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id TEXT PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	context TEXT NOT NULL,
	action TEXT NOT NULL,
	payload JSONB NOT NULL
)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (payload)`, t, t),
	}

	if _, err := s.db.ExecContext(s.ctx, stmts[0]); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t, err)
	}
	for _, stmt := range stmts[1:] {
		if _, err := s.db.ExecContext(s.ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", t, err)
		}
	}
	return nil
}

func (s *PGSink) Enqueue(e event.Decision) error {
	s.mu.Lock()
	s.batch = append(s.batch, e)
	full := s.config.BatchSize > 0 && len(s.batch) >= s.config.BatchSize
	s.mu.Unlock()

	if full {
		return s.flushBatch()
	}
	return nil
}

// flushBatch writes the pending batch. The batch is kept on failure so the
// next flush retries it.
func (s *PGSink) flushBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.batch)
	if n == 0 {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("postgres sink not started")
	}

	start := time.Now()
	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy()
	} else {
		err = s.flushWithInsert()
	}
	if s.OnFlush != nil {
		s.OnFlush(n, time.Since(start), err)
	}
	if err != nil {
		return err
	}
	s.batch = s.batch[:0]
	return nil
}

type pgRow struct {
	id      string
	ts      time.Time
	context string
	action  string
	payload string
}

func toRow(e event.Decision) (pgRow, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return pgRow{}, fmt.Errorf("failed to serialize event %s: %w", e.EventID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, e.TS)
	if err != nil {
		ts = time.Now().UTC()
	}
	return pgRow{id: e.EventID, ts: ts, context: e.Context, action: e.Action, payload: string(payload)}, nil
}

func (s *PGSink) flushWithInsert() error {
	if len(s.batch) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (event_id, ts, context, action, payload) VALUES ", s.config.Table)
	args := make([]any, 0, len(s.batch)*5)
	for i, e := range s.batch {
		row, err := toRow(e)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		p := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5)
		args = append(args, row.id, row.ts, row.context, row.action, row.payload)
	}
	sb.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	if _, err := s.db.ExecContext(s.ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch of %d: %w", len(s.batch), err)
	}
	return nil
}

func (s *PGSink) flushWithCopy() error {
	if len(s.batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(s.ctx, pq.CopyIn(s.config.Table, "event_id", "ts", "context", "action", "payload"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, e := range s.batch {
		row, err := toRow(e)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(s.ctx, row.id, row.ts, row.context, row.action, row.payload); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy row %s: %w", row.id, err)
		}
	}
	if _, err := stmt.ExecContext(s.ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) flushRoutine() {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.config.FlushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushBatch(); err != nil {
				log.Printf("sink: postgres flush failed: %v", err)
			}
		}
	}
}

func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.db == nil {
		return nil
	}

	// The sink context is cancelled; the final flush runs on a fresh one.
	s.ctx = context.Background()
	flushErr := s.flushBatch()
	closeErr := s.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
