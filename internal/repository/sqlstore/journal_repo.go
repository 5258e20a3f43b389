package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	_ "github.com/mattn/go-sqlite3"    // Драйвер SQLite
	"github.com/xela07ax/opsguard/internal/audit"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// JournalRepo хранит журнал ядра. PostgreSQL в проде, SQLite для одиночного инстанса.
type JournalRepo struct {
	db     *sql.DB
	driver string
}

// Open подключается и накатывает схему.
func Open(ctx context.Context, driver, dsn string) (*JournalRepo, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite не любит параллельных писателей
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal db ping: %w", err)
	}

	r := &JournalRepo{db: db, driver: driver}
	if err := r.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *JournalRepo) Close() error { return r.db.Close() }

func (r *JournalRepo) Migrate(ctx context.Context) error {
	tsType, payloadType := "TIMESTAMPTZ", "JSONB"
	if r.driver == DriverSQLite {
		tsType, payloadType = "DATETIME", "TEXT"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS journal_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			payload %s,
			ts %s NOT NULL
		)`, payloadType, tsType),
		`CREATE INDEX IF NOT EXISTS journal_events_ts_idx ON journal_events (ts)`,
		`CREATE INDEX IF NOT EXISTS journal_events_kind_idx ON journal_events (kind)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("journal migrate: %w", err)
		}
	}
	return nil
}

// placeholder: $N для Postgres, ? для SQLite.
func (r *JournalRepo) placeholder(n int) string {
	if r.driver == DriverSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// WriteBatch реализует audit.StorageInterface: одна вставка на пачку.
func (r *JournalRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	const numFields = 7
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString(r.placeholder(i*numFields + f))
		}
		sb.WriteString(")")

		payload, _ := json.Marshal(e.Payload)
		vals = append(vals, e.ID, string(e.Kind), e.Subject, e.Severity, e.Outcome, string(payload), e.Timestamp.UTC())
	}

	query := "INSERT INTO journal_events (id, kind, subject, severity, outcome, payload, ts) VALUES " + sb.String()
	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// Filter: выборка журнала для API.
type Filter struct {
	Kind  audit.EventKind
	Since time.Time
	Limit int
}

// FetchEvents: последние события, новые первыми.
func (r *JournalRepo) FetchEvents(ctx context.Context, f Filter) ([]audit.Event, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	var (
		where []string
		args  []interface{}
	)
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, "kind = "+r.placeholder(len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		where = append(where, "ts >= "+r.placeholder(len(args)))
	}

	query := "SELECT id, kind, subject, severity, outcome, payload, ts FROM journal_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += " ORDER BY ts DESC LIMIT " + r.placeholder(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Event, 0, f.Limit)
	for rows.Next() {
		var (
			e       audit.Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Subject, &e.Severity, &e.Outcome, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = audit.EventKind(kind)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
