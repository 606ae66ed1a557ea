package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"classbot/internal/model"
	"classbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if absent) the SQLite database at cfg.Path and applies
// the schema. It is safe to call on every process start.
func Open(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction that is committed on success and rolled
// back on error or panic.
func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", logx.Err(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) RegisterRecipient(ctx context.Context, r model.Recipient) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipients(chat_id, username, first_name, joined_at) VALUES(?,?,?,?)
			 ON CONFLICT(chat_id) DO NOTHING`,
			r.ChatID, nullStr(r.Username), nullStr(r.Name), time.Now().Format(timeFormat),
		)
		return err
	})
}

func (s *sqliteStore) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT chat_id FROM recipients ORDER BY chat_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

func (s *sqliteStore) CountRecipients(ctx context.Context) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	})
	return n, err
}

func (s *sqliteStore) AddEvent(ctx context.Context, e model.ClassEvent) (model.ClassEvent, error) {
	hhmm, err := model.NormalizeTime(e.Time)
	if err != nil {
		return model.ClassEvent{}, err
	}
	e.Time = hhmm
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO daily_classes(time_str, course, room, teacher) VALUES(?,?,?,?)`,
			e.Time, e.Course, e.Room, e.Teacher,
		)
		if err != nil {
			return err
		}
		e.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return model.ClassEvent{}, err
	}
	return e, nil
}

func (s *sqliteStore) ListEvents(ctx context.Context) ([]model.ClassEvent, error) {
	return s.queryEvents(ctx, `SELECT id, time_str, course, room, teacher FROM daily_classes ORDER BY time_str ASC, id ASC`)
}

func (s *sqliteStore) ListEventsAt(ctx context.Context, hhmm string) ([]model.ClassEvent, error) {
	return s.queryEvents(ctx, `SELECT id, time_str, course, room, teacher FROM daily_classes WHERE time_str = ? ORDER BY id ASC`, hhmm)
}

func (s *sqliteStore) queryEvents(ctx context.Context, query string, args ...any) ([]model.ClassEvent, error) {
	var out []model.ClassEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e model.ClassEvent
			if err := rows.Scan(&e.ID, &e.Time, &e.Course, &e.Room, &e.Teacher); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *sqliteStore) ClearEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM daily_classes`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *sqliteStore) AddNotice(ctx context.Context, n model.Notice) (model.Notice, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO notices(title, body, created_at) VALUES(?,?,?)`,
			n.Title, n.Body, n.CreatedAt.Format(timeFormat),
		)
		if err != nil {
			return err
		}
		n.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return model.Notice{}, err
	}
	return n, nil
}

func (s *sqliteStore) ListRecentNotices(ctx context.Context, limit int) ([]model.Notice, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []model.Notice
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, title, body, created_at FROM notices ORDER BY id DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				n  model.Notice
				at string
			)
			if err := rows.Scan(&n.ID, &n.Title, &n.Body, &at); err != nil {
				return err
			}
			n.CreatedAt = parseTime(at)
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

func (s *sqliteStore) AddResource(ctx context.Context, r model.Resource) (model.Resource, error) {
	if strings.TrimSpace(r.FileID) == "" {
		return model.Resource{}, &model.ValidationError{Field: "file", Reason: "missing file handle"}
	}
	if r.Kind != model.ResourceDocument && r.Kind != model.ResourcePhoto {
		return model.Resource{}, &model.ValidationError{Field: "file", Reason: fmt.Sprintf("unsupported kind %q", r.Kind)}
	}
	if strings.TrimSpace(r.Caption) == "" {
		r.Caption = model.DefaultResourceCaption
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO resources(file_id, file_type, caption, created_at) VALUES(?,?,?,?)`,
			r.FileID, string(r.Kind), r.Caption, r.CreatedAt.Format(timeFormat),
		)
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return model.Resource{}, err
	}
	return r, nil
}

func (s *sqliteStore) ListRecentResources(ctx context.Context, limit int) ([]model.Resource, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []model.Resource
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, file_id, file_type, caption, created_at FROM resources ORDER BY id DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r    model.Resource
				kind string
				at   string
			)
			if err := rows.Scan(&r.ID, &r.FileID, &kind, &r.Caption, &at); err != nil {
				return err
			}
			r.Kind = model.ResourceKind(kind)
			r.CreatedAt = parseTime(at)
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, fail, err, took_ms)
			 VALUES(?,?,?,?,?,?,?,?,?)`,
			e.At.Format(timeFormat), e.ActorID, nullStr(e.ActorUsername), e.Action, nullStr(e.Target),
			e.OK, e.Fail, nullStr(e.Error), e.TookMS,
		)
		return err
	})
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
