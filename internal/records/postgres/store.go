// Package postgres stores records as JSONB rows in a single table and
// publishes their changes with LISTEN/NOTIFY.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
	"certrepo/pkg/platform/sentinel"
	txcontext "certrepo/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects through the pgx database/sql driver and verifies the
// connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store implements records.Store on Postgres.
type Store struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithTxTimeout bounds transactions started without a deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, timeout: defaultTxTimeout, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Get(ctx context.Context, collection, id string) (records.Record, error) {
	return s.get(ctx, s.execer(ctx), collection, id)
}

func (s *Store) get(ctx context.Context, q dbExecutor, collection, id string) (records.Record, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := q.QueryRowContext(ctx,
		`SELECT fields, updated_at FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Record{}, fmt.Errorf("%s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	if err != nil {
		return records.Record{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return decode(id, raw, updatedAt)
}

func (s *Store) Query(ctx context.Context, collection string, filter records.Filter) ([]records.Record, error) {
	where, args := buildWhere(collection, filter)
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT id, fields, updated_at FROM records WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	out := make([]records.Record, 0)
	for rows.Next() {
		var (
			id        string
			raw       []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		rec, err := decode(id, raw, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return out, nil
}

// buildWhere translates a filter into SQL over the JSONB text projection,
// matching records.Filter.Match.
func buildWhere(collection string, filter records.Filter) (string, []any) {
	args := []any{collection}
	clauses := []string{"collection = $1"}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	for _, c := range filter {
		field := next(c.Field)
		switch c.Op {
		case records.OpEq:
			clauses = append(clauses, "fields->>"+field+" = "+next(records.Text(c.Value)))
		case records.OpNe:
			clauses = append(clauses, "(fields->>"+field+" IS NULL OR fields->>"+field+" <> "+next(records.Text(c.Value))+")")
		case records.OpIn:
			values := records.Values(c.Value)
			texts := make([]string, 0, len(values))
			for _, v := range values {
				texts = append(texts, records.Text(v))
			}
			clauses = append(clauses, "fields->>"+field+" = ANY("+next(pq.Array(texts))+"::text[])")
		case records.OpExists:
			present := "fields->>" + field + " IS NOT NULL"
			if want, _ := c.Value.(bool); want {
				clauses = append(clauses, present)
			} else {
				clauses = append(clauses, "NOT ("+present+")")
			}
		default:
			clauses = append(clauses, "FALSE")
		}
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) Write(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.BatchWrite(ctx, []records.Mutation{records.Merge(collection, id, fields)})
}

func (s *Store) BatchWrite(ctx context.Context, mutations []records.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	return s.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		for _, m := range mutations {
			if err := tx.Apply(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunInTx runs fn in a transaction. Calls made with a context that already
// carries a transaction join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx records.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if sqlTx, ok := txcontext.From(ctx); ok {
		return fn(ctx, &pgTx{store: s, tx: sqlTx})
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, sqlTx), &pgTx{store: s, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// pgTx is the records.Tx view of one SQL transaction. Reads take a
// transaction-scoped advisory lock on the record key, so read-modify-write
// sequences on one record (including one that does not exist yet) serialize.
type pgTx struct {
	store *Store
	tx    *sql.Tx
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (records.Record, error) {
	if _, err := t.tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || '/' || $2, 0))`, collection, id); err != nil {
		return records.Record{}, fmt.Errorf("lock %s/%s: %w", collection, id, err)
	}
	return t.store.get(ctx, t.tx, collection, id)
}

func (t *pgTx) Query(ctx context.Context, collection string, filter records.Filter) ([]records.Record, error) {
	return t.store.Query(txcontext.WithTx(ctx, t.tx), collection, filter)
}

func (t *pgTx) Apply(ctx context.Context, m records.Mutation) error {
	now := t.store.now().UTC()
	switch m.Mode {
	case records.ModeDelete:
		_, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, m.Collection, m.ID)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, err)
		}
		return nil
	case records.ModeCreate, records.ModeMerge, "":
	default:
		return fmt.Errorf("unknown mutation mode %q: %w", m.Mode, sentinel.ErrInvalidState)
	}

	raw, err := json.Marshal(nonNil(m.Fields))
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
	}
	query := `INSERT INTO records (collection, id, fields, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO UPDATE SET fields = records.fields || EXCLUDED.fields, updated_at = EXCLUDED.updated_at`
	if m.Mode == records.ModeCreate {
		query = `INSERT INTO records (collection, id, fields, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection, id) DO NOTHING`
	}
	if _, err := t.tx.ExecContext(ctx, query, m.Collection, m.ID, raw, now); err != nil {
		return fmt.Errorf("write %s/%s: %w", m.Collection, m.ID, err)
	}
	return nil
}

func nonNil(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}

func decode(id string, raw []byte, updatedAt time.Time) (records.Record, error) {
	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return records.Record{}, fmt.Errorf("decode %s: %w", id, err)
		}
	}
	return records.Record{ID: id, Fields: fields, UpdatedAt: updatedAt.UTC()}, nil
}
