package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tinoosan/ferry/internal/fp"
	"github.com/tinoosan/ferry/internal/task"
)

// PostgresRepo stores task records in PostgreSQL so tasks survive a
// process restart. It expects a table `tasks` with a unique index on
// `fingerprint`.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepoFromEnv constructs a DSN using component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (ferry),
//	POSTGRES_USER (ferry), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded to handle special characters.
func NewPostgresRepoFromEnv() (*PostgresRepo, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "ferry")
	user := getenv("POSTGRES_USER", "ferry")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgresRepo(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

// Ping verifies connectivity, used by the readiness probe.
func (r *PostgresRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    record JSONB NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE,
    updated_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

var _ TaskRepo = (*PostgresRepo)(nil)

func (r *PostgresRepo) List(ctx context.Context) ([]task.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT record FROM tasks ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []task.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec task.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (task.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT record FROM tasks WHERE task_id=$1`, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task.Record{}, task.ErrNotFound
		}
		return task.Record{}, err
	}
	var rec task.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return task.Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) Put(ctx context.Context, rec task.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tasks (task_id, record, fingerprint, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (task_id) DO UPDATE
SET record = EXCLUDED.record, fingerprint = EXCLUDED.fingerprint, updated_at = EXCLUDED.updated_at
`, rec.TaskID, raw, fp.Fingerprint(rec), time.Now().UTC())
	if err != nil && isUniqueViolation(err) {
		return task.ErrDuplicate
	}
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.ErrNotFound
	}
	return nil
}

// isUniqueViolation detects the fingerprint unique-index conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
