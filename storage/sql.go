package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"tasklist-api/domain"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dialect struct {
	driver string
	// returning reports whether INSERT ... RETURNING is supported.
	returning bool
	schema    string
}

var (
	postgresDialect = dialect{
		driver:    "postgres",
		returning: true,
		schema: `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	owner TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_owner_created_idx ON %[1]s (owner, created_at DESC);`,
	}
	mysqlDialect = dialect{
		driver: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	text TEXT NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	owner VARCHAR(255) NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	INDEX %[1]s_owner_created_idx (owner, created_at)
)`,
	}
)

// rebind rewrites ? placeholders for drivers that use numbered ones.
func (d dialect) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQL stores tasks in a PostgreSQL or MySQL table.
type SQL struct {
	db      *sql.DB
	dialect dialect
	table   string
}

// NewPostgres opens a PostgreSQL store. endpoint is a postgres:// URL
// without credentials.
func NewPostgres(ctx context.Context, endpoint, username, accessKey, table string) (*SQL, error) {
	dsn, err := postgresDSN(endpoint, username, accessKey)
	if err != nil {
		return nil, err
	}
	return openSQL(ctx, postgresDialect, dsn, table)
}

// NewMySQL opens a MySQL store. endpoint is a go-sql-driver DSN without
// credentials, e.g. tcp(db:3306)/tasklist.
func NewMySQL(ctx context.Context, endpoint, username, accessKey, table string) (*SQL, error) {
	dsn, err := mysqlDSN(endpoint, username, accessKey)
	if err != nil {
		return nil, err
	}
	return openSQL(ctx, mysqlDialect, dsn, table)
}

func postgresDSN(endpoint, username, accessKey string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("postgres endpoint: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("postgres endpoint: unsupported scheme %q", u.Scheme)
	}
	u.User = url.UserPassword(username, accessKey)
	return u.String(), nil
}

func mysqlDSN(endpoint, username, accessKey string) (string, error) {
	cfg, err := mysql.ParseDSN(endpoint)
	if err != nil {
		return "", fmt.Errorf("mysql endpoint: %w", err)
	}
	cfg.User = username
	cfg.Passwd = accessKey
	// The schema is a single statement per Exec; keep it that way.
	cfg.MultiStatements = false
	return cfg.FormatDSN(), nil
}

func openSQL(ctx context.Context, d dialect, dsn, table string) (*SQL, error) {
	if !identifierRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	s := &SQL{db: db, dialect: d, table: table}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(fmt.Sprintf(s.dialect.schema, s.table), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}
	return nil
}

const taskColumns = "id, text, completed, owner, created_at"

func (s *SQL) listQuery(owner string) (string, []any) {
	q := "SELECT " + taskColumns + " FROM " + s.table
	var args []any
	if owner != "" {
		q += " WHERE owner = ?"
		args = append(args, owner)
	}
	q += " ORDER BY created_at DESC, id DESC"
	return s.dialect.rebind(q), args
}

// updateQuery builds the UPDATE for a non-empty patch.
func (s *SQL) updateQuery(id int64, patch domain.TaskPatch) (string, []any) {
	var sets []string
	var args []any
	if patch.Text != nil {
		sets = append(sets, "text = ?")
		args = append(args, *patch.Text)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	args = append(args, id)
	q := "UPDATE " + s.table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	return s.dialect.rebind(q), args
}

func (s *SQL) whereVisible(owner string, id int64) (string, []any) {
	if owner == "" {
		return " WHERE id = ?", []any{id}
	}
	return " WHERE id = ? AND owner = ?", []any{id, owner}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t  domain.Task
		id int64
	)
	if err := row.Scan(&id, &t.Text, &t.Completed, &t.Owner, &t.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	t.ID = strconv.FormatInt(id, 10)
	return t, nil
}

// ListTasks returns tasks newest first.
func (s *SQL) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	q, args := s.listQuery(owner)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQL) InsertTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	task.CreatedAt = domain.NextTimestamp()
	q := "INSERT INTO " + s.table + " (text, completed, owner, created_at) VALUES (?, ?, ?, ?)"
	args := []any{task.Text, task.Completed, task.Owner, task.CreatedAt}

	var id int64
	if s.dialect.returning {
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(q+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return domain.Task{}, err
		}
	} else {
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return domain.Task{}, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return domain.Task{}, err
		}
	}
	task.ID = strconv.FormatInt(id, 10)
	return task, nil
}

// UpdateTask locks the row, applies the patch and returns the new state in a
// single transaction.
func (s *SQL) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (task domain.Task, err error) {
	rowID, ok := parseRowID(id)
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	where, args := s.whereVisible(owner, rowID)
	q := s.dialect.rebind("SELECT " + taskColumns + " FROM " + s.table + where + " FOR UPDATE")
	task, err = scanTask(tx.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}

	if !patch.Empty() {
		uq, uargs := s.updateQuery(rowID, patch)
		if _, err = tx.ExecContext(ctx, uq, uargs...); err != nil {
			return domain.Task{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return patch.Apply(task), nil
}

func (s *SQL) DeleteTask(ctx context.Context, owner, id string) error {
	rowID, ok := parseRowID(id)
	if !ok {
		return domain.ErrNotFound
	}
	where, args := s.whereVisible(owner, rowID)
	res, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM "+s.table+where), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQL) Close(context.Context) error {
	return s.db.Close()
}

func parseRowID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
