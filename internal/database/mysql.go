package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/edgelab/appaudit/internal/config"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLDB implements DB using MySQL via go-sql-driver/mysql.
type MySQLDB struct {
	db  *sql.DB
	dsn string
}

// NewMySQL opens a MySQL connection using cfg.DSN.
func NewMySQL(cfg config.DatabaseConfig) (*MySQLDB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required when driver is mysql")
	}

	// Append parseTime=true if not already set.
	dsn := cfg.DSN
	if !strings.Contains(dsn, "parseTime") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	m := &MySQLDB{db: db, dsn: dsn}
	if err := m.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return m, nil
}

func (m *MySQLDB) Driver() string { return "mysql" }

func (m *MySQLDB) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLDB) Close() error {
	return m.db.Close()
}

// Migrate applies pending SQL migrations adapted for MySQL syntax.
func (m *MySQLDB) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id         INT          NOT NULL AUTO_INCREMENT PRIMARY KEY,
		filename   VARCHAR(255) NOT NULL UNIQUE,
		applied_at VARCHAR(64)  NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}

	names := make([]string, 0)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var count int
		row := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		// Translate SQLite-specific syntax to MySQL.
		sqlText := mysqlAdapt(string(data))

		stmts := strings.Split(sqlText, ";")
		for _, stmt := range stmts {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := m.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %s statement: %w\nSQL: %s", name, err, stmt)
			}
		}

		_, err = m.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		slog.Info("Applied migration", "file", name, "driver", "mysql")
	}
	return nil
}

func (m *MySQLDB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return doSelect(ctx, m.db, dest, query, args...)
}

func (m *MySQLDB) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return doGet(ctx, m.db, dest, query, args...)
}

func (m *MySQLDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return doExec(ctx, m.db, query, args...)
}

func (m *MySQLDB) Insert(ctx context.Context, table string, record interface{}) (int64, error) {
	return doInsert(ctx, m.db, table, record)
}

func (m *MySQLDB) Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error {
	return doUpdate(ctx, m.db, table, record, where, args...)
}

func (m *MySQLDB) Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error {
	return mysqlUpsert(ctx, m.db, table, record, conflictCols)
}

// WithTx runs fn inside a transaction, rolling back on any error.
func (m *MySQLDB) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&mysqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// mysqlTx adapts an open *sql.Tx to the Executor interface.
type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return doSelect(ctx, t.tx, dest, query, args...)
}

func (t *mysqlTx) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return doGet(ctx, t.tx, dest, query, args...)
}

func (t *mysqlTx) Exec(ctx context.Context, query string, args ...interface{}) error {
	return doExec(ctx, t.tx, query, args...)
}

func (t *mysqlTx) Insert(ctx context.Context, table string, record interface{}) (int64, error) {
	return doInsert(ctx, t.tx, table, record)
}

func (t *mysqlTx) Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error {
	return doUpdate(ctx, t.tx, table, record, where, args...)
}

func (t *mysqlTx) Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error {
	return mysqlUpsert(ctx, t.tx, table, record, conflictCols)
}

// mysqlAdapt converts SQLite-specific SQL fragments to MySQL equivalents.
func mysqlAdapt(sqlText string) string {
	sqlText = strings.ReplaceAll(sqlText, "AUTOINCREMENT", "AUTO_INCREMENT")
	sqlText = strings.ReplaceAll(sqlText, "INTEGER PRIMARY KEY AUTO_INCREMENT",
		"INT NOT NULL AUTO_INCREMENT PRIMARY KEY")
	sqlText = strings.ReplaceAll(sqlText, " REAL ", " DOUBLE ")
	return sqlText
}
