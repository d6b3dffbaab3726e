package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Result tables written by every run.
const (
	AreaCounts      = "area_counts"
	CrimeTypeCounts = "crime_type_counts"
	DateTrends      = "date_trends"
)

var resultTables = []string{AreaCounts, CrimeTypeCounts, DateTrends}

// CountRow is one grouped count as stored in the results database.
type CountRow struct {
	Key   string
	Count int64
}

// Results persists the aggregate tables of a run to SQLite or PostgreSQL.
// Each write replaces the rows of earlier runs.
type Results struct {
	db     *sql.DB
	driver string
}

// OpenResults opens the results database and creates its tables. driver is
// "sqlite3" or "postgres".
func OpenResults(ctx context.Context, driver, dsn string) (*Results, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("results: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("results: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: ping: %w", err)
	}

	r := &Results{db: db, driver: driver}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: migrate: %w", err)
	}
	return r, nil
}

func (r *Results) migrate(ctx context.Context) error {
	for _, table := range resultTables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id    TEXT    NOT NULL,
			position  INTEGER NOT NULL,
			group_key TEXT    NOT NULL,
			row_count BIGINT  NOT NULL
		)`, table)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// bind rewrites ? placeholders for drivers that number them.
func (r *Results) bind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func checkTable(table string) error {
	for _, t := range resultTables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("results: unknown table %q", table)
}

// Write replaces the contents of table with rows, in order.
func (r *Results) Write(ctx context.Context, table, runID string, rows []CountRow) error {
	return r.WriteAll(ctx, runID, map[string][]CountRow{table: rows})
}

// WriteAll replaces every table in tables within one transaction, so the
// database never mixes the rows of two runs.
func (r *Results) WriteAll(ctx context.Context, runID string, tables map[string][]CountRow) error {
	for table := range tables {
		if err := checkTable(table); err != nil {
			return err
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("results: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range resultTables {
		rows, ok := tables[table]
		if !ok {
			continue
		}
		if err := r.replace(ctx, tx, table, runID, rows); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("results: commit: %w", err)
	}
	return nil
}

func (r *Results) replace(ctx context.Context, tx *sql.Tx, table, runID string, rows []CountRow) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("results: clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, r.bind(
		"INSERT INTO "+table+" (run_id, position, group_key, row_count) VALUES (?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("results: prepare %s: %w", table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, runID, i, row.Key, row.Count); err != nil {
			return fmt.Errorf("results: insert into %s: %w", table, err)
		}
	}
	return nil
}

// Read returns the rows of table in the order they were written, and the
// run that wrote them.
func (r *Results) Read(ctx context.Context, table string) (string, []CountRow, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT run_id, group_key, row_count FROM "+table+" ORDER BY position")
	if err != nil {
		return "", nil, fmt.Errorf("results: query %s: %w", table, err)
	}
	defer rows.Close()

	var runID string
	var out []CountRow
	for rows.Next() {
		var row CountRow
		if err := rows.Scan(&runID, &row.Key, &row.Count); err != nil {
			return "", nil, fmt.Errorf("results: scan %s: %w", table, err)
		}
		out = append(out, row)
	}
	return runID, out, rows.Err()
}

// Close releases the database connection.
func (r *Results) Close() error {
	return r.db.Close()
}
