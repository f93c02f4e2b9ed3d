package cities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

// DefaultMySQLTable is the table read when none is configured.
const DefaultMySQLTable = "city_farming_data"

// ErrInvalidTableName is returned for table names outside [A-Za-z0-9_].
var ErrInvalidTableName = errors.New("invalid table name")

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// OpenMySQL parses dsn with the driver's parser, opens a pool and pings it with
// exponential backoff for up to maxWait.
func OpenMySQL(ctx context.Context, dsn string, maxWait time.Duration) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	if err := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// selectQuery builds the read query for table.
func selectQuery(table string) (string, error) {
	if table == "" {
		table = DefaultMySQLTable
	}
	if !tableNameRe.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return "SELECT city, COALESCE(farming_status, '') FROM `" + table + "`", nil
}

// LoadMySQL reads every (city, farming_status) row from table.
func LoadMySQL(ctx context.Context, db *sql.DB, table string) (*Table, error) {
	q, err := selectQuery(table)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query city table: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.FarmingStatus); err != nil {
			return nil, fmt.Errorf("scan city row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate city rows: %w", err)
	}
	return NewTable(records), nil
}
