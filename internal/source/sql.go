package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName maps DbType to registered database/sql driver.
// Params: connection db type.
// Returns: driver name or configuration error.
func DriverName(dbType domain.DbType) (string, error) {
	switch dbType {
	case domain.DbMySQL:
		return "mysql", nil
	case domain.DbSQLServer:
		return "sqlserver", nil
	case domain.DbSQLite:
		return "sqlite", nil
	case domain.DbPostgres:
		return "pgx", nil
	default:
		return "", permanent.Errorf("unsupported db type %q", dbType)
	}
}

// SQLPoolOptions bounds per-connection pools.
type SQLPoolOptions struct {
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

// SQLPool caches one *sql.DB per connection id and reopens it when DSN or type changes.
type SQLPool struct {
	mu    sync.Mutex
	opts  SQLPoolOptions
	pools map[int64]pooledDB
}

type pooledDB struct {
	dbType domain.DbType
	dsn    string
	db     *sql.DB
}

// NewSQLPool creates empty connection factory.
func NewSQLPool(opts SQLPoolOptions) *SQLPool {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}
	if opts.ConnMaxIdleTime <= 0 {
		opts.ConnMaxIdleTime = 5 * time.Minute
	}
	return &SQLPool{opts: opts, pools: make(map[int64]pooledDB)}
}

func (p *SQLPool) handle(conn domain.DbConnection) (*sql.DB, error) {
	driver, err := DriverName(conn.DbType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(conn.DSN) == "" {
		return nil, permanent.Errorf("connection %q has empty dsn", conn.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.pools[conn.ID]; ok {
		if cached.dsn == conn.DSN && cached.dbType == conn.DbType {
			return cached.db, nil
		}
		_ = cached.db.Close()
		delete(p.pools, conn.ID)
	}
	db, err := sql.Open(driver, conn.DSN)
	if err != nil {
		return nil, permanent.Errorf("open %s connection %q: %w", conn.DbType, conn.Name, err)
	}
	db.SetMaxOpenConns(p.opts.MaxOpenConns)
	db.SetConnMaxIdleTime(p.opts.ConnMaxIdleTime)
	p.pools[conn.ID] = pooledDB{dbType: conn.DbType, dsn: conn.DSN, db: db}
	return db, nil
}

// Query runs a read query and materializes all rows.
// Params: context (cancels the query), connection, query text.
// Returns: column names, rows, or query error.
func (p *SQLPool) Query(ctx context.Context, conn domain.DbConnection, query string) ([]string, []domain.Row, error) {
	db, err := p.handle(conn)
	if err != nil {
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query %q: %w", conn.Name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}
	numeric := make([]bool, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range types {
			numeric[i] = isNumericType(columnType.DatabaseTypeName())
		}
	}

	out := make([]domain.Row, 0, 16)
	cells := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range cells {
		targets[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := domain.NewRow(len(columns))
		for i, column := range columns {
			row.Set(column, valueFromSQL(cells[i], numeric[i]))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, out, nil
}

// Close closes all cached pools.
func (p *SQLPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for id, pooled := range p.pools {
		if err := pooled.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.pools, id)
	}
	return firstErr
}

func isNumericType(name string) bool {
	name = strings.ToUpper(name)
	if strings.Contains(name, "INTERVAL") || strings.Contains(name, "POINT") {
		return false
	}
	for _, marker := range []string{"INT", "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "MONEY"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// valueFromSQL converts scanned driver value into tagged value.
// Text-protocol drivers return numbers as []byte; numeric column hint parses them back.
func valueFromSQL(cell any, numericColumn bool) domain.Value {
	switch typed := cell.(type) {
	case nil:
		return domain.Null()
	case int64:
		return domain.Number(float64(typed), strconv.FormatInt(typed, 10))
	case int32:
		return domain.Number(float64(typed), strconv.FormatInt(int64(typed), 10))
	case float64:
		return domain.Number(typed, strconv.FormatFloat(typed, 'f', -1, 64))
	case float32:
		return domain.Number(float64(typed), strconv.FormatFloat(float64(typed), 'f', -1, 32))
	case bool:
		return domain.Bool(typed)
	case time.Time:
		return domain.String(typed.Format(time.RFC3339))
	case []byte:
		return textCell(string(typed), numericColumn)
	case string:
		return textCell(typed, numericColumn)
	default:
		return domain.String(fmt.Sprint(typed))
	}
}

func textCell(text string, numericColumn bool) domain.Value {
	if numericColumn {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return domain.Number(parsed, strings.TrimSpace(text))
		}
	}
	return domain.String(text)
}
