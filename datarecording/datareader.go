package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// QueryParams narrows down the rows returned by a query.
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword.
	Where string
	Args  []any

	// OrderBy holds the ORDER BY clause without the keywords.
	OrderBy string

	// Limit is the maximum number of rows. Zero means no limit.
	Limit int
}

// A DataReader reads the tables written by a DataRecorder.
type DataReader interface {
	// Count returns the number of rows that match the params.
	Count(ctx context.Context, tableName string, params QueryParams) (int, error)

	// Query returns the rows that match the params, one map per row keyed by
	// column name.
	Query(
		ctx context.Context,
		tableName string,
		params QueryParams,
	) ([]map[string]any, error)

	Close() error
}

// NewReader opens a database written by a DataRecorder. The file must exist.
func NewReader(filename string) (DataReader, error) {
	filename, err := findDatabase(filename)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	return NewReaderWithDB(db), nil
}

// findDatabase resolves the name of an existing database file. The base name
// given to New is accepted as well.
func findDatabase(filename string) (string, error) {
	_, err := os.Stat(filename)
	if err == nil {
		return filename, nil
	}

	_, extErr := os.Stat(filename + ".sqlite3")
	if extErr == nil {
		return filename + ".sqlite3", nil
	}

	return "", fmt.Errorf("opening database %s: %w", filename, err)
}

// NewReaderWithDB creates a DataReader over an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{DB: db}
}

type sqliteReader struct {
	*sql.DB
}

func (r *sqliteReader) Count(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (int, error) {
	query := "SELECT COUNT(*) FROM " + tableName + whereClause(params)

	var count int

	err := r.QueryRowContext(ctx, query, params.Args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", tableName, err)
	}

	return count, nil
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]map[string]any, error) {
	var sb strings.Builder

	sb.WriteString("SELECT * FROM " + tableName + whereClause(params))

	if params.OrderBy != "" {
		sb.WriteString(" ORDER BY " + params.OrderBy)
	}

	if params.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", params.Limit)
	}

	rows, err := r.QueryContext(ctx, sb.String(), params.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", tableName, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		err = rows.Scan(pointers...)
		if err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}

		results = append(results, row)
	}

	return results, rows.Err()
}

func whereClause(params QueryParams) string {
	if params.Where == "" {
		return ""
	}

	return " WHERE " + params.Where
}
