package sqlgen

import (
	"context"
	"log/slog"
)

// execute runs a validated query and collects rows as ordered column to value
// mappings. Execution errors are reported in the Result, never propagated.
func (b *Backend) execute(ctx context.Context, query string) Result {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		slog.Warn("SQL execution failed", "error", err)
		return Result{SQL: query, Success: false, Err: err.Error()}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{SQL: query, Success: false, Err: err.Error()}
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{SQL: query, Success: false, Err: err.Error()}
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{SQL: query, Success: false, Err: err.Error()}
	}

	slog.Info("SQL executed", "rows", len(out))
	return Result{
		SQL:      query,
		Rows:     out,
		Columns:  columns,
		RowCount: len(out),
		Success:  true,
	}
}

// normalizeValue converts driver-specific byte slices to strings so rows
// serialize cleanly.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
