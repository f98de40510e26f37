package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultRowLimit caps result rows when the caller does not specify one.
const DefaultRowLimit = 100

// QueryResult is the outcome of executing one statement. Row-producing
// statements populate Columns/Rows; mutations get an acknowledgement.
type QueryResult struct {
	Type            string   `json:"type"`
	Columns         []string `json:"columns,omitempty"`
	Rows            [][]any  `json:"rows,omitempty"`
	RowCount        int      `json:"rowCount"`
	HasMore         bool     `json:"hasMore,omitempty"`
	RowsAffected    int64    `json:"rowsAffected,omitempty"`
	Message         string   `json:"message,omitempty"`
	ExecutionTimeMs float64  `json:"executionTimeMs"`
}

const (
	resultTypeRows = "rows"
	resultTypeAck  = "ack"
)

// rowProducing holds the leading keywords that mark a statement as one
// returning a result set. Everything else goes through Exec.
var rowProducing = map[string]bool{
	"select":   true,
	"with":     true,
	"values":   true,
	"show":     true,
	"explain":  true,
	"pragma":   true,
	"describe": true,
}

// IsRowProducing classifies a statement lexically by its first keyword,
// after skipping whitespace, SQL comments and opening parentheses. The
// statement is never parsed or validated here; the engine has the final
// word and its errors are surfaced as-is.
func IsRowProducing(query string) bool {
	return rowProducing[leadingKeyword(query)]
}

func leadingKeyword(query string) string {
	s := query
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
		case strings.HasPrefix(s, "("):
			s = s[1:]
		default:
			end := 0
			for end < len(s) && (unicode.IsLetter(rune(s[end])) || s[end] == '_') {
				end++
			}
			return strings.ToLower(s[:end])
		}
	}
}

// Execute runs a single statement against the described database.
// Row-producing statements read at most limit+1 rows so HasMore can be
// reported without a second query. A limit of zero returns column
// metadata and no rows.
func Execute(ctx context.Context, d Descriptor, query string, limit int) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrExecution)
	}
	if limit < 0 {
		limit = DefaultRowLimit
	}

	db, _, err := open(d)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	start := time.Now()
	if !IsRowProducing(query) {
		return executeMutation(ctx, db, query, start)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	out := make([][]any, 0, limit)
	fetched := 0
	for fetched <= limit && rows.Next() {
		fetched++
		if fetched > limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	return &QueryResult{
		Type:            resultTypeRows,
		Columns:         cols,
		Rows:            out,
		RowCount:        len(out),
		HasMore:         fetched > limit,
		ExecutionTimeMs: elapsedMs(start),
	}, nil
}

func executeMutation(ctx context.Context, db *sql.DB, query string, start time.Time) (*QueryResult, error) {
	res, err := db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	affected, _ := res.RowsAffected()
	return &QueryResult{
		Type:            resultTypeAck,
		RowsAffected:    affected,
		Message:         fmt.Sprintf("statement executed, %d row(s) affected", affected),
		ExecutionTimeMs: elapsedMs(start),
	}, nil
}

// normalizeValue maps driver values to JSON-friendly representations.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

func elapsedMs(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	return math.Round(ms*100) / 100
}
