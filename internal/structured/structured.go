// Package structured answers natural-language questions against exactly one
// allow-listed case-records table. The language model drafts a read-only SQL
// statement which is statically checked before execution: anything that is
// not a single SELECT over the allowed table is refused.
package structured

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/retirementsolutions/raymondo/config"
	"github.com/retirementsolutions/raymondo/internal/llm"
)

// Tool translates questions into validated read queries over one table.
type Tool struct {
	db       *sql.DB
	provider llm.Provider
	table    string
	rowLimit int
	columns  []string
	logger   *log.Logger
}

// New builds the structured query tool. When the case database is not fully
// configured it returns (nil, nil): absence of the tool is a first-class
// state the router surfaces as an unavailable knowledge source, not an error.
func New(ctx context.Context, cfg config.CaseDBConfig, provider llm.Provider, logger *log.Logger) (*Tool, error) {
	if !cfg.Postgres.Configured() {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("open case database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping case database: %w", err)
	}
	t := &Tool{
		db:       db,
		provider: provider,
		table:    cfg.Table,
		rowLimit: cfg.RowLimit,
		logger:   logger,
	}
	if err := t.loadColumns(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Table returns the single table this tool may read.
func (t *Tool) Table() string { return t.table }

// Close releases the case database pool.
func (t *Tool) Close() error { return t.db.Close() }

func (t *Tool) loadColumns(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, `
SELECT column_name FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position
`, t.table)
	if err != nil {
		return fmt.Errorf("describe table %s: %w", t.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		t.columns = append(t.columns, col)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(t.columns) == 0 {
		return fmt.Errorf("table %s has no columns (missing or not readable)", t.table)
	}
	return nil
}

// Query answers a question by generating, validating and executing one SQL
// statement. Generation or execution failures come back as an error the
// answering loop reports as text for the turn; they never crash a session.
func (t *Tool) Query(ctx context.Context, question string) (string, error) {
	sqlText, err := t.generateSQL(ctx, question)
	if err != nil {
		return "", err
	}
	if err := ValidateQuery(sqlText, t.table); err != nil {
		t.logger.Printf("rejected generated query %q: %v", sqlText, err)
		return "", fmt.Errorf("generated query was not allowed: %w", err)
	}
	sqlText = enforceLimit(sqlText, t.rowLimit)

	rows, err := t.db.QueryContext(ctx, sqlText)
	if err != nil {
		return "", fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	out, err := renderRows(rows)
	if err != nil {
		return "", err
	}
	t.logger.Printf("case query returned %d bytes for %q", len(out), question)
	return out, nil
}

func (t *Tool) generateSQL(ctx context.Context, question string) (string, error) {
	system := fmt.Sprintf(`You translate questions into PostgreSQL queries.

RULES:
1. You may only read the %q table. Its columns are: %s.
2. Respond with exactly one SELECT statement and nothing else. No commentary, no markdown fences.
3. Never modify data.`, t.table, strings.Join(quoteAll(t.columns), ", "))

	completion, err := t.provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: question},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("generate query: %w", err)
	}
	return stripFences(completion.Content), nil
}

// ValidateQuery checks that sqlText is a single read-only SELECT referencing
// only the allowed table.
func ValidateQuery(sqlText, table string) error {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	for _, kw := range []string{
		"insert", "update", "delete", "drop", "alter", "create",
		"truncate", "grant", "revoke", "copy", "into",
	} {
		if containsWord(lower, kw) {
			return fmt.Errorf("keyword %q is not allowed", kw)
		}
	}
	for _, ref := range tableRefs(lower) {
		if ref != strings.ToLower(table) {
			return fmt.Errorf("table %q is not allow-listed", ref)
		}
	}
	return nil
}

// tableRefs extracts the base relations named after FROM and JOIN, walking
// comma-separated lists so every relation in a FROM clause is checked, not
// just the first.
func tableRefs(lower string) []string {
	fields := strings.Fields(strings.ReplaceAll(lower, ",", " , "))
	var refs []string
	for i, f := range fields {
		if f != "from" && f != "join" {
			continue
		}
		j := i + 1
		for j < len(fields) {
			ref := fields[j]
			// Subquery relations validate their own inner FROM when the
			// scan reaches it.
			if ref != "(" && !strings.HasPrefix(ref, "(select") {
				ref = strings.Trim(ref, `"()`)
				if idx := strings.LastIndex(ref, "."); idx >= 0 {
					ref = ref[idx+1:]
				}
				if ref != "" {
					refs = append(refs, ref)
				}
			}
			// Skip alias tokens until a comma continues the list or a
			// clause keyword ends it.
			j++
			for j < len(fields) && fields[j] != "," && !endsRelationList(fields[j]) {
				j++
			}
			if j >= len(fields) || fields[j] != "," {
				break
			}
			j++
		}
	}
	return refs
}

func endsRelationList(tok string) bool {
	switch tok {
	case "where", "group", "order", "having", "limit", "offset",
		"join", "inner", "left", "right", "full", "cross", "natural",
		"on", "using", "union", "intersect", "except", "window", "for":
		return true
	}
	return false
}

func containsWord(lower, word string) bool {
	idx := 0
	for {
		pos := strings.Index(lower[idx:], word)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isWordChar(lower[pos-1])
		afterIdx := pos + len(word)
		after := afterIdx >= len(lower) || !isWordChar(lower[afterIdx])
		if before && after {
			return true
		}
		idx = pos + len(word)
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func enforceLimit(sqlText string, rowLimit int) string {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if containsWord(strings.ToLower(trimmed), "limit") {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, rowLimit)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%q", c)
	}
	return out
}

// renderRows serialises a result set as a JSON array of objects, one per row.
func renderRows(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(result) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
