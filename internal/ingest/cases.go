package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/retirementsolutions/raymondo/internal/store"
)

// IngestCases reads every row of the case table in caseDB, renders each row
// as a one-line summary and stores it as an embedded chunk whose source
// metadata is the table name. Existing chunks for that source are replaced
// first so the job can be re-run as the table grows.
func (p *Pipeline) IngestCases(ctx context.Context, caseDB *sql.DB, table string) (int, error) {
	rows, err := caseDB.QueryContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(table))
	if err != nil {
		return 0, fmt.Errorf("read case table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("case table columns: %w", err)
	}

	var chunks []store.ChunkRecord
	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return 0, fmt.Errorf("scan case row: %w", err)
		}
		summary := renderCaseSummary(cols, values)
		if summary == "" {
			continue
		}
		metadata := map[string]interface{}{
			store.MetadataSourceKey: table,
		}
		for i, col := range cols {
			switch strings.ToLower(col) {
			case "client", "adviser", "product":
				if values[i].Valid && strings.TrimSpace(values[i].String) != "" {
					metadata[strings.ToLower(col)] = values[i].String
				}
			}
		}
		chunks = append(chunks, store.ChunkRecord{
			Content:  summary,
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate case table: %w", err)
	}
	if len(chunks) == 0 {
		p.logger.Printf("case table %s holds no usable rows", table)
		return 0, nil
	}

	if _, err := p.store.DeleteChunksBySource(ctx, table); err != nil {
		return 0, fmt.Errorf("clear previous case chunks: %w", err)
	}
	stored, err := p.embedAndStore(ctx, chunks)
	if err != nil {
		return stored, err
	}
	p.logger.Printf("embedded %d of %d case summaries from %s", stored, len(chunks), table)
	return stored, nil
}

// renderCaseSummary flattens one row into "column: value" pairs in column
// order, skipping NULLs and blanks.
func renderCaseSummary(cols []string, values []sql.NullString) string {
	parts := make([]string, 0, len(cols))
	for i, col := range cols {
		if !values[i].Valid {
			continue
		}
		v := strings.TrimSpace(values[i].String)
		if v == "" {
			continue
		}
		parts = append(parts, col+": "+v)
	}
	return strings.Join(parts, "; ")
}
