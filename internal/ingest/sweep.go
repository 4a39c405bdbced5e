package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// SweepOrphans deletes chunks whose source no longer appears in the document
// registry. It spares caseTable, whose chunks are registry-less on purpose.
// Returns how many chunks were removed.
func (p *Pipeline) SweepOrphans(ctx context.Context, caseTable string) (int64, error) {
	sources, err := p.store.OrphanChunkSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orphan sources: %w", err)
	}
	var removed int64
	for _, src := range sources {
		if src == caseTable {
			continue
		}
		n, err := p.store.DeleteChunksBySource(ctx, src)
		if err != nil {
			return removed, fmt.Errorf("delete orphan chunks for %q: %w", src, err)
		}
		p.logger.Printf("swept %d orphan chunks for %q", n, src)
		removed += n
	}
	return removed, nil
}

// RunSweepSchedule runs SweepOrphans on the given cron schedule until ctx is
// cancelled. Sweep errors are logged, never fatal.
func (p *Pipeline) RunSweepSchedule(ctx context.Context, spec, caseTable string) error {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			return fmt.Errorf("sweep schedule %q yields no future run", spec)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
		if n, err := p.SweepOrphans(ctx, caseTable); err != nil {
			p.logger.Printf("orphan sweep failed: %v", err)
		} else if n > 0 {
			p.logger.Printf("orphan sweep removed %d chunks", n)
		}
	}
}
