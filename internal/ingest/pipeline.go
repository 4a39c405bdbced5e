// Package ingest turns source files into deduplicated, embedded chunks in the
// vector index, and keeps the document registry in step with them.
package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/retirementsolutions/raymondo/config"
	"github.com/retirementsolutions/raymondo/internal/chunker"
	"github.com/retirementsolutions/raymondo/internal/llm"
	"github.com/retirementsolutions/raymondo/internal/pdfload"
	"github.com/retirementsolutions/raymondo/internal/store"
	"github.com/retirementsolutions/raymondo/internal/telemetry"
)

// Outcome classifies how the pipeline finished with one file.
type Outcome string

const (
	// OutcomeIngested means chunks were stored and the file registered.
	OutcomeIngested Outcome = "ingested"
	// OutcomeDuplicate means the file name was already registered; nothing
	// was re-embedded or re-stored.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeEmpty means no text could be extracted; the registry is left
	// untouched so a later re-upload can retry.
	OutcomeEmpty Outcome = "empty"
	// OutcomeFailed means the file errored; other files in the same batch
	// still get their turn.
	OutcomeFailed Outcome = "failed"
)

// Result reports the pipeline's outcome for one file.
type Result struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Chunks  int     `json:"chunks"`
	Author  string  `json:"author,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Report summarises a directory batch run.
type Report struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Pipeline orchestrates load, dedup check, chunking, embedding, storage and
// registration for source files.
type Pipeline struct {
	store    *store.Store
	provider llm.Provider
	splitter *chunker.Splitter
	cfg      config.IngestConfig
	logger   *log.Logger
	tele     *telemetry.Telemetry
	load     func(path string) (pdfload.Document, error)
}

// NewPipeline wires the pipeline with its shared dependencies.
func NewPipeline(st *store.Store, provider llm.Provider, cfg config.IngestConfig, logger *log.Logger, tele *telemetry.Telemetry) *Pipeline {
	return &Pipeline{
		store:    st,
		provider: provider,
		splitter: chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		logger:   logger,
		tele:     tele,
		load:     pdfload.Load,
	}
}

// IngestFile runs the full pipeline for the PDF at path. name is the
// canonical file name used as the dedup key and as every chunk's source
// metadata; it must be the original file name even when path points at a
// temporary upload location.
func (p *Pipeline) IngestFile(ctx context.Context, path, name string) (Result, error) {
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(path)
	}

	exists, err := p.store.DocumentExists(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("dedup check for %s: %w", name, err)
	}
	if exists {
		p.logger.Printf("skipping duplicate: %s", name)
		p.tele.ObserveDocument(telemetry.OutcomeSkipped)
		return Result{Name: name, Outcome: OutcomeDuplicate}, nil
	}

	doc, err := p.load(path)
	if err != nil {
		return Result{}, fmt.Errorf("load %s: %w", name, err)
	}

	pieces := p.splitter.Split(doc.Text)
	if len(pieces) == 0 {
		p.logger.Printf("no extractable text in %s, skipping", name)
		p.tele.ObserveDocument(telemetry.OutcomeEmpty)
		return Result{Name: name, Outcome: OutcomeEmpty, Author: doc.Author}, nil
	}

	// Every chunk carries the canonical file name, never the upload path:
	// cascading delete and chunk counts key off this exact value.
	chunks := make([]store.ChunkRecord, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.ChunkRecord{
			Content: piece,
			Metadata: map[string]interface{}{
				store.MetadataSourceKey: name,
			},
		}
	}

	stored, err := p.embedAndStore(ctx, chunks)
	if err != nil {
		return Result{}, err
	}
	if stored == 0 {
		p.tele.ObserveDocument(telemetry.OutcomeFailed)
		return Result{}, fmt.Errorf("no chunks could be stored for %s", name)
	}

	if _, err := p.store.RegisterDocument(ctx, name, doc.Author); err != nil {
		// Chunks are already stored; losing the registration race leaves
		// them orphaned until the sweep picks them up. Surface it.
		p.tele.ObserveDocument(telemetry.OutcomeFailed)
		return Result{}, fmt.Errorf("register %s after storing %d chunks: %w", name, stored, err)
	}

	p.logger.Printf("ingested %s: %d chunks, author %q", name, stored, doc.Author)
	p.tele.ObserveDocument(telemetry.OutcomeIngested)
	return Result{Name: name, Outcome: OutcomeIngested, Chunks: stored, Author: doc.Author}, nil
}

// embedAndStore embeds and stores chunks in batches, pausing BatchDelay
// between batches to stay inside embedding-provider rate limits. A failed
// batch is logged and skipped; later batches still run, so a document may end
// up partially ingested. Returns how many chunks were durably stored.
func (p *Pipeline) embedAndStore(ctx context.Context, chunks []store.ChunkRecord) (int, error) {
	stored := 0
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		batchNo := start/p.cfg.BatchSize + 1

		if start > 0 && p.cfg.BatchDelay > 0 {
			select {
			case <-time.After(p.cfg.BatchDelay):
			case <-ctx.Done():
				return stored, ctx.Err()
			}
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := p.provider.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return stored, ctx.Err()
			}
			p.logger.Printf("embedding batch %d failed (%d chunks): %v", batchNo, len(batch), err)
			p.tele.ObserveBatchFailure()
			continue
		}
		for i := range batch {
			batch[i].Vector = vecs[i]
		}
		if err := p.store.UpsertChunks(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return stored, ctx.Err()
			}
			p.logger.Printf("storing batch %d failed (%d chunks): %v", batchNo, len(batch), err)
			p.tele.ObserveBatchFailure()
			continue
		}
		stored += len(batch)
		p.tele.ObserveChunksStored(len(batch))
	}
	return stored, nil
}

// IngestDirectory ingests every PDF under dir, continuing past per-file
// failures, and reports totals at the end.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) (Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Report{}, fmt.Errorf("read documents dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var report Report
	for _, name := range names {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		res, err := p.IngestFile(ctx, filepath.Join(dir, name), name)
		if err != nil {
			p.logger.Printf("failed to ingest %s: %v", name, err)
			report.Failed++
			continue
		}
		switch res.Outcome {
		case OutcomeIngested:
			report.Processed++
		default:
			report.Skipped++
		}
	}
	p.logger.Printf("batch done: %d processed, %d skipped, %d failed", report.Processed, report.Skipped, report.Failed)
	return report, nil
}
