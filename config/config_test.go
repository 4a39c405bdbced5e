package config

import (
	"strings"
	"testing"
	"time"
)

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", User: "ray", Password: "secret", DBName: "raymondo"}
	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "postgres://ray:secret@db:5432/raymondo") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	if !strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("expected default sslmode, got %s", dsn)
	}

	cfg.URL = "postgres://other"
	if cfg.DSN() != "postgres://other" {
		t.Fatal("explicit URL must win")
	}
}

func TestIngestDefaults(t *testing.T) {
	cfg := IngestConfig{ChunkOverlap: -1, BatchDelay: -time.Second}.Normalize()
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 100 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg)
	}
	if cfg.BatchSize != 100 || cfg.BatchDelay != 0 {
		t.Fatalf("unexpected batching defaults: %+v", cfg)
	}
}

func TestIngestValidate(t *testing.T) {
	cfg := IngestConfig{ChunkSize: 100, ChunkOverlap: 100}
	if err := cfg.Validate(); err == nil {
		t.Fatal("overlap >= chunk size must be rejected")
	}
	cfg.ChunkOverlap = 20
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRetrievalDefaults(t *testing.T) {
	cfg := RetrievalConfig{}.Normalize()
	if cfg.TopK != 4 || cfg.MaxToolIterations != 15 || cfg.SessionTTL != time.Hour {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg)
	}
}

func TestCaseDBDefaults(t *testing.T) {
	cfg := CaseDBConfig{}.Normalize()
	if cfg.Table != "completions" || cfg.RowLimit != 200 {
		t.Fatalf("unexpected case db defaults: %+v", cfg)
	}
	if cfg.Postgres.Configured() {
		t.Fatal("empty case db must not count as configured")
	}
}
