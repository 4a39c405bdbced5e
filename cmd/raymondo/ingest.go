package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/retirementsolutions/raymondo/config"
	"github.com/retirementsolutions/raymondo/internal/ingest"
	"github.com/retirementsolutions/raymondo/internal/llm"
	"github.com/retirementsolutions/raymondo/internal/store"
	"github.com/retirementsolutions/raymondo/internal/telemetry"
)

func buildPipeline(ctx context.Context, cfg *config.Config) (*ingest.Pipeline, error) {
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, err
	}
	provider := llm.NewOpenAIClient(cfg.LLM)
	logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	return ingest.NewPipeline(st, provider, cfg.Ingest, logger, telemetry.New()), nil
}

func ingestCMD() *cobra.Command {
	var cfgPath string
	var dir string
	var cases bool

	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Ingest PDFs from a directory, or case records with --cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()
			pipeline, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}

			if cases {
				if !cfg.CaseDB.Postgres.Configured() {
					return fmt.Errorf("case database not configured (casedb.postgres)")
				}
				caseDB, err := sql.Open("postgres", cfg.CaseDB.Postgres.DSN())
				if err != nil {
					return err
				}
				defer caseDB.Close()
				stored, err := pipeline.IngestCases(ctx, caseDB, cfg.CaseDB.Table)
				if err != nil {
					return err
				}
				fmt.Printf("embedded %d case summaries\n", stored)
				return nil
			}

			if dir == "" {
				dir = cfg.Ingest.DocumentsDir
			}
			if dir == "" {
				return fmt.Errorf("no directory given (--dir or ingest.documents_dir)")
			}
			report, err := pipeline.IngestDirectory(ctx, dir)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d, skipped %d, failed %d\n", report.Processed, report.Skipped, report.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of PDFs to ingest")
	cmd.Flags().BoolVar(&cases, "cases", false, "embed case records from the case database instead")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

func sweepCMD() *cobra.Command {
	var cfgPath string

	var cmd = &cobra.Command{
		Use:   "sweep",
		Short: "Delete chunks whose source document is no longer registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			pipeline, err := buildPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			removed, err := pipeline.SweepOrphans(cmd.Context(), cfg.CaseDB.Table)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d orphan chunks\n", removed)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
