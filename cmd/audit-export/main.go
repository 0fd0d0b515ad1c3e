package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/cmd/common"
	"github.com/ducminhle1904/risk-orchestrator/internal/audit"
	"github.com/ducminhle1904/risk-orchestrator/internal/config"
	"github.com/ducminhle1904/risk-orchestrator/internal/report"
)

func main() {
	flags := common.RegisterCommonFlags()
	var (
		input      = flag.String("input", "", "Audit JSONL file (default: audit.jsonl_path from config)")
		output     = flag.String("output", "", "Excel workbook to write (default: results/decisions_<date>.xlsx)")
		fromPG     = flag.Bool("postgres", false, "Read decisions from Postgres (POSTGRES_DSN) instead of JSONL")
		symbol     = flag.String("symbol", "", "Only export this symbol")
		outcome    = flag.String("outcome", "", "Only export this outcome (approved, rejected, ...)")
		since      = flag.Duration("since", 0, "Only export decisions newer than this (e.g. 24h)")
		limit      = flag.Int("limit", 0, "Maximum number of decisions")
		topReasons = flag.Int("top", 10, "Rejection reasons to list in the summary")
		noExcel    = flag.Bool("summary-only", false, "Print the summary without writing a workbook")
	)
	flag.Parse()
	flags.HandleVersion("audit-export")

	filter := audit.Filter{
		Symbol:  strings.ToUpper(*symbol),
		Outcome: audit.Outcome(strings.ToLower(*outcome)),
		Limit:   *limit,
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}

	ctx := context.Background()
	records, source, err := load(ctx, *flags.ConfigFile, *flags.EnvFile, *input, *fromPG, filter)
	if err != nil {
		common.Fatal("%v", err)
	}
	fmt.Printf("📊 %d decisions from %s\n", len(records), source)
	report.AuditSummary(os.Stdout, records, *topReasons)

	if *noExcel {
		return
	}
	path := *output
	if path == "" {
		path = filepath.Join("results", fmt.Sprintf("decisions_%s.xlsx", time.Now().Format("20060102_150405")))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		common.Fatal("create output directory: %v", err)
	}
	if err := audit.ExportXLSX(records, path); err != nil {
		common.Fatal("export: %v", err)
	}
	fmt.Printf("✅ Workbook written to %s\n", path)
}

func load(ctx context.Context, configFile, envFile, input string, fromPG bool, filter audit.Filter) ([]audit.Record, string, error) {
	if fromPG {
		if err := config.LoadEnv(envFile); err != nil {
			return nil, "", err
		}
		dsn := os.Getenv(config.EnvPostgresDSN)
		if dsn == "" {
			return nil, "", fmt.Errorf("%s is not set", config.EnvPostgresDSN)
		}
		pg, err := audit.OpenPostgres(dsn)
		if err != nil {
			return nil, "", err
		}
		defer pg.Close()
		records, err := pg.Query(ctx, filter)
		return records, "postgres", err
	}

	if input == "" {
		cfg, err := config.Parse(configFile, envFile)
		if err != nil {
			return nil, "", err
		}
		input = cfg.Audit.JSONLPath
	}
	records, err := audit.ReadJSONL(ctx, input, filter)
	return records, input, err
}
