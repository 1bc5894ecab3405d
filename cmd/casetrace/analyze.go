package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/analysis"
	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/chunked"
	"github.com/casetrace/casetrace/internal/config"
	"github.com/casetrace/casetrace/internal/extract"
	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/home"
	"github.com/casetrace/casetrace/internal/store"
)

var (
	resumeJobID   string
	exportResults bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <case-id>",
	Short: "Run a case analysis to completion",
	Long: `Analyze a case's documents locally, without a server.

The analysis runs as a sequence of bounded steps against the local job
database. Interrupting the run (Ctrl+C) loses at most the step in
flight; rerun with --resume to pick up where it left off.

Examples:
  casetrace analyze case-1994-017
  casetrace analyze case-1994-017 --resume 3f2a...
  casetrace analyze case-1994-017 --export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		st, err := store.OpenSQLite(h.DatabasePath())
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer st.Close()

		analyzer, err := buildAnalyzer(cfg, logger)
		if err != nil {
			return err
		}

		engine := chunked.NewEngine(st, extract.NewFileGateway(), analyzer, chunked.Config{
			AnalyzeBatchSize: cfg.Engine.AnalyzeBatchSize,
			ExtractBatchSize: cfg.Engine.ExtractBatchSize,
			ExtractFanOut:    cfg.Engine.ExtractFanOut,
		}, logger)

		jobID := resumeJobID
		if jobID == "" {
			job, err := engine.Init(ctx, caseID)
			if err != nil {
				return err
			}
			jobID = job.ID
			fmt.Printf("Started analysis job %s\n", jobID)
		}

		report, err := driveAnalysis(ctx, engine, jobID)
		if err != nil {
			return err
		}
		if exportResults && report != nil {
			path, err := exportFindings(h, caseID, report)
			if err != nil {
				return err
			}
			fmt.Printf("Report written to %s\n", path)
		}
		return nil
	},
}

// driveAnalysis loops over Continue until the job reaches a terminal
// phase, printing progress as it goes. It returns the final analysis
// when the job completes with one.
func driveAnalysis(ctx context.Context, engine *chunked.Engine, jobID string) (*findings.CaseAnalysis, error) {
	for {
		res, err := engine.Continue(ctx, jobID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "\nInterrupted. Resume with:\n  casetrace analyze <case-id> --resume %s\n", jobID)
			}
			return nil, err
		}

		fmt.Printf("[%3d%%] %s: %s\n", res.Progress.Percentage, res.Phase, res.Message)
		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "  warning: %s\n", w)
		}

		if !res.Done {
			continue
		}

		if res.Findings != nil {
			fmt.Println()
			if err := api.Output(res.Findings); err != nil {
				return nil, err
			}
		}
		return res.Findings, nil
	}
}

// exportFindings writes the final analysis to a timestamped file under
// the home exports directory, in the configured output format.
func exportFindings(h *home.Dir, caseID string, report *findings.CaseAnalysis) (string, error) {
	if err := os.MkdirAll(h.ExportsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create exports directory: %w", err)
	}

	format := api.GetOutputFormat()
	ext := "yaml"
	switch format {
	case api.OutputFormatJSON:
		ext = "json"
	case api.OutputFormatText:
		format = api.OutputFormatYAML
	}

	name := fmt.Sprintf("%s-%s.%s", caseID, time.Now().Format("20060102-150405"), ext)
	path := filepath.Join(h.ExportsDir(), name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	if err := api.OutputTo(f, format, report); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// buildAnalyzer creates the model gateway from config. Without an API
// key the analysis falls back to extraction plus local consolidation.
func buildAnalyzer(cfg *config.Config, logger *slog.Logger) (analysis.Gateway, error) {
	ac := cfg.ResolvedAnalysis()
	if ac.APIKey == "" {
		fmt.Fprintln(os.Stderr, "warning: no analysis API key configured, documents will be extracted but not analyzed")
		return nil, nil
	}

	gw, err := analysis.NewOpenAIGateway(analysis.Options{
		Model:          ac.Model,
		APIKey:         ac.APIKey,
		BaseURL:        ac.BaseURL,
		RequestTimeout: ac.RequestTimeout,
		MaxRetries:     ac.MaxRetries,
		RetryDelay:     ac.RetryDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create analysis gateway: %w", err)
	}
	return gw, nil
}

func init() {
	analyzeCmd.Flags().StringVar(&resumeJobID, "resume", "", "Resume an existing analysis job by ID")
	analyzeCmd.Flags().BoolVar(&exportResults, "export", false, "Write the final report under the home exports directory")

	rootCmd.AddCommand(analyzeCmd)
}
