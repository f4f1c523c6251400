package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
	"github.com/sells-group/catalog-ingest/internal/worker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <document-ref>",
	Short: "Ingest one datasheet",
	Long:  "Runs the ingestion pipeline for one document inline, or enqueues it on the Temporal task queue with --enqueue.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}

		enqueue, _ := cmd.Flags().GetBool("enqueue")
		if enqueue {
			return enqueueRequest(ctx, req)
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if !dryRun {
			if err := cfg.Validate("ingest"); err != nil {
				return err
			}
		}

		res, err := runIngest(ctx, req, dryRun)
		if res != nil {
			if encErr := writeResult(os.Stdout, res); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

// requestFromFlags builds an ingestion request from args and flags. Either
// a document ref or --bundle is required.
func requestFromFlags(cmd *cobra.Command, args []string) (pipeline.Request, error) {
	var req pipeline.Request
	if len(args) == 1 {
		req.DocumentRef = args[0]
	}
	req.RunID, _ = cmd.Flags().GetString("run-id")
	req.Hints.Family, _ = cmd.Flags().GetString("family")
	req.Hints.Brand, _ = cmd.Flags().GetString("brand")
	req.Hints.Code, _ = cmd.Flags().GetString("code")
	req.Hints.Series, _ = cmd.Flags().GetString("series")
	req.Hints.DisplayName, _ = cmd.Flags().GetString("display-name")

	bundlePath, _ := cmd.Flags().GetString("bundle")
	if bundlePath != "" {
		b, err := readBundle(bundlePath)
		if err != nil {
			return req, err
		}
		req.Bundle = b
	}
	if req.DocumentRef == "" && req.Bundle == nil {
		return req, eris.New("ingest: a document ref or --bundle is required")
	}
	return req, nil
}

func readBundle(path string) (*model.ExtractionBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read bundle %s", path)
	}
	var b model.ExtractionBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse bundle %s", path)
	}
	return &b, nil
}

func runIngest(ctx context.Context, req pipeline.Request, dryRun bool) (*model.IngestResult, error) {
	env, err := initEnv(ctx, cfg, dryRun)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	return env.Ingestor.Ingest(ctx, req)
}

func enqueueRequest(ctx context.Context, req pipeline.Request) error {
	if err := cfg.Validate("enqueue"); err != nil {
		return err
	}
	c, err := client.DialContext(ctx, client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    worker.NewLogger(zap.L()),
	})
	if err != nil {
		return eris.Wrap(err, "ingest: dial temporal")
	}
	defer c.Close()

	runID, err := worker.Enqueue(ctx, c, workerConfig(), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, runID)
	return nil
}

func writeResult(w io.Writer, res *model.IngestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func addIngestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("run-id", "", "run ID (generated when empty); replaying a run ID is idempotent")
	f.String("family", "", "family hint")
	f.String("brand", "", "brand hint")
	f.String("code", "", "identifier hint")
	f.String("series", "", "series hint")
	f.String("display-name", "", "display name hint")
	f.String("bundle", "", "path to a JSON extraction bundle used instead of fetching the document")
	f.Bool("dry-run", false, "run against an in-memory catalog; nothing is written")
	f.Bool("enqueue", false, "submit to the Temporal task queue instead of running inline")
}

func init() {
	addIngestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}
