package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
	"github.com/sells-group/catalog-ingest/internal/runlog"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"ingest", "worker", "migrate", "families", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "catalog-ingest", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"run-id", "family", "brand", "code", "series", "display-name", "bundle", "dry-run", "enqueue"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s", name)
	}
	assert.Equal(t, "false", ingestCmd.Flags().Lookup("dry-run").DefValue)
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func newIngestFlags(t *testing.T, flags map[string]string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	addIngestFlags(cmd)
	for k, v := range flags {
		require.NoError(t, cmd.Flags().Set(k, v))
	}
	return cmd
}

func TestRequestFromFlags(t *testing.T) {
	cmd := newIngestFlags(t, map[string]string{
		"run-id": "run-1",
		"family": "relay",
		"brand":  "Omron",
		"series": "G5V",
	})
	req, err := requestFromFlags(cmd, []string{"s3://sheets/g5v.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "s3://sheets/g5v.pdf", req.DocumentRef)
	assert.Equal(t, "run-1", req.RunID)
	assert.Equal(t, model.Hints{Family: "relay", Brand: "Omron", Series: "G5V"}, req.Hints)
	assert.Nil(t, req.Bundle)
}

func TestRequestFromFlags_Bundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"X1-24","tables":[{"header":["Part No"],"rows":[["X1-24"]]}]}`), 0o644))

	req, err := requestFromFlags(newIngestFlags(t, map[string]string{"bundle": path}), nil)
	require.NoError(t, err)
	require.NotNil(t, req.Bundle)
	assert.Equal(t, "X1-24", req.Bundle.Text)
	require.Len(t, req.Bundle.Tables, 1)
}

func TestRequestFromFlags_Errors(t *testing.T) {
	_, err := requestFromFlags(newIngestFlags(t, nil), nil)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = requestFromFlags(newIngestFlags(t, map[string]string{"bundle": bad}), nil)
	assert.Error(t, err)

	_, err = requestFromFlags(newIngestFlags(t, map[string]string{"bundle": "/nonexistent/bundle.json"}), nil)
	assert.Error(t, err)
}

func dryRunConfig(root string) *config.Config {
	return &config.Config{
		ObjectStore: config.ObjectStoreConfig{Driver: "fs", Root: root, TimeoutSecs: 5},
		DocParse:    config.DocParseConfig{PdfToTextPath: "pdftotext", MaxPages: 10, TimeoutSecs: 10},
		Ingest: config.IngestConfig{
			DefaultFamily: "component",
			MinAttributes: 2,
			RunBudgetSecs: 30,
			LockWaitSecs:  1,
		},
	}
}

func TestRunIngest_DryRun(t *testing.T) {
	root := t.TempDir()
	doc := "Acme X1 series switch\n\n| Part No | Voltage | Current |\n|---|---|---|\n| X1-24 | 24 | 10 mA |\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "x1.md"), []byte(doc), 0o644))

	prev := cfg
	cfg = dryRunConfig(root)
	defer func() { cfg = prev }()

	res, err := runIngest(context.Background(), pipeline.Request{
		DocumentRef: "x1.md",
		Hints:       model.Hints{Family: "switch", Brand: "Acme"},
	}, true)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"X1-24"}, res.Identifiers)

	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, res))
	assert.Contains(t, buf.String(), `"written": 1`)
}

func TestInitObjects_UnsupportedDriver(t *testing.T) {
	_, err := initObjects(context.Background(), config.ObjectStoreConfig{Driver: "ftp"})
	assert.Error(t, err)
}

func TestInitOracle_DisabledWithoutKey(t *testing.T) {
	assert.Nil(t, initOracle(&config.Config{}, metrics.New()))
}

func TestInitOracle_Claude(t *testing.T) {
	c := &config.Config{Anthropic: config.AnthropicConfig{Key: "sk-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 512}}
	assert.NotNil(t, initOracle(c, metrics.New()))
}

func TestDescribeFamilies(t *testing.T) {
	ctx := context.Background()
	st := catalog.NewMemory()
	relay := model.Family{
		Slug:        "relay",
		Table:       "catalog_relay",
		VariantKeys: []string{"contact_form"},
		Attributes:  map[string]model.AttrType{"contact_form": model.AttrText, "coil_voltage": model.AttrNumeric},
	}
	require.NoError(t, st.EnsureFamily(ctx, &relay))
	require.NoError(t, st.AddColumn(ctx, "catalog_relay", "sealed", model.AttrBoolean))

	connector := model.Family{Slug: "connector", Table: "catalog_connector", Template: "{series}-{pitch}"}
	rows, err := describeFamilies(ctx, st, []model.Family{relay, connector})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "connector", rows[0].Slug)
	assert.False(t, rows[0].Registered)
	assert.Equal(t, "{series}-{pitch}", rows[0].Template)

	assert.Equal(t, "relay", rows[1].Slug)
	assert.True(t, rows[1].Registered)
	assert.Len(t, rows[1].Columns, 3)
	assert.Equal(t, []string{"contact_form"}, rows[1].VariantKeys)

	var buf bytes.Buffer
	formatFamilies(&buf, rows, true)
	out := buf.String()
	assert.Contains(t, out, "catalog_relay")
	assert.Contains(t, out, "sealed")
	assert.Contains(t, out, "boolean")
}

func TestFormatEntries(t *testing.T) {
	var buf bytes.Buffer
	formatEntries(&buf, []runlog.Entry{{
		RunID:     "0f8fad5b-d9cb-469f-a165-70867728950e",
		Status:    "partial",
		Family:    "relay",
		Processed: 4,
		Written:   3,
		Skipped:   1,
		Error:     "schema not ready: permission denied for relation catalog_relay while adding column",
	}})
	out := buf.String()
	assert.Contains(t, out, "0f8fad5b")
	assert.NotContains(t, out, "0f8fad5b-d9cb")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "...")
}

func TestMetricsMux(t *testing.T) {
	m := metrics.New()
	m.ObserveRun(&model.IngestResult{Status: model.RunDone, Family: "relay", Written: 2}, 0)
	srv := httptest.NewServer(metricsMux(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "catalog_ingest_runs_total")
}
