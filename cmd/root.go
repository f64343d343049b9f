package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/config"
	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/gkiler/visualization-for-preds/internal/logging"
	"github.com/gkiler/visualization-for-preds/internal/metrics"
	"github.com/gkiler/visualization-for-preds/internal/persist"
	"github.com/gkiler/visualization-for-preds/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	storePath   string
	metricsFile string

	cfg      *config.Config
	logger   *slog.Logger
	registry = prometheus.NewRegistry()
	stats    = metrics.New(registry)
)

var rootCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate graph documents and write corrections back to their source files",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(nil)
		loader.ExplicitPath = configPath
		c, err := loader.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if storePath != "" {
			c.Annotations.Path = storePath
		}
		cfg = c
		logger = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsFile == "" {
			return nil
		}
		return prometheus.WriteToTextfile(metricsFile, registry)
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to annotate.yaml (default: search cwd and parents)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Override the annotation database or sidecar directory")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
}

// OpenSession opens a source file with the configured backend, backups and limits
func OpenSession(path string) (*session.Session, error) {
	backend, err := session.NewBackend(cfg.Annotations)
	if err != nil {
		return nil, err
	}
	mgr := persist.NewManager(persist.NewDirStore(cfg.Backups.Dir),
		persist.WithLogger(logger),
		persist.WithMetrics(stats))

	s, err := session.Open(path, session.Options{
		Manager: mgr,
		Backend: backend,
		Limits:  graph.Limits{MaxNodes: cfg.Limits.MaxNodes, MaxEdges: cfg.Limits.MaxEdges},
		Logger:  logger,
		Metrics: stats,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// ResolveRecord finds a record by full id or by an unambiguous id prefix (at least 6 chars)
func ResolveRecord(store *annotation.Store, reference string) (annotation.Record, error) {
	if rec, ok := store.Get(reference); ok {
		return rec, nil
	}
	if len(reference) < 6 || !isHexDash(reference) {
		return annotation.Record{}, fmt.Errorf("record not found: %s", reference)
	}

	var matches []annotation.Record
	for _, rec := range store.Records() {
		if strings.HasPrefix(rec.ID, reference) {
			matches = append(matches, rec)
		}
	}
	switch len(matches) {
	case 0:
		return annotation.Record{}, fmt.Errorf("record not found: %s", reference)
	case 1:
		return matches[0], nil
	}
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = fmt.Sprintf("  %s %s.%s (%s)", truncID(m.ID), m.EntityID, m.Attribute, m.Status)
	}
	return annotation.Record{}, fmt.Errorf("ambiguous reference '%s'. %d matches:\n%s\nUse a full record ID instead.",
		reference, len(matches), strings.Join(lines, "\n"))
}

func isHexDash(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '-') {
			return false
		}
	}
	return true
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncValue(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatOptional(v *graph.Value) string {
	if v == nil {
		return "<absent>"
	}
	return truncValue(v.String(), 40)
}
