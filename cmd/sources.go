package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/session"
	"github.com/spf13/cobra"
)

var (
	sourcesJSON   bool
	sourcesForget string
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List source files with a stored annotation log (sqlite backend)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := session.NewBackend(cfg.Annotations)
		if err != nil {
			return err
		}
		defer backend.Close()
		sqlite, ok := backend.(*session.SQLiteBackend)
		if !ok {
			return fmt.Errorf("sources needs the sqlite backend (configured: %s)", cfg.Annotations.Backend)
		}

		if sourcesForget != "" {
			abs, err := filepath.Abs(sourcesForget)
			if err != nil {
				return err
			}
			if err := sqlite.Forget(abs); err != nil {
				return err
			}
			fmt.Printf("Forgot annotations for %s\n", abs)
			return nil
		}

		list, err := sqlite.Sources()
		if err != nil {
			return err
		}
		if sourcesJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No stored annotation logs.")
			return nil
		}
		for _, src := range list {
			fmt.Printf("  %5d records  saved %s  %s\n",
				src.Records, time.UnixMilli(src.SavedAt).Local().Format("2006-01-02 15:04:05"), src.Path)
		}
		return nil
	},
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesJSON, "json", false, "Output as JSON")
	sourcesCmd.Flags().StringVar(&sourcesForget, "forget", "", "Delete the stored log for this source file")
	rootCmd.AddCommand(sourcesCmd)
}
