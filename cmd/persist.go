package cmd

import (
	"errors"
	"fmt"

	"github.com/gkiler/visualization-for-preds/internal/persist"
	"github.com/gkiler/visualization-for-preds/internal/session"
	"github.com/spf13/cobra"
)

var (
	persistJSON bool
	backupsJSON bool
)

var persistCmd = &cobra.Command{
	Use:   "persist <source>",
	Short: "Write committed annotations into the source file (a backup is taken first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *session.Session) error {
			res, err := s.Persist()
			if err != nil {
				var perr *persist.Error
				if errors.As(err, &perr) && perr.RolledBack {
					return fmt.Errorf("%w\nsource restored from backup %s", err, perr.BackupID)
				}
				if errors.Is(err, persist.ErrStaleSource) {
					return fmt.Errorf("%w\nrun `annotate conflicts %s` to reload and check before persisting again", err, args[0])
				}
				return err
			}
			if persistJSON {
				return printJSON(res)
			}
			fmt.Printf("Persisted %d entities to %s (backup %s)\n", res.UpdatedEntityCount, s.Path(), res.BackupID)
			if len(res.Missing) > 0 {
				fmt.Printf("  %d annotated entities no longer exist in the source and were skipped\n", len(res.Missing))
			}
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <source> <backup-id>",
	Short: "Restore the source file from a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *session.Session) error {
			report, err := s.Rollback(args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s from backup %s\n", s.Path(), args[1])
			if n := len(report.Conflicts); n > 0 {
				fmt.Printf("  %d annotations now conflict with the restored source\n", n)
			}
			return nil
		})
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups <source>",
	Short: "List backups of a source file, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := persist.NewDirStore(cfg.Backups.Dir)
		mgr := persist.NewManager(store, persist.WithLogger(logger))
		list, err := mgr.Backups(args[0])
		if err != nil {
			return err
		}
		if backupsJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Printf("No backups in %s.\n", store.Root())
			return nil
		}
		fmt.Printf("%d backups in %s:\n", len(list), store.Root())
		for _, b := range list {
			fmt.Printf("  %s  %s  %8d bytes  sha256 %s\n",
				b.ID, b.CreatedAt.Local().Format("2006-01-02 15:04:05"), b.Size, truncValue(b.SHA256, 12))
		}
		return nil
	},
}

func init() {
	persistCmd.Flags().BoolVar(&persistJSON, "json", false, "Output as JSON")
	backupsCmd.Flags().BoolVar(&backupsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(persistCmd, rollbackCmd, backupsCmd)
}
