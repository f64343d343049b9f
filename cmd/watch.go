package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gkiler/visualization-for-preds/internal/persist"
	"github.com/gkiler/visualization-for-preds/internal/session"
	"github.com/gkiler/visualization-for-preds/internal/watch"
	"github.com/spf13/cobra"
)

var watchPersist bool

var watchCmd = &cobra.Command{
	Use:   "watch <source>",
	Short: "Re-check annotations for conflicts whenever the source file changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := OpenSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		w, err := watch.New(watch.Config{
			Path:          s.Path(),
			Fingerprint:   s.Document().Fingerprint(),
			DebounceDelay: cfg.Watch.Debounce,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		fmt.Printf("Watching %s (Ctrl-C to stop)\n", s.Path())

		for ev := range w.Events() {
			switch {
			case ev.Err != nil:
				logger.Error("Reading changed source failed", "path", ev.Path, "error", ev.Err)
			case ev.Operation == watch.OpDelete:
				logger.Warn("Source removed; keeping the last loaded document", "path", ev.Path)
			default:
				report, err := s.ReloadBytes(ev.Raw)
				if err != nil {
					logger.Error("Reload failed", "path", ev.Path, "error", err)
					continue
				}
				fmt.Printf("Source changed: %d checked, %d new conflicts\n", report.Checked, len(report.Conflicts))
				for _, c := range report.Conflicts {
					fmt.Printf("  %s  %s\n", truncID(c.RecordID), c)
				}
				if watchPersist {
					reapply(s, w)
				}
				if err := s.Save(); err != nil {
					return err
				}
			}
		}
		<-w.Done()
		return nil
	},
}

// reapply writes committed annotations back after an external edit dropped
// them, unless any annotation is in conflict. The watcher is told the new
// fingerprint so our own write is not reported as a change.
func reapply(s *session.Session, w *watch.Watcher) {
	if n := len(s.Store().Conflicted()); n > 0 {
		logger.Warn("Not re-applying annotations while conflicts are open", "conflicts", n)
		return
	}
	if len(persist.Materialize(s.Document(), s.Store()).Updated) == 0 {
		return
	}
	res, err := s.Persist()
	if err != nil {
		logger.Error("Re-applying annotations failed", "path", s.Path(), "error", err)
		return
	}
	w.SetFingerprint(res.Document.Fingerprint())
	fmt.Printf("Re-applied annotations to %d entities (backup %s)\n", res.UpdatedEntityCount, res.BackupID)
}

func init() {
	watchCmd.Flags().BoolVar(&watchPersist, "persist", false, "Write committed annotations back into the source after each external change")
	rootCmd.AddCommand(watchCmd)
}
