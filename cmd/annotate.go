package cmd

import (
	"fmt"

	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/gkiler/visualization-for-preds/internal/session"
	"github.com/spf13/cobra"
)

var (
	stageCommit bool
	stageAsText bool
	commitAll   bool
)

var stageCmd = &cobra.Command{
	Use:   "stage <source> <entity> <attribute> <value>",
	Short: "Stage a correction for one attribute of a node or edge",
	Long: `Stage a pending correction. The value is typed the way it is written:
true/false is a boolean, 42 an integer, 4.2 or 1e3 a float, anything else text.
Edges without an id are addressed as source-target-index.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *session.Session) error {
			value := graph.ParseValue(args[3])
			if stageAsText {
				value = graph.String(args[3])
			}
			id, err := s.Stage(graph.EntityID(args[1]), args[2], value)
			if err != nil {
				return err
			}
			if stageCommit {
				if err := s.Commit(id); err != nil {
					return err
				}
				fmt.Printf("Committed %s  %s.%s = %s\n", id, args[1], args[2], value)
				return nil
			}
			fmt.Printf("Staged %s  %s.%s = %s\n", id, args[1], args[2], value)
			return nil
		})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <source> [record-id...]",
	Short: "Commit staged corrections",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !commitAll && len(args) < 2 {
			return fmt.Errorf("give record ids or --all")
		}
		return withSession(args[0], func(s *session.Session) error {
			if commitAll {
				ids, err := s.CommitAll()
				if err != nil {
					return err
				}
				fmt.Printf("Committed %d pending records\n", len(ids))
				return nil
			}
			for _, ref := range args[1:] {
				rec, err := ResolveRecord(s.Store(), ref)
				if err != nil {
					return err
				}
				if err := s.Commit(rec.ID); err != nil {
					return err
				}
				fmt.Printf("Committed %s  %s.%s\n", rec.ID, rec.EntityID, rec.Attribute)
			}
			return nil
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <source> <record-id>",
	Short: "Withdraw a pending, committed or conflicted correction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *session.Session) error {
			rec, err := ResolveRecord(s.Store(), args[1])
			if err != nil {
				return err
			}
			marker, err := s.Discard(rec.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Discarded %s  %s.%s (marker %s)\n", rec.ID, rec.EntityID, rec.Attribute, truncID(marker))
			return nil
		})
	},
}

var rebaselineCmd = &cobra.Command{
	Use:   "rebaseline <source> <record-id>",
	Short: "Keep your value for a conflicted record and accept the source's value as its new baseline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *session.Session) error {
			rec, err := ResolveRecord(s.Store(), args[1])
			if err != nil {
				return err
			}
			id, err := s.Rebaseline(rec.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Rebaselined %s.%s  new record %s\n", rec.EntityID, rec.Attribute, id)
			return nil
		})
	},
}

// withSession opens the source, runs fn and saves the annotation log if fn succeeded
func withSession(path string, fn func(s *session.Session) error) error {
	s, err := OpenSession(path)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := fn(s); err != nil {
		return err
	}
	return s.Save()
}

func init() {
	stageCmd.Flags().BoolVar(&stageCommit, "commit", false, "Commit immediately")
	stageCmd.Flags().BoolVar(&stageAsText, "text", false, "Store the value as text without type detection")
	commitCmd.Flags().BoolVar(&commitAll, "all", false, "Commit every pending record")
	rootCmd.AddCommand(stageCmd, commitCmd, discardCmd, rebaselineCmd)
}
