package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/conflict"
	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/gkiler/visualization-for-preds/internal/overlay"
	"github.com/gkiler/visualization-for-preds/internal/session"
	"github.com/spf13/cobra"
)

var (
	showJSON      bool
	showAnnotated bool
	showMissing   string
	historyJSON   bool
	historyAll    bool
	summaryJSON   bool
	conflictsJSON bool
	inspectJSON   bool
	inspectTopN   int
)

var showCmd = &cobra.Command{
	Use:   "show <source> [entity]",
	Short: "Show the effective graph with committed annotations applied",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := OpenSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()
		eff := s.Effective()

		if showMissing != "" {
			ids := overlay.MissingAttribute(eff, showMissing)
			if showJSON {
				return printJSON(ids)
			}
			fmt.Printf("%d nodes without %q\n", len(ids), showMissing)
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		}

		if len(args) == 2 {
			id := graph.EntityID(args[1])
			attrs, annotated, ok := eff.Entity(id)
			if !ok {
				return fmt.Errorf("entity not found: %s", id)
			}
			edges := s.Document().EdgesForNode(string(id))
			if showJSON {
				return printJSON(map[string]any{"id": id, "attributes": attrs, "annotated": annotated, "edges": edges})
			}
			printEntity(string(id), attrs, annotated, overridden(s.Store(), id))
			if len(edges) > 0 {
				fmt.Printf("    %d edges:\n", len(edges))
				for _, key := range edges {
					fmt.Printf("      %s\n", key)
				}
			}
			return nil
		}

		if showJSON {
			return printJSON(eff)
		}
		for _, n := range eff.Nodes {
			if showAnnotated && !n.Annotated {
				continue
			}
			printEntity(n.ID, n.Attrs, n.Annotated, n.Changed)
		}
		for _, e := range eff.Edges {
			if showAnnotated && !e.Annotated {
				continue
			}
			printEntity(fmt.Sprintf("%s (%s -> %s)", e.Key, e.Source, e.Target), e.Attrs, e.Annotated, e.Changed)
		}
		return nil
	},
}

func overridden(store *annotation.Store, id graph.EntityID) []string {
	var names []string
	for _, a := range store.Overrides(id) {
		names = append(names, a.Name)
	}
	return names
}

func printEntity(label string, attrs graph.Attributes, annotated bool, changed []string) {
	mark := " "
	if annotated {
		mark = "*"
	}
	fmt.Printf("%s %s\n", mark, label)
	isChanged := make(map[string]bool, len(changed))
	for _, c := range changed {
		isChanged[c] = true
	}
	attrs.Range(func(name string, v graph.Value) bool {
		flag := ""
		if isChanged[name] {
			flag = "  (annotated)"
		}
		fmt.Printf("    %-20s %s%s\n", name, truncValue(v.String(), 60), flag)
		return true
	})
}

var historyCmd = &cobra.Command{
	Use:   "history <source> [entity]",
	Short: "List annotation records, oldest first",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := OpenSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		var records []annotation.Record
		switch {
		case len(args) == 2:
			records = s.Store().History(graph.EntityID(args[1]))
		case historyAll:
			records = s.Store().Records()
		default:
			records = s.Store().ActiveRecords()
		}

		if historyJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No annotations.")
			return nil
		}
		for _, r := range records {
			if r.IsMarker() {
				fmt.Printf("  %s  %-10s discards %s\n", truncID(r.ID), r.Status, truncID(r.Supersedes))
				continue
			}
			fmt.Printf("  %s  %-10s %s.%s = %s  (baseline %s)  %s\n",
				truncID(r.ID), r.Status, r.EntityID, r.Attribute,
				truncValue(r.NewValue.String(), 40), formatOptional(r.Baseline),
				r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <source>",
	Short: "Count annotation records by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := OpenSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		sum := s.Store().Summary()
		if summaryJSON {
			return printJSON(sum)
		}
		fmt.Printf("  Records: %d  pending=%d committed=%d conflicted=%d discarded=%d\n",
			sum.Total, sum.Pending, sum.Committed, sum.Conflicted, sum.Discarded)
		fmt.Printf("  Annotated entities: %d\n", sum.AnnotatedEntities)
		if sum.LastUpdate != nil {
			fmt.Printf("  Last update: %s\n", sum.LastUpdate.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts <source>",
	Short: "List annotations the source file has since contradicted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *session.Session) error {
			return printConflicts(s.Store())
		})
	},
}

// printConflicts lists every record currently flagged, including ones found on earlier runs
func printConflicts(store *annotation.Store) error {
	flagged := store.Conflicted()
	if conflictsJSON {
		return printJSON(flagged)
	}
	if len(flagged) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}
	fmt.Printf("%d conflicted annotations (resolve with discard or rebaseline):\n", len(flagged))
	for _, r := range flagged {
		fmt.Printf("  %s  %s.%s  yours=%s  baseline=%s\n",
			truncID(r.ID), r.EntityID, r.Attribute, truncValue(r.NewValue.String(), 40), formatOptional(r.Baseline))
	}
	return nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <source>",
	Short: "Summarize a document's structure and its annotations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := OpenSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		doc := s.Document()
		topo := graph.ComputeTopology(doc, inspectTopN)
		counts := s.Effective().Count()
		report := conflict.Check(doc, s.Store())

		if inspectJSON {
			return printJSON(map[string]any{
				"path":        s.Path(),
				"fingerprint": doc.Fingerprint(),
				"topology":    topo,
				"annotations": counts,
				"summary":     s.Store().Summary(),
				"conflicts":   len(s.Store().Conflicted()),
				"unchanged":   report.Unchanged,
				"converged":   report.Converged,
			})
		}

		fmt.Printf("\n  %s\n", s.Path())
		fmt.Printf("  fingerprint %s\n\n", truncValue(doc.Fingerprint(), 16))
		fmt.Println("  TOPOLOGY")
		fmt.Println("  ────────────────────────────────────────")
		fmt.Printf("  Nodes: %d  Edges: %d  Components: %d\n", topo.TotalNodes, topo.TotalEdges, topo.NumComponents)
		fmt.Printf("  Largest component: %d  Smallest: %d\n", topo.LargestComponent, topo.SmallestComponent)
		if topo.OrphanCount > 0 {
			fmt.Printf("  Orphans: %d  (%s)\n", topo.OrphanCount, strings.Join(topo.OrphanIDs, ", "))
		}
		attrs := append([]string(nil), topo.AttributeNames...)
		sort.Strings(attrs)
		fmt.Printf("  Node attributes: %s\n\n", strings.Join(attrs, ", "))

		fmt.Println("  ANNOTATIONS")
		fmt.Println("  ────────────────────────────────────────")
		fmt.Printf("  Annotated nodes: %d  edges: %d  changed values: %d\n",
			counts.AnnotatedNodes, counts.AnnotatedEdges, counts.ChangedValues)
		fmt.Printf("  Conflicted: %d  unchanged in source: %d  converged: %d\n\n",
			len(s.Store().Conflicted()), report.Unchanged, report.Converged)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	showCmd.Flags().BoolVar(&showAnnotated, "annotated", false, "Only show annotated entities")
	showCmd.Flags().StringVar(&showMissing, "missing", "", "List nodes that have no value for this attribute")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Include pending, discarded and superseded records")
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Output as JSON")
	conflictsCmd.Flags().BoolVar(&conflictsJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().IntVar(&inspectTopN, "top-n", 10, "Maximum orphan ids to list")
	rootCmd.AddCommand(showCmd, historyCmd, summaryCmd, conflictsCmd, inspectCmd)
}
