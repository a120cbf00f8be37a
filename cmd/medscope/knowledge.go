// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/medscope/internal/knowledge"
	"github.com/pdiddy/medscope/pkg/types"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the drug knowledge base (store, retrieve, export)",
	Long: `Knowledge manages a local SQLite knowledge base built from drug
monograph YAML files. Use subcommands to index monographs, query them,
or export.`,
}

// --- store subcommand ---

var knowledgeStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Ingest drug monographs into the knowledge base",
	Long: `Store reads monograph YAML files from knowledge/drugs/, ingests their
passages into a SQLite database with FTS4 indexing, and writes an export
file. Unchanged monographs are skipped on subsequent runs.`,
	RunE: runKnowledgeStore,
}

func runKnowledgeStore(cmd *cobra.Command, args []string) error {
	store, err := knowledge.NewStore(cfg.KnowledgeBase)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Ingest(context.Background(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d monograph(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- retrieve subcommand ---

var knowledgeRetrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Query the knowledge base",
	Long: `Retrieve searches monograph passages. With --drug and --sections and no
query it runs a scoped retrieval exactly as the scope command would, scoring
passages by query-term coverage and the --weight similarity weight. With a
query it runs an FTS4 full-text search narrowed by the same filters.`,
	RunE: runKnowledgeRetrieve,
}

func runKnowledgeRetrieve(cmd *cobra.Command, args []string) error {
	opts, err := queryOptsFromFlags(cmd, args)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := knowledge.NewStore(cfg.KnowledgeBase)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Query == "" {
		if opts.Drug == "" {
			return fmt.Errorf("query or --drug required")
		}
		weight, _ := cmd.Flags().GetFloat64("weight")
		terms, _ := cmd.Flags().GetStringSlice("context")
		sections := opts.Sections
		if sections.Len() == 0 {
			sections = types.FullCoverage
		}
		passages, err := store.Retrieve(context.Background(), types.RetrievalRequest{
			Medication:       types.MedicationRef(opts.Drug),
			Sections:         sections,
			SimilarityWeight: weight,
			ContextTerms:     terms,
			PerSection:       opts.MaxResults,
		})
		if err != nil {
			return err
		}
		return formatScored(passages, jsonOutput)
	}

	results, err := store.Search(context.Background(), opts)
	if err != nil {
		return err
	}
	return formatSearch(results, jsonOutput)
}

func formatSearch(results []knowledge.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-16s  %-13s  %s\n", "Rank", "Drug", "Section", "Content")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
	for i, r := range results {
		fmt.Fprintf(os.Stdout, "%-4d  %-16s  %-13s  %s\n", i+1, truncate(r.Drug, 16), r.Section, truncate(r.Content, 60))
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

func formatScored(passages []types.ScoredPassage, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(passages)
	}

	if len(passages) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-6s  %-6s  %-13s  %s\n", "Rank", "Score", "Base", "Section", "Content")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
	for i, p := range passages {
		fmt.Fprintf(os.Stdout, "%-4d  %6.2f  %6.2f  %-13s  %s\n", i+1, p.Score, p.BaseScore, p.Section, truncate(p.Content, 60))
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(passages))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// --- export subcommand ---

var knowledgeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge base to YAML or JSON",
	Long: `Export writes the full knowledge base (or a filtered subset) to
knowledge/index/export.yaml or export.json. Supports the same filter
flags as retrieve for partial exports.`,
	RunE: runKnowledgeExport,
}

func runKnowledgeExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	opts, err := queryOptsFromFlags(cmd, args)
	if err != nil {
		return err
	}

	store, err := knowledge.NewStore(cfg.KnowledgeBase)
	if err != nil {
		return err
	}
	defer store.Close()

	switch format {
	case "yaml", "":
		if err := store.ExportYAML(context.Background(), opts); err != nil {
			return err
		}
		fmt.Println("Exported to knowledge/index/export.yaml")
	case "json":
		if err := store.ExportJSON(context.Background(), opts); err != nil {
			return err
		}
		fmt.Println("Exported to knowledge/index/export.json")
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	return nil
}

// --- shared helpers ---

func queryOptsFromFlags(cmd *cobra.Command, args []string) (knowledge.QueryOptions, error) {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}
	drug, _ := cmd.Flags().GetString("drug")
	names, _ := cmd.Flags().GetStringSlice("sections")
	limit, _ := cmd.Flags().GetInt("limit")

	var set types.SectionSet
	for _, n := range names {
		sec, err := types.ParseSection(n)
		if err != nil {
			return knowledge.QueryOptions{}, err
		}
		set = set.Add(sec)
	}

	return knowledge.QueryOptions{
		Query:      queryText,
		Drug:       drug,
		Sections:   set,
		MaxResults: limit,
	}, nil
}

func init() {
	knowledgeCmd.PersistentFlags().String("knowledge-dir", "", "base directory for knowledge (contains drugs/, index/)")
	viper.BindPFlag("knowledge_base.knowledge_dir", knowledgeCmd.PersistentFlags().Lookup("knowledge-dir"))

	for _, c := range []*cobra.Command{knowledgeRetrieveCmd, knowledgeExportCmd} {
		c.Flags().String("query", "", "full-text search query")
		c.Flags().String("drug", "", "filter by drug name")
		c.Flags().StringSlice("sections", nil, "filter by section names (e.g. TOXICITY,INTERACTIONS)")
		c.Flags().Int("limit", 0, "maximum results; per section for scoped retrieval (0 = default)")
	}
	knowledgeRetrieveCmd.Flags().Float64("weight", 1.0, "similarity weight for scoped retrieval")
	knowledgeRetrieveCmd.Flags().StringSlice("context", nil, "extra query terms for scoped retrieval")
	knowledgeRetrieveCmd.Flags().Bool("json", false, "output results as JSON")
	knowledgeExportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	knowledgeCmd.AddCommand(knowledgeStoreCmd)
	knowledgeCmd.AddCommand(knowledgeRetrieveCmd)
	knowledgeCmd.AddCommand(knowledgeExportCmd)

	rootCmd.AddCommand(knowledgeCmd)
}
