package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/selfgraph/internal/config"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document and queue it for analysis",
	Long: `Upload a document and queue it for analysis.

Examples:
  selfgraph upload ./notes.md
  selfgraph upload ./bio.pdf --description "Biography" --category personal
  selfgraph upload ./facts.txt --no-analyze`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		description, _ := cmd.Flags().GetString("description")
		category, _ := cmd.Flags().GetString("category")
		noAnalyze, _ := cmd.Flags().GetBool("no-analyze")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postFile(cmd.Context(), "/documents/upload", path, data, map[string]string{
			"description": description,
			"category":    category,
		})
		if err != nil {
			return err
		}

		var doc struct {
			ID       string `json:"id"`
			Filename string `json:"filename"`
			FileType string `json:"file_type"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Uploaded %s as %s", doc.Filename, doc.ID)

		if noAnalyze {
			return nil
		}

		analyzeResp, err := client.post(cmd.Context(), "/analysis/analyze", map[string]any{
			"document_id": doc.ID,
		})
		if err != nil {
			return err
		}
		var queued struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(analyzeResp, &queued); err != nil {
			return err
		}
		printSuccess("Analysis %s (job %s)", queued.Status, queued.JobID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("description", "", "description for the document")
	uploadCmd.Flags().String("category", "", "category for the document")
	uploadCmd.Flags().Bool("no-analyze", false, "upload only, do not queue analysis")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			FileType   string `json:"file_type"`
			FileSize   int64  `json:"file_size"`
			UploadDate string `json:"upload_date"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %s  %6d bytes  %s\n",
				colorize(colorCyan, d.ID[:8]),
				d.UploadDate,
				d.FileSize,
				d.Filename,
			)
		}
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its analysis results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	docsListCmd.Flags().Int("limit", 20, "maximum number of documents to list")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the knowledge graph",
}

var graphExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge graph as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/knowledge-graph")
		if err != nil {
			return err
		}

		var graph any
		if err := decodeJSON(resp, &graph); err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(graph); err != nil {
			return err
		}

		if output != "" {
			printSuccess("Graph exported to %s", output)
		}
		return nil
	},
}

func init() {
	graphExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	graphCmd.AddCommand(graphExportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
