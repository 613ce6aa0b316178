package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantically search saved posts",
	Long: `Semantically search saved posts.

Examples:
  glimpse search "that chart about inflation"
  glimpse search --top-k 10 "golang concurrency tips"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/search", map[string]any{
			"query": query,
			"top_k": topK,
		})
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Post struct {
					PostID string `json:"post_id"`
					Author string `json:"author"`
					Text   string `json:"text"`
					URL    string `json:"url"`
				} `json:"post"`
				Score      float64 `json:"score"`
				MatchedVia string  `json:"matched_via"`
			} `json:"results"`
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Count == 0 {
			printWarning("no matching posts")
			return nil
		}

		for i, r := range result.Results {
			text := truncate(r.Post.Text, 120)
			fmt.Fprintf(os.Stdout, "%d. [%.3f] @%s (%s)\n   %s\n", i+1, r.Score, r.Post.Author, r.MatchedVia, text)
			if r.Post.URL != "" {
				fmt.Fprintf(os.Stdout, "   %s\n", r.Post.URL)
			}
		}
		return nil
	},
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <post_id>",
	Short: "Soft-delete a saved post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/posts/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted post %s", args[0])
		return nil
	},
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process <dir>",
	Short: "Ingest a directory of post archive files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clear, _ := cmd.Flags().GetBool("clear")
		autoTag, _ := cmd.Flags().GetBool("auto-tag")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/process", map[string]any{
			"dir":            args[0],
			"clear_existing": clear,
			"auto_tag":       autoTag,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Started processing task %s", result["task_id"])
		printStep("poll with: glimpse task %s", result["task_id"])
		return nil
	},
}

// --- task ---

var taskCmd = &cobra.Command{
	Use:   "task [id]",
	Short: "Show background task status (all tasks when no id given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/api/tasks")
			if err != nil {
				return err
			}
			var result struct {
				Tasks []struct {
					ID       string `json:"id"`
					Kind     string `json:"kind"`
					Status   string `json:"status"`
					Progress int    `json:"progress"`
					Total    int    `json:"total"`
					Message  string `json:"message"`
				} `json:"tasks"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if len(result.Tasks) == 0 {
				printWarning("no tasks")
				return nil
			}
			for _, t := range result.Tasks {
				fmt.Fprintf(os.Stdout, "%s  %-15s %-10s %d/%d  %s\n", t.ID, t.Kind, t.Status, t.Progress, t.Total, t.Message)
			}
			return nil
		}

		resp, err := client.get(cmd.Context(), "/api/tasks/"+args[0])
		if err != nil {
			return err
		}
		var t any
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Request cancellation of a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/tasks/"+args[0]+"/cancel", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Cancellation requested for %s", args[0])
		return nil
	},
}

// --- tags ---

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags with usage counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/tags")
		if err != nil {
			return err
		}
		var result struct {
			Tags []struct {
				ID        int64  `json:"id"`
				Name      string `json:"name"`
				PostCount int    `json:"post_count"`
			} `json:"tags"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Tags) == 0 {
			printWarning("no tags")
			return nil
		}
		for _, t := range result.Tags {
			fmt.Fprintf(os.Stdout, "%4d  %-30s %d posts\n", t.ID, t.Name, t.PostCount)
		}
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/stats")
		if err != nil {
			return err
		}
		var stats any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	searchCmd.Flags().Int("top-k", 0, "maximum number of results (default 5)")
	processCmd.Flags().Bool("clear", false, "clear existing posts and vectors first")
	processCmd.Flags().Bool("auto-tag", false, "auto-tag posts during ingestion")
	taskCmd.AddCommand(taskCancelCmd)
}
