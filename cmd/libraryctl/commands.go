package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aihpi/workshop-video-search/internal/library"
	"github.com/aihpi/workshop-video-search/pkg/utils/format"
)

const titleWidth = 48

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newListCommand(env *cliEnv) *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List videos in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			videos, err := env.client.List(cmd.Context())
			if err != nil {
				return err
			}
			if statusFilter != "" {
				want := library.Status(strings.ToLower(statusFilter))
				if !want.Valid() {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				filtered := videos[:0]
				for _, v := range videos {
					if v.Status == want {
						filtered = append(filtered, v)
					}
				}
				videos = filtered
			}
			if env.json {
				return writeJSON(cmd, videos)
			}
			if len(videos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Library is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderVideos(videos))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show videos with this status")
	return cmd
}

func renderVideos(videos []library.Video) string {
	rows := make([][]string, 0, len(videos))
	for _, v := range videos {
		duration := ""
		if v.Duration != nil {
			duration = format.Duration(*v.Duration)
		}
		status := string(v.Status)
		if v.ErrorMessage != "" {
			status += ": " + format.Truncate(v.ErrorMessage, 40)
		}
		rows = append(rows, []string{
			v.ID,
			format.Truncate(v.Title, titleWidth),
			string(v.Source),
			duration,
			v.Model,
			status,
			humanize.Time(v.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Source", "Duration", "Model", "Status", "Added"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func newStatusCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue length, in-flight videos and counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := env.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if env.json {
				return writeJSON(cmd, st)
			}
			order := []library.Status{library.StatusPending, library.StatusProcessing, library.StatusCompleted, library.StatusFailed}
			rows := make([][]string, 0, len(order))
			for _, s := range order {
				rows = append(rows, []string{capitalize(string(s)), humanize.Comma(int64(st.Counts[s]))})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Status", "Videos"}, rows, []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintf(out, "Queued: %d\n", st.QueueLength)
			if len(st.ProcessingIDs) > 0 {
				ids := append([]string(nil), st.ProcessingIDs...)
				sort.Strings(ids)
				fmt.Fprintf(out, "Processing: %s\n", strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

func newAddCommand(env *cliEnv) *cobra.Command {
	var model, title string
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a video by URL and queue it for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := env.client.AddURL(cmd.Context(), args[0], title, model)
			if err != nil {
				return err
			}
			if env.json {
				return writeJSON(cmd, v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s)\n", v.ID, v.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Transcription model (tiny, base, small, medium, large, turbo)")
	cmd.Flags().StringVar(&title, "title", "", "Title to use instead of the looked-up one")
	return cmd
}

func newRetryCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a failed video and queue it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := env.client.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if env.json {
				return writeJSON(cmd, v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", v.ID)
			return nil
		},
	}
}

func newDeleteCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a video, its files and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newSearchCommand(env *cliEnv) *cobra.Command {
	var (
		mode  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search transcripts or frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := env.client.Search(cmd.Context(), strings.Join(args, " "), mode, limit)
			if err != nil {
				return err
			}
			if env.json {
				return writeJSON(cmd, resp)
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches")
				return nil
			}
			rows := make([][]string, 0, len(resp.Results))
			for _, r := range resp.Results {
				at, snippet := format.Duration(r.Start), r.Text
				if resp.Mode == "visual" {
					at, snippet = format.Duration(r.Timestamp), r.Path
				}
				rows = append(rows, []string{
					fmt.Sprintf("%.3f", r.Score),
					format.Truncate(r.Title, 32),
					at,
					format.Truncate(snippet, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Score", "Video", "At", "Match"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "keyword", "Search mode: keyword or visual")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	return cmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
