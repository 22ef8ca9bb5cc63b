package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiguredo/media-processors/pkg/model"
)

func newLoadCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "load <file.mp4>",
		Short: "Upload an MP4 file to the playback server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Upload("/api/v1/container/", "video/mp4", data)
			if err != nil {
				return fmt.Errorf("load container: %w", err)
			}
			var summary model.ContainerSummary
			if err := json.Unmarshal(resp.Data, &summary); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			return writeSummary(cmd, summary, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func newStartCmd() *cobra.Command {
	var repeat bool
	cmd := &cobra.Command{
		Use:   "start [session_id]",
		Short: "Start a session on the playback server; an existing id is replaced",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"repeat": repeat}
			if len(args) == 1 {
				body["id"] = args[0]
			}
			resp, err := client.Post("/api/v1/sessions/", body)
			if err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			var st model.SessionStatus
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n  State:  %s\n  Repeat: %v\n", st.ID, st.State, st.Repeat)
			return nil
		},
	}
	cmd.Flags().BoolVar(&repeat, "repeat", false, "Loop the file")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions on the playback server",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/sessions/")
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			var sessions []model.SessionStatus
			if err := json.Unmarshal(resp.Data, &sessions); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			w := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(w, "No sessions.")
				return nil
			}
			fmt.Fprintf(w, "%-40s  %-10s  %-6s  %-5s  %s\n", "ID", "STATE", "REPEAT", "LOOPS", "DECODED")
			for _, st := range sessions {
				fmt.Fprintf(w, "%-40s  %-10s  %-6v  %-5d  %d\n", st.ID, st.State, st.Repeat, st.Loops, st.Decoded)
			}
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session_id>",
		Short: "Stop a session on the playback server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Delete("/api/v1/sessions/" + args[0])
			if err != nil {
				return fmt.Errorf("stop session: %w", err)
			}
			var data struct {
				Stopped bool `json:"stopped"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if data.Stopped {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s stopped.\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s was not running.\n", args[0])
			}
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <session_id>",
		Short: "Show the journal of a session's plays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(fmt.Sprintf("/api/v1/sessions/%s/runs?limit=%d", args[0], limit))
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			var runs []model.Run
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(w, "Run %s  %s  loops=%d decoded=%d  started %s\n",
					run.ID, run.State, run.Loops, run.Decoded, run.StartedAt.Format("2006-01-02 15:04:05.000"))
				for _, ev := range run.Events {
					fmt.Fprintf(w, "  %s  %-15s %v\n", ev.At.Format("15:04:05.000"), ev.Type, ev.Detail)
				}
			}
			if resp.Page != nil && resp.Page.More() {
				fmt.Fprintf(w, "\n(%d of %d shown)\n", len(runs), resp.Page.Total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}
