package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shiguredo/media-processors/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking MP4STREAM_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("MP4STREAM_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the mp4stream CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mp4stream",
		Short: "Schedule MP4 samples onto decoders in real time",
		Long: "mp4stream inspects MP4 files, prints the decode timeline a playback session produces, " +
			"plays files against a logging decode host, and drives a playback server.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.FromFlags(flagLogLevel, flagLogFormat, flagDebug, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Playback server URL (or MP4STREAM_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newInspectCmd(),
		newTimelineCmd(),
		newPlayCmd(),
		newLoadCmd(),
		newStartCmd(),
		newSessionsCmd(),
		newStopCmd(),
		newRunsCmd(),
	)

	return root
}
