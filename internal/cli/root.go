package cli

import (
	"log/slog"
	"os"

	"github.com/me/reflow/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking REFLOW_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("REFLOW_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the reflow CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reflow",
		Short: "Reflow — incremental tree renderer with suspendable work",
		Long:  "Reflow schedules, inspects, and streams incremental renders of element trees.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Reflow server URL (or REFLOW_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newScheduleCmd(),
		newStatusCmd(),
		newListCmd(),
		newTreeCmd(),
		newWatchCmd(),
		newExpireCmd(),
		newResourceCmd(),
		newSceneCmd(),
		newRenderCmd(),
	)

	return root
}
