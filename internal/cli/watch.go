package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/reflow/internal/host"
	"github.com/me/reflow/pkg/model"
)

func newWatchCmd() *cobra.Command {
	var since int64
	var showMutations bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream committed frames from the server",
		Long: `Connects to the server's SSE frame stream and prints each committed
frame's rendered tree as it arrives. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := client.BaseURL + "/api/v1/sse/frames"
			if since > 0 {
				url += fmt.Sprintf("?since=%d", since)
			}

			resp, err := client.HTTPClient.Get(url)
			if err != nil {
				return fmt.Errorf("connect to frame stream: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("frame stream: unexpected status %d", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

			var event string
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "event: "):
					event = strings.TrimPrefix(line, "event: ")
				case strings.HasPrefix(line, "data: "):
					var f model.Frame
					if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
						logger.Warn("bad frame event", "error", err)
						continue
					}
					printFrame(event, f, showMutations)
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().Int64Var(&since, "since", 0, "Replay retained frames after this sequence number first")
	cmd.Flags().BoolVar(&showMutations, "mutations", false, "Also print each frame's mutation list")
	return cmd
}

func printFrame(event string, f model.Frame, showMutations bool) {
	fmt.Printf("--- frame %d (%s, t=%dms, update %s) ---\n", f.Seq, event, f.TimeMS, f.UpdateID)
	if showMutations {
		for _, m := range f.Mutations {
			switch m.Op {
			case model.OpSetText:
				fmt.Printf("  %s %s[%d] %q\n", m.Op, m.Parent, m.Index, m.Text)
			default:
				fmt.Printf("  %s %s[%d]\n", m.Op, m.Parent, m.Index)
			}
		}
	}
	fmt.Print(host.Format(f.Tree))
}
