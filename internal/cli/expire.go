package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire <duration_ms>",
		Short: "Advance the server's virtual clock",
		Long: `Advances the server's virtual clock by the given number of milliseconds,
firing due fetch timers and boundary deadline crossings. Reports the updates
the advance unblocked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || ms <= 0 {
				return fmt.Errorf("duration_ms must be a positive integer, got %q", args[0])
			}

			resp, err := client.Post("/api/v1/time/expire", map[string]any{"duration_ms": ms})
			if err != nil {
				return fmt.Errorf("expire: %w", err)
			}

			var data struct {
				NowMS     int64    `json:"now_ms"`
				FrameSeq  int64    `json:"frame_seq"`
				Unblocked []string `json:"unblocked"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Clock: %dms (frame %d)\n", data.NowMS, data.FrameSeq)
			if len(data.Unblocked) == 0 {
				fmt.Println("No updates unblocked.")
				return nil
			}
			fmt.Println("Unblocked:")
			for _, id := range data.Unblocked {
				fmt.Printf("  - %s\n", id)
			}
			return nil
		},
	}
}
