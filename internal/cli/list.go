package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/reflow/pkg/model"
)

func newListCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/updates/"
			if state != "" {
				path += "?state=" + strings.ToUpper(state)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list updates: %w", err)
			}

			var updates []model.UpdateStatus
			if err := json.Unmarshal(resp.Data, &updates); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(updates) == 0 {
				fmt.Println("No updates found.")
				return nil
			}

			fmt.Printf("%-42s  %-13s  %-10s  %-8s  %s\n", "ID", "PRIORITY", "STATE", "FRAME", "BLOCKED ON")
			fmt.Printf("%-42s  %-13s  %-10s  %-8s  %s\n", "----", "--------", "-----", "-----", "----------")
			for _, u := range updates {
				frame := "-"
				if u.FrameSeq > 0 {
					frame = fmt.Sprintf("%d", u.FrameSeq)
				}
				fmt.Printf("%-42s  %-13s  %-10s  %-8s  %s\n",
					u.ID, u.Priority, u.State, frame, strings.Join(u.BlockedOn, ","))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(updates), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (queued, suspended, committed, dropped)")
	return cmd
}
