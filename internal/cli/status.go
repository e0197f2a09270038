package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/reflow/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <update_id>",
		Short: "Check the status of a scheduled update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/updates/" + args[0])
			if err != nil {
				return fmt.Errorf("get update: %w", err)
			}

			var st model.UpdateStatus
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printUpdateStatus(st)
			return nil
		},
	}
}
