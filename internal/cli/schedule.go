package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/reflow/internal/scene"
	"github.com/me/reflow/pkg/model"
)

func newScheduleCmd() *cobra.Command {
	var sceneName string
	var priority string
	var sync bool
	var wait bool

	cmd := &cobra.Command{
		Use:   "schedule [scene-file]",
		Short: "Schedule a render of a scene",
		Long: `Schedules an update on the server. The tree comes from a local scene
file given as the argument, or from a scene stored in the server's library
named with --scene.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && sceneName != "" {
				return fmt.Errorf("give a scene file or --scene, not both")
			}
			if len(args) == 0 && sceneName == "" {
				return fmt.Errorf("a scene file or --scene is required")
			}

			p, err := model.ParsePriority(priority)
			if err != nil {
				return err
			}

			req := model.ScheduleRequest{Priority: p, Sync: sync, Scene: sceneName}
			if len(args) == 1 {
				sc, err := scene.New(logger).LoadFile(args[0])
				if err != nil {
					return err
				}
				req.Tree = sc.Tree
			}

			path := "/api/v1/updates/"
			if wait {
				path += "?wait=true"
			}
			resp, err := client.Post(path, req)
			if err != nil {
				return fmt.Errorf("schedule update: %w", err)
			}

			var st model.UpdateStatus
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printUpdateStatus(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&sceneName, "scene", "", "Schedule a scene stored on the server by name")
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "Priority (immediate, user_blocking, normal, low, idle)")
	cmd.Flags().BoolVar(&sync, "sync", false, "Forced-synchronous mode: suspensions show fallbacks immediately")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the update reaches a terminal state")
	return cmd
}

func printUpdateStatus(st model.UpdateStatus) {
	fmt.Printf("Update: %s\n", st.ID)
	fmt.Printf("  Priority: %s\n", st.Priority)
	fmt.Printf("  State:    %s\n", st.State)
	if st.Sync {
		fmt.Printf("  Mode:     sync\n")
	}
	fmt.Printf("  Created:  %dms\n", st.CreatedMS)
	if st.ExpiresMS > 0 {
		fmt.Printf("  Expires:  %dms\n", st.ExpiresMS)
	}
	if len(st.BlockedOn) > 0 {
		fmt.Printf("  Blocked:  %v\n", st.BlockedOn)
	}
	if st.FrameSeq > 0 {
		fmt.Printf("  Frame:    %d (committed at %dms)\n", st.FrameSeq, st.CommitTime)
	}
	if st.Error != "" {
		fmt.Printf("  Error:    %s\n", st.Error)
	}
}
