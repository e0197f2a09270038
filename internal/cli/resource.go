package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/reflow/pkg/model"
)

func newResourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage the server's resource catalog and cache",
	}
	cmd.AddCommand(
		newResourceListCmd(),
		newResourceSetCmd(),
		newResourceDeleteCmd(),
		newResourceInvalidateCmd(),
	)
	return cmd
}

func newResourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/resources/")
			if err != nil {
				return fmt.Errorf("list resources: %w", err)
			}

			var resources []model.Resource
			if err := json.Unmarshal(resp.Data, &resources); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(resources) == 0 {
				fmt.Println("No resources found.")
				return nil
			}

			fmt.Printf("%-24s  %-10s  %s\n", "KEY", "LATENCY", "VALUE")
			fmt.Printf("%-24s  %-10s  %s\n", "---", "-------", "-----")
			for _, res := range resources {
				fmt.Printf("%-24s  %-10s  %s\n", res.Key, fmt.Sprintf("%dms", res.LatencyMS), res.Value)
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(resources), resp.Pagination.Total)
			}
			return nil
		},
	}
}

func newResourceSetCmd() *cobra.Command {
	var latencyMS int

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Create or update a catalog entry",
		Long: `Upserts a resource in the catalog. The server invalidates the cache
entry for the key, so the next read fetches the new value.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client.Put("/api/v1/resources/"+args[0]+"/", map[string]any{
				"value":      args[1],
				"latency_ms": latencyMS,
			})
			if err != nil {
				return fmt.Errorf("set resource: %w", err)
			}
			fmt.Printf("Resource %s set.\n", args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&latencyMS, "latency", 0, "Simulated fetch latency in virtual milliseconds")
	return cmd
}

func newResourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/resources/" + args[0] + "/"); err != nil {
				return fmt.Errorf("delete resource: %w", err)
			}
			fmt.Printf("Resource %s deleted.\n", args[0])
			return nil
		},
	}
}

func newResourceInvalidateCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate the resource cache",
		Long: `Discards settled cache entries so future reads refetch. With --key only
that entry is dropped; without it the whole cache is invalidated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if key != "" {
				body["key"] = key
			}
			resp, err := client.Post("/api/v1/resources/invalidate", body)
			if err != nil {
				return fmt.Errorf("invalidate: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if key != "" {
				if hit, _ := data["invalidated"].(bool); hit {
					fmt.Printf("Cache entry %s invalidated.\n", key)
				} else {
					fmt.Printf("Cache entry %s not present.\n", key)
				}
				return nil
			}
			if n, ok := data["invalidated_count"].(float64); ok {
				fmt.Printf("Invalidated %d cache entries.\n", int(n))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Invalidate only this cache key")
	return cmd
}
