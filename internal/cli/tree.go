package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newTreeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the last committed tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				resp, err := client.Get("/api/v1/tree")
				if err != nil {
					return fmt.Errorf("get tree: %w", err)
				}
				var out json.RawMessage = resp.Data
				pretty, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(pretty))
				return nil
			}

			// The text format bypasses the JSON envelope.
			httpResp, err := client.HTTPClient.Get(client.BaseURL + "/api/v1/tree?format=text")
			if err != nil {
				return fmt.Errorf("get tree: %w", err)
			}
			defer httpResp.Body.Close()
			if httpResp.StatusCode != http.StatusOK {
				return fmt.Errorf("get tree: unexpected status %d", httpResp.StatusCode)
			}
			body, err := io.ReadAll(httpResp.Body)
			if err != nil {
				return fmt.Errorf("read tree: %w", err)
			}
			fmt.Print(string(body))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tree as JSON instead of indented text")
	return cmd
}
