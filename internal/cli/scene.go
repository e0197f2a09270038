package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/reflow/internal/scene"
	"github.com/me/reflow/pkg/model"
)

func newSceneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Manage the server's scene library",
	}
	cmd.AddCommand(
		newSceneListCmd(),
		newScenePushCmd(),
		newSceneShowCmd(),
	)
	return cmd
}

func newSceneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored scenes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/scenes/")
			if err != nil {
				return fmt.Errorf("list scenes: %w", err)
			}

			var scenes []model.Scene
			if err := json.Unmarshal(resp.Data, &scenes); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(scenes) == 0 {
				fmt.Println("No scenes found.")
				return nil
			}

			fmt.Printf("%-24s  %s\n", "NAME", "DESCRIPTION")
			fmt.Printf("%-24s  %s\n", "----", "-----------")
			for _, sc := range scenes {
				fmt.Printf("%-24s  %s\n", sc.Name, sc.Description)
			}
			return nil
		},
	}
}

func newScenePushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <scene-file>",
		Short: "Store a scene file in the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scene.New(logger).LoadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := client.Put("/api/v1/scenes/"+sc.Name+"/", sc); err != nil {
				return fmt.Errorf("push scene: %w", err)
			}
			fmt.Printf("Scene %s pushed.\n", sc.Name)
			return nil
		},
	}
}

func newSceneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored scene as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/scenes/" + args[0] + "/")
			if err != nil {
				return fmt.Errorf("get scene: %w", err)
			}

			var sc model.Scene
			if err := json.Unmarshal(resp.Data, &sc); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out, err := yaml.Marshal(sc)
			if err != nil {
				return fmt.Errorf("format scene: %w", err)
			}
			os.Stdout.Write(out)
			return nil
		},
	}
}
