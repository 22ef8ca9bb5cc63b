package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/pkg/model"
)

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// loadFile reads and validates an MP4 file.
func loadFile(path string) (*mp4.Container, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	c, err := mp4.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return c, nil
}

func newInspectCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inspect <file.mp4>",
		Short: "Print the tracks and decoder configurations of an MP4 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadFile(args[0])
			if err != nil {
				return err
			}
			return writeSummary(cmd, c.Summary(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func writeSummary(cmd *cobra.Command, summary model.ContainerSummary, output string) error {
	w := cmd.OutOrStdout()
	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", output)
	}
}
