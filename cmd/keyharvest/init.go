package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/keyharvest/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/keyharvest.yaml
var configTemplate embed.FS

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new keyharvest configuration file",
		Long: `Initialize creates a new .keyharvest configuration file in the current directory.

The generated file documents every option with its default value:
- crawl tunables (mode, depth, thresholds, pacing, regions)
- browser and target site settings
- account cooldown policy and account profiles
- proxy health checks and a static proxy list
- custom fingerprint presets

Examples:
  # Create .keyharvest in current directory
  keyharvest init

  # Create config file at a specific path
  keyharvest init -o ~/.config/keyharvest/config.yaml

  # Force overwrite existing file
  keyharvest init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile("templates/keyharvest.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	// The file may hold proxy credentials.
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  keyharvest proxy import proxies.txt")
	fmt.Fprintln(out, "  keyharvest account add <id> <login> --proxy <proxy-id>")
	fmt.Fprintln(out, "  keyharvest crawl \"first phrase\" \"second phrase\"")
	return nil
}
