package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/regsearch/configs"
	"github.com/Aman-CERP/regsearch/internal/config"
	"github.com/Aman-CERP/regsearch/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
		Long: `Inspect and create regsearch configuration.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/regsearch/config.yaml)
  3. Project config (.regsearch.yaml) or --config
  4. Environment variables (REGSEARCH_*)`,
	}

	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  regsearch config show
  regsearch config show --json
  regsearch config show --source defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			switch source {
			case "merged":
				loaded, err := root.loadConfig()
				if err != nil {
					return err
				}
				cfg = loaded
			case "defaults":
				cfg = config.NewConfig()
			default:
				return fmt.Errorf("unknown source %q: use merged or defaults", source)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		user     bool
		force    bool
		synonyms bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a commented configuration file",
		Long: `Write a commented configuration file matching the built-in defaults.

By default the file is .regsearch.yaml in the given directory (or the
current one). With --user it is the user config file instead. An existing
file is kept unless --force is given, in which case it is backed up first.`,
		Example: `  regsearch config init
  regsearch config init --synonyms
  regsearch config init --user --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())

			path := config.GetUserConfigPath()
			if !user {
				dir := "."
				if len(args) == 1 {
					dir = args[0]
				}
				path = filepath.Join(dir, config.ProjectConfigName)
			}
			if err := writeTemplate(out, path, configs.ConfigTemplate, force); err != nil {
				return err
			}
			if synonyms {
				synPath := filepath.Join(filepath.Dir(path), "synonyms.yaml")
				if err := writeTemplate(out, synPath, configs.SynonymsTemplate, force); err != nil {
					return err
				}
				out.Status("💡", "Set expansion.synonyms_file to use it")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file after backing it up")
	cmd.Flags().BoolVar(&synonyms, "synonyms", false, "Also write a starter synonyms.yaml")
	return cmd
}

func writeTemplate(out *output.Writer, path, content string, force bool) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("%s already exists", path)
			out.Status("💡", "Use --force to overwrite it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		out.Statusf("💾", "Backup: %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	out.Successf("Wrote %s", path)
	return nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
