package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/formulary/internal/config"
)

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "config:init [PATH]",
	Short: "Write the commented default config",
	Long: `Write the default configuration template to PATH, or to
~/.config/formulary/config.yaml when PATH is omitted. An existing file is
left alone unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no config path: home directory unavailable")
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "config:set KEY VALUE",
	Short: "Set one config key, keeping comments",
	Long: `Set a dotted KEY in the active config file. VALUE is parsed as YAML.

Examples:
  formulary config:set compile.timeout 45s
  formulary config:set compile.max_concurrent 4
  formulary config:set compile.args '[build, -o, "{output}", .]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if err := config.SetValue(path, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "set %s in %s\n", args[0], path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	rootCmd.AddCommand(configInitCmd, configSetCmd)
}
