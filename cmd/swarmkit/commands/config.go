package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/blackms/swarmkit/internal/config"
)

// ConfigCmd groups configuration commands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Inspect the effective swarmkit configuration.

Configuration is merged from built-in defaults, the user config file
(~/.config/swarmkit/config.yaml), a project .swarmkit.yaml found in the
current directory or a parent, and SWARMKIT_* environment variables
(for example SWARMKIT_SWARM_MIN_SIZE=3).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config files that are consulted",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if ConfigPath != "" {
			fmt.Fprintf(w, "explicit: %s\n", ConfigPath)
			return nil
		}
		fmt.Fprintf(w, "user:     %s\n", config.GetUserConfigPath())
		if project := config.GetProjectConfigPath(); project != "" {
			fmt.Fprintf(w, "project:  %s\n", project)
		} else {
			fmt.Fprintf(w, "project:  %s\n", color.HiBlackString("(none)"))
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid\n", color.GreenString("✓"))
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configPathCmd)
	ConfigCmd.AddCommand(configValidateCmd)
}

func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		return config.LoadFromPath(ConfigPath)
	}
	return config.Load()
}
