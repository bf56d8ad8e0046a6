package tvmbench

import (
	"github.com/k0kubun/pp"
	"github.com/mwiater/tvmbench/internal/appconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// showCmd groups the 'show' subcommands.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show settings and resolved values",
}

// showConfigCmd implements the 'show config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON config is loaded properly and overridden by flags and TVMBENCH_ environment variables accordingly.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := GetConfig()
		appconfig.ShowConfig(cmd.OutOrStdout(), configFileUsed(), cfg)
		if cfg != nil && cfg.Debug {
			pp.Fprintln(cmd.ErrOrStderr(), cfg)
		}
	},
}

func configFileUsed() string {
	if used := viper.ConfigFileUsed(); used != "" && fileExists(used) {
		return used
	}
	return ""
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showConfigCmd)
}
