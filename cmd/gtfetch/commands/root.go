// Package commands implements the CLI commands for gtfetch.
package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/gtfetch/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gtfetch",
	Short: "Bulk downloader for GeoTracker site documents",
	Long: `gtfetch downloads the regulatory documents of every GeoTracker site
within a radius of a point, one zip archive per site.

Sites come from a TAB-delimited export with GLOBAL_ID, BUSINESS_NAME,
LATITUDE and LONGITUDE columns. A single browser session is used for the
whole run, and a summary log is written to the output directory however
the run ends.

Examples:
  # Everything within 2 miles of downtown Sacramento
  gtfetch download --lat 38.5816 --lon -121.4944 --radius 2

  # Continue an interrupted run without prompting
  gtfetch download --lat 38.5816 --lon -121.4944 --radius 2 --resume --yes

  # Try the first 5 sites with a visible browser
  gtfetch download --lat 38.5816 --lon -121.4944 --radius 2 \
      --max-sites 5 --headless=false`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logger.Init(logger.Options{
			Debug: viper.GetBool("debug"),
			Quiet: viper.GetBool("quiet"),
			JSON:  viper.GetBool("log_json"),
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.gtfetch.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".gtfetch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GTFETCH")
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
