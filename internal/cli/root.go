package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "veritrace",
	Short: "Veritrace - suspicious-item report ledger node",
	Long: `Veritrace runs a traceability node for regulated supply chains.

It keeps a ledger of staked suspicious-item reports, settles them under
regulator resolution with payouts and slashes, tracks reporter reputation,
and maintains the high-risk working set of flagged items.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("veritrace v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/veritrace/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}
