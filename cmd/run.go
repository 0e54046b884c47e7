package cmd

import (
	"github.com/encodeous/aramid/core"
	"github.com/encodeous/aramid/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run aramid",
	Long:  `This will run aramid on the current host, using the node and central configs to discover its circuits.`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		core.Bootstrap(centralConfigPath, nodeConfigPath, logPath, verbose)
	},
	GroupID: "ar",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().String("log", "", "Also write logs to this file")
	runCmd.Flags().BoolVarP(&state.DBG_log_adjacency, "ladj", "a", false, "Write adjacency phase changes to console")
	runCmd.Flags().BoolVarP(&state.DBG_log_flood, "lflood", "f", false, "Write flooding events to console")
	runCmd.Flags().BoolVarP(&state.DBG_log_spf, "lspf", "s", false, "Write shortest-path runs to console")
	runCmd.Flags().BoolVarP(&state.DBG_log_rib, "ltable", "t", false, "Write table publishes to console")
	runCmd.Flags().BoolVarP(&state.DBG_log_election, "lelect", "e", false, "Write designated-node elections to console")
}
