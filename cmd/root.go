package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	centralConfigPath = "central.yaml"
	nodeConfigPath    = "node.yaml"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aramid",
	Short: "Aramid Link-State Routing CLI",
	Long: `Aramid is a link-state routing engine.
Nodes flood their local view of the topology to each other, and every node independently computes shortest paths over the shared database.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Aramid",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ar",
		Title: "Aramid Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&nodeConfigPath, "node-config", "n", nodeConfigPath, "node-specific config")
	rootCmd.PersistentFlags().StringVarP(&centralConfigPath, "central-config", "c", centralConfigPath, "network-global config")
}
