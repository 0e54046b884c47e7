package cmd

import (
	"fmt"

	"github.com/encodeous/aramid/core"
	"github.com/spf13/cobra"
)

// graphCmd evaluates the circuit DSL of the central config and prints
// the resulting circuits, which helps debug group definitions.
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the evaluated circuits of the central config",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := core.ReadCentralConfig(centralConfigPath)
		if err != nil {
			panic(err)
		}
		edges, err := cfg.Edges()
		if err != nil {
			panic(err)
		}
		for _, e := range edges {
			fmt.Printf("p2p  %s ~ %s (cost %d)\n", e.V1, e.V2, cfg.CostOf(e.V1, e.V2))
		}
		for _, seg := range cfg.Segments {
			fmt.Printf("lan  %s in %s: %v (cost %d)\n", seg.Id, seg.Scope, seg.Members, seg.GetCost())
		}
	},
	GroupID: "ar",
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
