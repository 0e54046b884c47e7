package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/aramid/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a node configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			_ = cmd.Usage()
			return
		}
		name := args[0]
		err := state.NameValidator(name)
		if err != nil {
			fmt.Printf("Invalid name: %s\n", name)
			os.Exit(-1)
		}
		port, _ := cmd.Flags().GetUint16("port")

		nodeCfg := state.LocalCfg{
			Id:   state.NodeId(name),
			Port: port,
		}
		ncfg, err := yaml.Marshal(&nodeCfg)
		if err != nil {
			panic(err)
		}
		outPath := cmd.Flag("output").Value.String()
		err = os.WriteFile(outPath, ncfg, 0700)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Create a sample central configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := state.CentralCfg{
			Scopes: []state.ScopeCfg{
				{Id: "backbone", Backbone: true},
				{Id: "edge"},
			},
			Nodes: []state.NodeCfg{
				{Id: "alpha", Scopes: []state.ScopeId{"backbone"}},
				{Id: "bravo", Scopes: []state.ScopeId{"backbone", "edge"}},
				{Id: "carol", Scopes: []state.ScopeId{"edge"}},
			},
			Graph: []string{
				"alpha, bravo",
				"bravo, carol",
			},
		}
		out, err := yaml.Marshal(&cfg)
		if err != nil {
			panic(err)
		}
		outPath := cmd.Flag("output").Value.String()
		err = os.WriteFile(outPath, out, 0700)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(sampleCmd)
	newCmd.Flags().Uint16("port", state.DefaultPort, "UDP control port")
	newCmd.Flags().StringP("output", "o", "node.yaml", "Output path")
	sampleCmd.Flags().StringP("output", "o", "central.yaml", "Output path")
}
