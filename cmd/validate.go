package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse a flow definition and build its graph without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadAgentConfig(cmd); err != nil {
			return err
		}
		flow, group, err := loadGroup(cmd)
		if err != nil {
			return err
		}

		sources := make([]string, 0)
		for _, n := range group.Sources() {
			sources = append(sources, n.Name())
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"valid":       true,
			"flow":        flow.Name,
			"processors":  len(group.Processors()),
			"connections": len(group.Connections()),
			"sources":     sources,
		})
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
