package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openskills/openskills/pkg/presenter"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	Long:  `Scan the configured skill directories and list every valid skill with its description and triggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, _ := buildRegistry()

		catalog, err := reg.Discover(ctx)
		if err != nil {
			return err
		}

		if len(catalog) == 0 {
			presenter.Info("No skills found in: " + strings.Join(skillDirs(), ", "))
			return nil
		}

		presenter.Section(fmt.Sprintf("Skills (%d)", len(catalog)))
		for _, meta := range catalog {
			line := fmt.Sprintf("%-20s %s", meta.Name, meta.Description)
			if len(meta.Triggers) > 0 {
				line += "  [" + strings.Join(meta.Triggers, ", ") + "]"
			}
			presenter.Info(line)
		}
		return nil
	},
}
