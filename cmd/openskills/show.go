package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openskills/openskills/pkg/presenter"
)

var showInstruction bool

func init() {
	showCmd.Flags().BoolVar(&showInstruction, "instruction", false, "Include the full instruction body")
}

var showCmd = &cobra.Command{
	Use:   "show <skill>",
	Short: "Show the details of a skill",
	Long:  `Show a skill's metadata, references, and scripts. With --instruction the full instruction body is printed as well.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, _ := buildRegistry()

		if _, err := reg.Discover(ctx); err != nil {
			return err
		}

		skill, err := reg.GetSkill(args[0])
		if err != nil {
			return err
		}

		type refView struct {
			Path      string `yaml:"path"`
			Mode      string `yaml:"mode"`
			Condition string `yaml:"condition,omitempty"`
		}
		type scriptView struct {
			Name    string   `yaml:"name"`
			Path    string   `yaml:"path"`
			Timeout int      `yaml:"timeout"`
			Outputs []string `yaml:"outputs,omitempty"`
		}

		view := struct {
			Name        string       `yaml:"name"`
			Description string       `yaml:"description"`
			Version     string       `yaml:"version,omitempty"`
			Triggers    []string     `yaml:"triggers,omitempty"`
			Tags        []string     `yaml:"tags,omitempty"`
			References  []refView    `yaml:"references,omitempty"`
			Scripts     []scriptView `yaml:"scripts,omitempty"`
			Source      string       `yaml:"source"`
		}{
			Name:        skill.Name(),
			Description: skill.Description(),
			Version:     skill.Metadata.Version,
			Triggers:    skill.Metadata.Triggers,
			Tags:        skill.Metadata.Tags,
			Source:      skill.SourcePath,
		}
		for _, ref := range skill.Resources.References {
			view.References = append(view.References, refView{
				Path: ref.Path, Mode: string(ref.Mode), Condition: ref.Condition,
			})
		}
		for _, script := range skill.Resources.Scripts {
			view.Scripts = append(view.Scripts, scriptView{
				Name: script.Name, Path: script.Path, Timeout: script.Timeout, Outputs: script.Outputs,
			})
		}

		out, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		if showInstruction {
			instruction, err := reg.LoadInstruction(ctx, skill.Name())
			if err != nil {
				return err
			}
			presenter.Separator()
			fmt.Println(instruction.Content)
		}
		return nil
	},
}
