package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openskills/openskills/pkg/presenter"
)

var runInput string

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "Input passed to the script on stdin (reads piped stdin when omitted)")
}

var runCmd = &cobra.Command{
	Use:   "run <skill> <script> [args...]",
	Short: "Run a skill script",
	Long:  `Run a script of a skill locally or, with --sandbox, in the remote sandbox. Extra arguments are passed to the script.`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, pool := buildRegistry()

		if _, err := reg.Discover(ctx); err != nil {
			return err
		}

		if pool != nil {
			pool.Acquire()
			defer pool.Release(ctx)
		}

		input := runInput
		if input == "" {
			if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				input = string(data)
			}
		}

		output, err := reg.ExecuteScript(ctx, args[0], args[1], input, args[2:])
		if err != nil {
			presenter.Error(err, "script execution failed")
			os.Exit(1)
		}

		fmt.Print(output)
		return nil
	},
}
