package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openskills/openskills/pkg/agent"
	"github.com/openskills/openskills/pkg/presenter"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive session where the agent selects skills for your
requests, loads their references progressively, and runs their scripts.

Session commands:
  /skills        list available skills
  /use <name>    activate a skill
  /drop          deactivate the current skill
  /reset         clear the conversation
  /exit          leave the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, pool := buildRegistry()

		catalog, err := reg.Discover(ctx)
		if err != nil {
			return err
		}
		presenter.Info(fmt.Sprintf("Discovered %d skills", len(catalog)))

		client, err := buildLLMClient()
		if err != nil {
			return err
		}

		if pool != nil {
			pool.Acquire()
			defer pool.Release(ctx)
			if viper.GetBool("sandbox.warmup") {
				if err := pool.Warmup(ctx); err != nil {
					presenter.Warning("sandbox warmup failed: " + err.Error())
				}
			}
		}

		a := agent.New(reg, client, agent.WithHooks(chatHooks{}))

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print(promptLabel(a))
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			if strings.HasPrefix(line, "/") {
				if done := handleCommand(cmd, a, line); done {
					return nil
				}
				continue
			}

			stream, err := a.ChatStream(ctx, line)
			if err != nil {
				presenter.Error(err, "chat failed")
				continue
			}
			for chunk := range stream {
				if chunk.Err != nil {
					presenter.Error(chunk.Err, "stream failed")
					break
				}
				fmt.Print(chunk.Content)
			}
			fmt.Println()
		}
	},
}

func promptLabel(a *agent.Agent) string {
	if skill := a.ActiveSkill(); skill != "" {
		return fmt.Sprintf("[%s] > ", skill)
	}
	return "> "
}

// handleCommand processes a /command line, returning true when the session
// should end.
func handleCommand(cmd *cobra.Command, a *agent.Agent, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/skills":
		listCmd.RunE(cmd, nil)
	case "/use":
		if len(fields) < 2 {
			presenter.Warning("usage: /use <skill>")
			return false
		}
		if err := a.SelectSkill(cmd.Context(), fields[1]); err != nil {
			presenter.Error(err, "failed to select skill")
			return false
		}
	case "/drop":
		a.DeselectSkill()
	case "/reset":
		a.Reset()
		presenter.Success("conversation cleared")
	default:
		presenter.Warning("unknown command: " + fields[0])
	}
	return false
}

// chatHooks narrates agent decisions during the session.
type chatHooks struct{}

func (chatHooks) OnSkillSelected(name string)   { presenter.Success("skill activated: " + name) }
func (chatHooks) OnSkillDeselected(name string) { presenter.Info("skill deactivated: " + name) }
func (chatHooks) OnReferenceLoaded(skill, path string) {
	presenter.Info("loaded reference: " + path)
}
func (chatHooks) OnScriptExecuted(skill, script string, err error) {
	if err != nil {
		presenter.Error(err, "script "+script)
		return
	}
	presenter.Success("script executed: " + script)
}
