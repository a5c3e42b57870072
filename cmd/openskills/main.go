// Command openskills is the CLI for the skill framework: it lists and
// inspects skills, runs their scripts locally or in a sandbox, and hosts an
// interactive chat session driven by the agent.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openskills/openskills/pkg/executor"
	"github.com/openskills/openskills/pkg/llm"
	"github.com/openskills/openskills/pkg/logger"
	"github.com/openskills/openskills/pkg/presenter"
	"github.com/openskills/openskills/pkg/registry"
	"github.com/openskills/openskills/pkg/sandbox"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("OPENSKILLS")
	viper.AutomaticEnv()

	// .env support for local development
	_ = godotenv.Load()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.openskills")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("sandbox.strategy", string(sandbox.PerSkill))
	viper.SetDefault("sandbox.cache_size", sandbox.DefaultCacheSize)
}

var rootCmd = &cobra.Command{
	Use:   "openskills",
	Short: "OpenSkills CLI for managing and running agent skills",
	Long:  `OpenSkills discovers skill packages, loads them progressively, and lets an LLM agent use their references and scripts.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			presenter.Warning(fmt.Sprintf("invalid log level: %s", viper.GetString("log_level")))
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		presenter.SetQuiet(viper.GetBool("quiet"))
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

// skillDirs resolves the skill roots from config, defaulting to ./skills
// and ~/.openskills/skills.
func skillDirs() []string {
	if dirs := viper.GetStringSlice("skill_dirs"); len(dirs) > 0 {
		return dirs
	}

	dirs := []string{"skills"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".openskills", "skills"))
	}
	return dirs
}

// buildRegistry assembles the registry from config. The returned manager is
// nil unless sandbox mode is enabled.
func buildRegistry() (*registry.Registry, *sandbox.Manager) {
	opts := []registry.Option{
		registry.WithRoots(skillDirs()...),
		registry.WithLocalExecutor(executor.New()),
	}

	var pool *sandbox.Manager
	if viper.GetBool("sandbox.enabled") {
		pool = sandbox.NewManager(
			viper.GetString("sandbox.url"),
			&cliEvents{},
			sandbox.WithStrategy(sandbox.Strategy(viper.GetString("sandbox.strategy"))),
			sandbox.WithCacheSize(viper.GetInt("sandbox.cache_size")),
		)
		opts = append(opts, registry.WithSandbox(pool))
	}

	return registry.New(opts...), pool
}

// buildLLMClient constructs the completion client from config. The API key
// falls back to OPENAI_API_KEY for drop-in compatibility.
func buildLLMClient() (llm.Client, error) {
	apiKey := viper.GetString("llm.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return llm.NewOpenAIClient(llm.Config{
		APIKey:  apiKey,
		BaseURL: viper.GetString("llm.base_url"),
		Model:   viper.GetString("llm.model"),
	})
}

// cliEvents surfaces sandbox lifecycle progress through the presenter.
type cliEvents struct{}

func (cliEvents) Initializing() { presenter.Info("Initializing sandbox...") }
func (cliEvents) Authenticating(session string) {
	presenter.Info("Starting sandbox session " + session)
}
func (cliEvents) ResourceAllocated(workspace string) {
	presenter.Info("Sandbox workspace ready at " + workspace)
}
func (cliEvents) Ready() { presenter.Success("Sandbox environment ready") }
func (cliEvents) InstallingDependencies(packages []string) {
	presenter.Info(fmt.Sprintf("Installing %d packages...", len(packages)))
}
func (cliEvents) ScriptStarted(name string) { presenter.Info("Running " + name + "...") }
func (cliEvents) ScriptCompleted(name string, err error) {
	if err != nil {
		presenter.Error(err, name)
		return
	}
	presenter.Success(name + " completed")
}
func (cliEvents) Progress(message string) { presenter.Info(message) }

func main() {
	rootCmd.PersistentFlags().StringSlice("skill-dirs", nil, "Directories to scan for skills")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().Bool("quiet", false, "Suppress informational output")
	rootCmd.PersistentFlags().Bool("sandbox", false, "Execute scripts in a remote sandbox")
	rootCmd.PersistentFlags().String("sandbox-url", "", "Sandbox service base URL")
	rootCmd.PersistentFlags().String("model", "", "LLM model to use (overrides config)")

	viper.BindPFlag("skill_dirs", rootCmd.PersistentFlags().Lookup("skill-dirs"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("sandbox.enabled", rootCmd.PersistentFlags().Lookup("sandbox"))
	viper.BindPFlag("sandbox.url", rootCmd.PersistentFlags().Lookup("sandbox-url"))
	viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
