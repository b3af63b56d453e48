package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowsmith-ai/flowsmith/internal/config"
	"github.com/flowsmith-ai/flowsmith/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "flowsmith",
	Short: "Conversation-driven workflow deployment orchestrator",
	Long: `flowsmith turns a dialogue about an automation into a deployed
workflow. It gathers requirements over a conversation, designs a
workflow definition, claims an isolation slot for the tenant, and
submits the definition to the workflow engine with classified error
handling and bounded retry.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .flowsmith/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (auto, text, json); overrides config")
}

// loadConfig reads and validates the configuration, applying any
// command-line overrides. Returns the config and the file it came
// from, which may be empty when only defaults and env vars apply.
func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, "", err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, loader.ConfigFileUsed(), nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
}
