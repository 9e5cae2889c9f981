// Package cli provides the command-line interface for fixhow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fixhow/fixhow/internal/config"
	"github.com/fixhow/fixhow/internal/service"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	cfgFile string
	verbose bool

	// Global config, loaded in PersistentPreRunE
	cfg config.Config

	logCleanup func() error

	// Lazy-initialized pipeline, shared by local commands
	bot *service.Chatbot
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fixhow",
	Short: "Repair-guidance chatbot over iFixit guides",
	Long: `Fixhow answers repair questions from a local knowledge base of
iFixit guides. Build the knowledge base with 'fixhow init', then ask
one-shot questions with 'fixhow ask' or hold a conversation with
'fixhow chat'.

Answers cite the guide passages they are based on.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		path := cfgFile
		if path == "" {
			path = os.Getenv("FIXHOW_CONFIG")
		}

		var err error
		cfg, err = config.LoadWithFile(path)
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)
		logCleanup = cleanup

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if bot != nil {
			if err := bot.Close(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close pipeline: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// getChatbot lazily builds the pipeline from the loaded configuration.
// Commands that only talk to a remote gateway never call it.
func getChatbot(ctx context.Context, progress func(service.Progress)) (*service.Chatbot, error) {
	if bot != nil {
		return bot, nil
	}

	var err error
	bot, err = service.Build(ctx, cfg, progress)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statsCmd)
}
