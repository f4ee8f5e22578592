// Package main provides the tagloop CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/richinex/tagloop/cli"
	"github.com/richinex/tagloop/config"
	"github.com/richinex/tagloop/internal/logging"
	"github.com/richinex/tagloop/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string
	project    string
	source     string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "tagloop",
		Short: "Terminal coding assistant driven by inline tool tags",
		Long: `A terminal chat loop in which the model acts by writing tags such as
<write>, <edit>, <run>, <test>, <search> and <fetch> into its reply.

Each reply is scanned for tags, the tools run against the project's code
space, and their output is fed back to the model. <wait> and <end> hand
control back to the user. Slash commands (/help) manage sources, prompts,
tools and the cache.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./tagloop.yaml or ~/.config/tagloop/tagloop.yaml)")
	rootCmd.PersistentFlags().StringVarP(&project, "project", "p", "", "Project name (default projects.default)")
	rootCmd.PersistentFlags().StringVarP(&source, "source", "s", "", "AI source for this run (deepseek, ollama, siliconflow, openai, anthropic, gemini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(promptsCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSettings() (*config.Settings, *zap.Logger, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := settings.Logging.Level
	if verbose {
		level = "debug"
	}
	return settings, logging.MustNewLogger(level, settings.Logging.Format), nil
}

func chatCmd() *cobra.Command {
	var sessionName string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := loadSettings()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			metrics := observability.NewMetrics()
			go func() {
				if err := metrics.Serve(ctx, settings.Metrics.Addr, logger); err != nil {
					logger.Warn("metrics listener stopped", zap.Error(err))
				}
			}()

			return cli.Chat(ctx, settings, cli.Options{
				Project: project,
				Source:  source,
				Session: sessionName,
				Logger:  logger,
				Metrics: metrics,
			})
		},
	}

	cmd.Flags().StringVar(&sessionName, "session", "", "Resume a saved session")

	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, show or delete saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			return cli.ListSessions(cmd.Context(), settings, project, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Print the transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			return cli.ShowSession(cmd.Context(), settings, project, args[0], os.Stdout)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			return cli.DeleteSession(cmd.Context(), settings, project, args[0], cmd.OutOrStdout())
		},
	})

	return cmd
}

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			return cli.ListProjects(settings, cmd.OutOrStdout())
		},
	}
}

func promptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List the head prompts of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			return cli.ListPrompts(settings, project, cmd.OutOrStdout())
		},
	}
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			return cli.ListTools(settings, project, verboseTools, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool documentation")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tagloop "+version)
		},
	}
}
