// Package cmd provides the command-line interface for pixelwatch.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"pixelwatch/internal/app"
	"pixelwatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "pixelwatch",
	Short: "Pixelwatch flags pixel-related Jira tickets and learns from feedback",
	Long: `Pixelwatch polls a Jira project, flags tickets about advertising pixels with
keyword rules blended with a learned classifier, alerts a Slack channel, and
retrains the classifier from the feedback people give on those alerts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config.yaml (overrides CONFIG_PATH)")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(suggestCmd)
}

// loadConfig honours --config before reading the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path != "" {
		if err := os.Setenv("CONFIG_PATH", path); err != nil {
			return config.Config{}, err
		}
	}
	return config.LoadConfig()
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(commandContext(cmd), cfg)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
