package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	awsRegion  string
)

var rootCmd = &cobra.Command{
	Use:   "chatflow",
	Short: "chatflow - conversational flow engine for WhatsApp chatbots",
	Long: `chatflow runs authored chatbot flows (messages, questions, branches,
webhooks, delays and human handoff) for every contact of a WhatsApp session.

The serve command exposes the engine to the messaging gateway over HTTP;
the validate command lints flow files before they are deployed.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&awsRegion, "aws-region", "", "AWS region used to resolve ssm: config values")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}
