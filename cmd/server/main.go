package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "neurongateway",
	Short: "NeuronGateway - real-time chat gateway",
	Long: `NeuronGateway accepts websocket sessions on /ws/{user_id}, forwards each message to the
configured message handler and streams the replies back.

Examples:
  # Run the gateway (default command)
  neurongateway serve

  # Issue an API key for a user
  neurongateway generate-key --user alice --name ci

  # Issue a session token for a user
  neurongateway issue-session --user alice --ttl 1h
`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "YAML config file (overridden by environment)")
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateKeyCmd)
	rootCmd.AddCommand(issueSessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
