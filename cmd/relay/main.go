// Command relay bridges the dashboard's verification requests to an operator terminal: it listens
// on the notification socket, prompts for the SMS code and submits it back to the API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salesops-relay/internal/config"
	"salesops-relay/internal/logging"
)

var logFile string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay SMS verification codes from the operator to the dashboard backend",
	Long: `relay keeps a socket open to the dashboard notification endpoint. When the backend asks
for a verification code it shows a six-digit prompt with a countdown; the completed code is
submitted to the dashboard API.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.AddCommand(listenCmd, submitCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads config and builds the logger. When logPath is set, logs go there.
func loadEnv(logPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	var logger *zap.Logger
	if logPath != "" {
		logger, err = logging.NewFile(cfg.LogLevel, cfg.Development(), logPath)
	} else {
		logger, err = logging.New(cfg.LogLevel, cfg.Development())
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
