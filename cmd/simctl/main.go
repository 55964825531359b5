package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "simctl",
	Short: "Manage a running camera simulator",
	Long: `simctl drives the camera simulator's HTTP API to add and remove devices, inspect
image storage and talk to the Kafka topic directly for provisioning and retention.`,
	SilenceUsage: true,
}

var (
	flagServer    string
	flagRedisAddr string
	flagVerbose   bool

	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("SIMCTL_SERVER", "http://localhost:3000"), "Simulator base URL")
	rootCmd.PersistentFlags().StringVar(&flagRedisAddr, "redis", "", "Send device commands over the Redis command stream at this address instead of HTTP")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log progress to stderr")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if !flagVerbose {
			return nil
		}
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
		return nil
	}

	rootCmd.AddCommand(
		newDevicesCmd(),
		newHealthCmd(),
		newStorageCmd(),
		newTopicCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("simctl: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
