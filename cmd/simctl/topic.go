package main

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/internal/kafkabus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const topicTimeout = 30 * time.Second

func newTopicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Provision and inspect the events topic directly on Kafka",
		Long: `Topic commands talk to the brokers named by KAFKA_BROKERS (and the other KAFKA_*
settings, including a .env file) rather than to the simulator.`,
	}
	cmd.AddCommand(newTopicEnsureCmd(), newTopicInfoCmd(), newTopicRetentionCmd())
	return cmd
}

func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, admin *kafkabus.Admin, cfg *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), topicTimeout)
	defer cancel()
	return fn(ctx, kafkabus.NewAdmin(cfg.Kafka, logger), cfg)
}

func newTopicEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create the events topic if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, admin *kafkabus.Admin, cfg *config.Config) error {
				if err := admin.EnsureTopic(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Topic %s ready (%d partitions, retention %dms)\n",
					cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.RetentionMs)
				return nil
			})
		},
	}
}

func newTopicInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show partitions and retention of the events topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, admin *kafkabus.Admin, _ *config.Config) error {
				info, err := admin.TopicInfo(ctx)
				if err != nil {
					return err
				}
				return printJSON(info)
			})
		},
	}
}

func newTopicRetentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "retention <duration>",
		Short:   "Set retention.ms on the events topic",
		Example: "  simctl topic retention 1h\n  simctl topic retention 30m",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, err := kafkabus.ParseRetention(args[0])
			if err != nil {
				return err
			}
			return withAdmin(cmd, func(ctx context.Context, admin *kafkabus.Admin, cfg *config.Config) error {
				if err := admin.UpdateRetention(ctx, retention); err != nil {
					return err
				}
				logger.Info("Retention updated", zap.String("topic", cfg.Kafka.Topic), zap.Duration("retention", retention))
				fmt.Fprintf(cmd.OutOrStdout(), "Retention for %s set to %s\n", cfg.Kafka.Topic, retention)
				return nil
			})
		},
	}
}
