package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/internal/redis"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// deviceCommander adds and removes devices by whichever channel the user picked
type deviceCommander interface {
	AddDevice(ctx context.Context, id string) error
	RemoveDevice(ctx context.Context, id string) error
}

type httpCommander struct {
	api *apiClient
}

func (c *httpCommander) AddDevice(ctx context.Context, id string) error {
	return c.api.do(ctx, http.MethodPost, "/api/devices", map[string]string{"deviceId": id}, nil)
}

func (c *httpCommander) RemoveDevice(ctx context.Context, id string) error {
	return c.api.do(ctx, http.MethodDelete, "/api/devices/"+url.PathEscape(id), nil, nil)
}

type redisCommander struct {
	client *redis.Client
}

func (c *redisCommander) AddDevice(ctx context.Context, id string) error {
	_, err := c.client.EnqueueCommand(ctx, models.AddDevice(id))
	return err
}

func (c *redisCommander) RemoveDevice(ctx context.Context, id string) error {
	_, err := c.client.EnqueueCommand(ctx, models.RemoveDevice(id))
	return err
}

// commander returns the command channel and a func releasing it
func commander(ctx context.Context) (deviceCommander, func(), error) {
	if flagRedisAddr == "" {
		return &httpCommander{api: newAPIClient(flagServer)}, func() {}, nil
	}

	client, err := redis.NewClient(ctx, config.RedisConfig{
		Addr:          flagRedisAddr,
		ConsumerGroup: envOr("REDIS_CONSUMER_GROUP", "camera-sim"),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return &redisCommander{client: client}, func() { client.Close() }, nil
}

type deviceList struct {
	Devices   []string `json:"devices"`
	Count     int      `json:"count"`
	Timestamp string   `json:"timestamp"`
}

func newDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Add, remove and inspect simulated devices",
	}
	cmd.AddCommand(
		newDevicesAddCmd(),
		newDevicesRemoveCmd(),
		newDevicesRemoveAllCmd(),
		newDevicesListCmd(),
		newDevicesStatusCmd(),
	)
	return cmd
}

func newDevicesAddCmd() *cobra.Command {
	var (
		flagPattern string
		flagStart   int
		flagDelay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add <count>",
		Short: "Add <count> devices named by a pattern",
		Long: `Add <count> devices. Patterns: sequential (CAM-001), zone (ZONE-1-CAM-01) and
floor (FLOOR-1-CAM-001). Devices that already exist are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count < 1 {
				return fmt.Errorf("count must be a positive integer, got %q", args[0])
			}

			ctx := cmd.Context()
			c, release, err := commander(ctx)
			if err != nil {
				return err
			}
			defer release()

			ids := make([]string, 0, count)
			for i := flagStart; i < flagStart+count; i++ {
				ids = append(ids, models.PatternDeviceID(flagPattern, i))
			}
			added := applyAll(ctx, ids, c.AddDevice, flagDelay)

			fmt.Fprintf(cmd.OutOrStdout(), "Added %d/%d devices\n", added, count)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagPattern, "pattern", models.PatternSequential, "Naming pattern: sequential, zone or floor")
	cmd.Flags().IntVar(&flagStart, "start", 1, "Index of the first generated device")
	cmd.Flags().DurationVar(&flagDelay, "delay", 100*time.Millisecond, "Pause between requests")
	return cmd
}

func newDevicesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <deviceId>...",
		Short: "Remove one or more devices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, release, err := commander(ctx)
			if err != nil {
				return err
			}
			defer release()

			removed := applyAll(ctx, args, c.RemoveDevice, 0)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d/%d devices\n", removed, len(args))
			return nil
		},
	}
}

func newDevicesRemoveAllCmd() *cobra.Command {
	var flagDelay time.Duration

	cmd := &cobra.Command{
		Use:   "remove-all",
		Short: "Remove every registered device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var list deviceList
			if err := newAPIClient(flagServer).do(ctx, http.MethodGet, "/api/devices", nil, &list); err != nil {
				return err
			}
			if len(list.Devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices to remove")
				return nil
			}

			c, release, err := commander(ctx)
			if err != nil {
				return err
			}
			defer release()

			removed := applyAll(ctx, list.Devices, c.RemoveDevice, flagDelay)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d/%d devices\n", removed, len(list.Devices))
			return nil
		},
	}

	cmd.Flags().DurationVar(&flagDelay, "delay", 50*time.Millisecond, "Pause between requests")
	return cmd
}

func newDevicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list deviceList
			if err := newAPIClient(flagServer).do(cmd.Context(), http.MethodGet, "/api/devices", nil, &list); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d devices\n", list.Count)
			for _, id := range list.Devices {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}
}

func newDevicesStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <deviceId>",
		Short: "Show per-device counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]interface{}
			path := "/api/devices/" + url.PathEscape(args[0]) + "/status"
			if err := newAPIClient(flagServer).do(cmd.Context(), http.MethodGet, path, nil, &status); err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check simulator health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var health map[string]interface{}
			if err := newAPIClient(flagServer).do(cmd.Context(), http.MethodGet, "/api/health", nil, &health); err != nil {
				return err
			}
			return printJSON(health)
		},
	}
}

// applyAll runs fn for every id, logging failures, and returns the success count
func applyAll(ctx context.Context, ids []string, fn func(context.Context, string) error, delay time.Duration) int {
	ok := 0
	for i, id := range ids {
		if err := fn(ctx, id); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Code != "" {
				logger.Warn("Device command rejected", zap.String("device_id", id), zap.String("code", apiErr.Code))
			} else {
				logger.Error("Device command failed", zap.String("device_id", id), zap.Error(err))
			}
			continue
		}
		logger.Debug("Device command applied", zap.String("device_id", id))
		ok++

		if delay > 0 && i < len(ids)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ok
			}
		}
	}
	return ok
}
