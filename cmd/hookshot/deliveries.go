package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shohag/hookshot/internal/delivery"
)

func dispatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <event_type> [payload]",
		Short: "Dispatch an event to every subscribed endpoint",
		Long:  "Dispatch an event. The JSON payload is read from the second argument, or from stdin when omitted.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			} else {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				payload = b
			}

			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := delivery.NewService(rt.cfg.Delivery, rt.store, rt.queue, rt.log)
			created, err := svc.Dispatcher.Dispatch(cmd.Context(), args[0], payload)
			if err != nil && len(created) == 0 {
				return fmt.Errorf("dispatch failed: %w", err)
			}
			if err != nil {
				rt.log.Error().Err(err).Msg("some deliveries could not be created")
			}

			if len(created) == 0 {
				fmt.Println("No endpoints subscribed.")
				return nil
			}
			for _, d := range created {
				fmt.Printf("  %s  -> %s\n", d.ID, d.EndpointID)
			}
			return nil
		},
	}
}

func deliveriesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Inspect deliveries",
	}

	// deliveries list
	listCmd := &cobra.Command{
		Use:   "list <endpoint_id>",
		Short: "List recent deliveries for an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			deliveries, err := rt.store.ListDeliveriesByEndpoint(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list deliveries: %w", err)
			}

			if len(deliveries) == 0 {
				fmt.Println("No deliveries found.")
				return nil
			}
			for _, d := range deliveries {
				fmt.Printf("  %s  %-9s  attempts=%d  %s  (created %s)\n",
					d.ID, d.State(), d.Attempts, d.EventType, d.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().Int("limit", 50, "max deliveries to show")
	listCmd.Flags().Int("offset", 0, "deliveries to skip")

	// deliveries get
	getCmd := &cobra.Command{
		Use:   "get <delivery_id>",
		Short: "Show a delivery and its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.store.GetDelivery(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get delivery: %w", err)
			}
			if d == nil {
				return fmt.Errorf("delivery %s not found", args[0])
			}
			if err := printJSON(d); err != nil {
				return err
			}

			attempts, err := rt.store.GetAttemptsByDelivery(cmd.Context(), d.ID)
			if err != nil {
				return fmt.Errorf("failed to get attempts: %w", err)
			}
			for _, a := range attempts {
				detail := a.Error
				if detail == "" {
					detail = a.ResponseBody
				}
				fmt.Printf("  #%d  %s  status=%d  %dms  %s\n",
					a.AttemptNumber, a.CreatedAt.Format(time.RFC3339), a.StatusCode, a.LatencyMs, detail)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, getCmd)
	return cmd
}

func requeueCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Re-enqueue due deliveries into the configured queue",
		Long: "Re-enqueue every pending delivery whose next attempt is due within the horizon. " +
			"Use after the Redis queue lost data; with the store-backed queue the rows already are the queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			horizon, _ := cmd.Flags().GetDuration("horizon")
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			due, err := rt.store.DueForExecution(cmd.Context(), time.Now().UTC().Add(horizon), limit)
			if err != nil {
				return fmt.Errorf("failed to load due deliveries: %w", err)
			}

			requeued := 0
			for _, d := range due {
				if err := rt.queue.Enqueue(cmd.Context(), d.ID, d.NextRetryAt); err != nil {
					rt.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to requeue delivery")
					continue
				}
				requeued++
			}

			fmt.Printf("requeued %d of %d deliveries\n", requeued, len(due))
			return nil
		},
	}
	cmd.Flags().Duration("horizon", 0, "also requeue deliveries due within this long from now")
	cmd.Flags().Int("limit", 10000, "max deliveries to requeue")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery and endpoint health stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.store.GetStats(cmd.Context(), rt.cfg.Delivery.FailureCeiling)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return printJSON(stats)
		},
	}
}
