package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shohag/hookshot/internal/models"
)

func endpointCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage webhook endpoints",
	}

	// endpoint create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			flags := cmd.Flags()
			url, _ := flags.GetString("url")
			description, _ := flags.GetString("description")
			secret, _ := flags.GetString("secret")
			events, _ := flags.GetStringSlice("events")
			rateLimit, _ := flags.GetInt("rate-limit")
			headers, _ := flags.GetStringToString("header")

			policy := rt.cfg.Delivery.DefaultRetryPolicy
			if flags.Changed("max-attempts") {
				policy.MaxAttempts, _ = flags.GetInt("max-attempts")
			}
			if flags.Changed("initial-delay") {
				policy.InitialDelaySeconds, _ = flags.GetInt("initial-delay")
			}
			if flags.Changed("multiplier") {
				policy.BackoffMultiplier, _ = flags.GetFloat64("multiplier")
			}
			if flags.Changed("max-delay") {
				policy.MaxDelaySeconds, _ = flags.GetInt("max-delay")
			}

			if secret == "" {
				secret = models.NewSecret()
			}

			now := time.Now().UTC()
			ep := &models.Endpoint{
				ID:          models.NewID("ep"),
				URL:         url,
				Description: description,
				Secret:      secret,
				Events:      models.EventFilter(events),
				RetryPolicy: policy,
				RateLimit:   rateLimit,
				Headers:     headers,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if ep.Events == nil {
				ep.Events = models.EventFilter{}
			}
			if err := ep.Validate(); err != nil {
				return fmt.Errorf("invalid endpoint: %w", err)
			}

			if err := rt.store.CreateEndpoint(cmd.Context(), ep); err != nil {
				return fmt.Errorf("failed to create endpoint: %w", err)
			}

			return printJSON(ep)
		},
	}
	createCmd.Flags().String("url", "", "destination URL")
	createCmd.Flags().String("description", "", "free-form description")
	createCmd.Flags().String("secret", "", "signing secret (generated when empty)")
	createCmd.Flags().StringSlice("events", nil, `event types to subscribe to ("*" for all, "prefix.*" for a family)`)
	createCmd.Flags().Int("rate-limit", 0, "max deliveries per second (0 = unlimited)")
	createCmd.Flags().StringToString("header", nil, "extra header sent with every delivery (key=value)")
	createCmd.Flags().Int("max-attempts", 0, "override the default max attempts")
	createCmd.Flags().Int("initial-delay", 0, "override the default initial retry delay in seconds")
	createCmd.Flags().Float64("multiplier", 0, "override the default backoff multiplier")
	createCmd.Flags().Int("max-delay", 0, "override the default max retry delay in seconds")
	_ = createCmd.MarkFlagRequired("url")

	// endpoint list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			eps, err := rt.store.ListEndpoints(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list endpoints: %w", err)
			}

			if len(eps) == 0 {
				fmt.Println("No endpoints found.")
				return nil
			}

			ceiling := rt.cfg.Delivery.FailureCeiling
			for _, ep := range eps {
				state := "active"
				if !ep.Active {
					state = "inactive"
				} else if !ep.Healthy(ceiling) {
					state = "unhealthy"
				}
				fmt.Printf("  %s  %-9s  failures=%d  %s  %v\n", ep.ID, state, ep.FailureCount, ep.URL, []string(ep.Events))
			}
			return nil
		},
	}

	// endpoint get
	getCmd := &cobra.Command{
		Use:   "get <endpoint_id>",
		Short: "Show one endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ep, err := rt.store.GetEndpoint(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get endpoint: %w", err)
			}
			if ep == nil {
				return fmt.Errorf("endpoint %s not found", args[0])
			}
			ep.Secret = ""
			return printJSON(ep)
		},
	}

	// endpoint toggle
	toggleCmd := &cobra.Command{
		Use:   "toggle <endpoint_id>",
		Short: "Activate or deactivate an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ep, err := rt.store.GetEndpoint(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get endpoint: %w", err)
			}
			if ep == nil {
				return fmt.Errorf("endpoint %s not found", args[0])
			}

			if err := rt.store.ToggleEndpoint(cmd.Context(), ep.ID, !ep.Active); err != nil {
				return fmt.Errorf("failed to toggle endpoint: %w", err)
			}
			fmt.Printf("endpoint %s active=%t\n", ep.ID, !ep.Active)
			return nil
		},
	}

	// endpoint delete
	deleteCmd := &cobra.Command{
		Use:   "delete <endpoint_id>",
		Short: "Delete an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.store.DeleteEndpoint(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete endpoint: %w", err)
			}
			fmt.Printf("endpoint %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, toggleCmd, deleteCmd)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
