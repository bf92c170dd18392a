package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/Trivenidigital/Vizora-sub012/internal/devicelink"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return app.Run(ctx)
		},
	}
}

func pairCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Request a pairing code and wait for an operator to complete it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			if app.DeviceInfo(cmd.Context()).Paired {
				fmt.Println("Display is already paired.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			code, err := app.RequestPairingCode(ctx)
			if err != nil {
				return fmt.Errorf("requesting pairing code: %w", err)
			}
			printPairingCode(code)

			cfg := app.Config()
			ticker := time.NewTicker(cfg.GetPairingPollInterval())
			defer ticker.Stop()
			for {
				st, err := app.CheckPairingStatus(ctx, code.Code)
				switch {
				case errors.Is(err, devicelink.ErrCodeGone):
					return fmt.Errorf("code %s expired, run pair again", code.Code)
				case err == nil && st.Status == pairing.StatusPaired:
					fmt.Printf("Paired as display %s (organization %s)\n", st.DisplayID, st.OrganizationID)
					return nil
				case err != nil && ctx.Err() == nil:
					fmt.Fprintf(os.Stderr, "status check failed: %v\n", err)
				}

				select {
				case <-ctx.Done():
					return fmt.Errorf("waiting for pairing: %w", ctx.Err())
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for completion")
	return cmd
}

func printPairingCode(code *pairing.CodeResponse) {
	fmt.Printf("Pairing code: %s (expires in %ds)\n", code.Code, code.ExpiresInSeconds)
	fmt.Printf("Complete pairing at: %s\n\n", code.PairingURL)

	if qr, err := qrcode.New(code.PairingURL, qrcode.Medium); err == nil {
		fmt.Println(qr.ToSmallString(false))
	}
}

func cacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the content cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return printJSON(app.CacheStats())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached items, least recently used first",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return printJSON(app.CacheEntries())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached item",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			before := app.CacheStats()
			app.CacheClear()
			fmt.Printf("Removed %d item(s), %.2f MB\n", before.ItemCount, before.TotalSizeMB)
			return nil
		},
	})
	return cmd
}

func identityCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the device identifier and platform details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return printJSON(app.DeviceInfo(cmd.Context()))
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
