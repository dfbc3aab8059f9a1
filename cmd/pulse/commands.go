/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pulsehttp "github.com/lgomeza/jira-slack-pm/internal/http"
	"github.com/lgomeza/jira-slack-pm/internal/services"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulse",
		Short:         "Weekly engineering reports from Jira to Slack or Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newReportCmd(), newIngestCmd(), newProvisionCmd(), newServeCmd())
	return root
}

func newReportCmd() *cobra.Command {
	var week int
	cmd := &cobra.Command{
		Use:   "report <" + strings.Join(services.ReportKinds, "|") + ">",
		Short: "Compute one report and deliver it",
		Long: `Compute one report kind from the warehouse and deliver it.

Per-recipient delivery failures are logged and do not change the exit code.
Re-running sends again: there is no cross-run deduplication.

Examples:
  pulse report squads
  pulse report stale --week 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if err := services.ValidateReport(kind, week); err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RunTimeout)
			defer cancel()
			res, err := a.svc.RunReport(ctx, kind, week)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s kind=%s delivered=%d skipped=%d failed=%d\n",
				res.RunID, res.Kind, res.Summary.Delivered(), res.Summary.Skipped(), res.Summary.Failed())
			return nil
		},
	}
	cmd.Flags().IntVar(&week, "week", 1, "sprint week checked by the stale report (1 or 2)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <" + strings.Join(services.IngestTargets, "|") + ">",
		Short: "Append a snapshot of tracker data to the warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if !slices.Contains(services.IngestTargets, target) {
				return fmt.Errorf("%w: ingest %q", services.ErrUnknownKind, target)
			}
			a, err := bootstrap(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RunTimeout)
			defer cancel()
			res, err := a.svc.Ingest(ctx, target)
			if err != nil {
				return err
			}
			c := res.Counts
			fmt.Fprintf(cmd.OutOrStdout(), "run %s kind=%s fetched=%d appended=%d skipped=%d rejected=%d\n",
				res.RunID, res.Kind, c.Fetched, c.Appended, c.Skipped, c.Rejected)
			return nil
		},
	}
}

func newProvisionCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create warehouse tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.repo.Provision(cmd.Context(), reset); err != nil {
				return fmt.Errorf("%w: provision: %v", services.ErrSetup, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "warehouse provisioned")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "drop ingested tables first (aggregates are kept)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			h := pulsehttp.NewHandlers(a.cfg, a.log, a.svc)
			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           pulsehttp.NewRouter(a.cfg, a.log, h),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("http: listening")

			select {
			case <-cmd.Context().Done():
				a.log.Info().Msg("shutting down...")
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.log.Error().Err(err).Msg("http: shutdown")
			}
			// Detached runs hold their own timeout; let them finish.
			h.Wait()
			return nil
		},
	}
}
