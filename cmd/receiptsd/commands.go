package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifedash/receiptsd"
	"github.com/lifedash/receiptsd/internal/logger"
	"github.com/lifedash/receiptsd/internal/server"
	"github.com/lifedash/receiptsd/internal/worker"
)

// buildRoot creates the root command and all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	ackFlags := &AckFlags{}
	runsFlags := &RunsFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createRunCommand(globalFlags, runFlags),
		createBadgesCommand(globalFlags),
		createAckCommand(globalFlags, ackFlags),
		createRunsCommand(globalFlags, runsFlags),
		createInboxCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "receiptsd",
		Short: "Receipts worker orchestration backend",
		Long: `Receiptsd launches the batch receipt-processing worker, streams its
output live, and tracks per-store unread failure/warning badges derived
from the worker's run reports.

Examples:
  receiptsd run --stores=lidl,kaufland
  receiptsd badges
  receiptsd ack --store=lidl
  receiptsd serve                  # Start the dashboard API daemon`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// newApp loads config and constructs the application.
func newApp(flags *GlobalFlags) (*receiptsd.App, error) {
	cfg, err := receiptsd.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level)
	return receiptsd.New(cfg)
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			cfg := app.Config()
			listen := cfg.Server.Listen
			if serveFlags.Listen != "" {
				listen = serveFlags.Listen
			}
			basePath := cfg.Server.BasePath
			if serveFlags.BasePath != "" {
				basePath = serveFlags.BasePath
			}

			srv, err := server.NewServer(listen, basePath, app)
			if err != nil {
				return err
			}
			fmt.Printf("receiptsd listening on %s%s\n", listen, basePath)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the receipts worker and stream its output",
		Long: `Run the receipts worker for the given store selection, printing each
output line as it arrives, then print the aggregate result as JSON.
An empty selection processes all stores.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			sub := func(ev receiptsd.StreamEvent) {
				if ev.Stream == worker.StreamStderr && !runFlags.MergeStderr {
					_, _ = fmt.Fprintln(os.Stderr, ev.Line)
					return
				}
				fmt.Println(ev.Line)
			}
			res, err := app.RunWorker(runFlags.Stores, runFlags.Mode, sub)
			if err != nil {
				return err
			}
			return printJSON(resultSummary(res))
		},
	}
	cmd.Flags().StringSliceVar(&runFlags.Stores, "stores", nil, "store ids to process (empty = all)")
	cmd.Flags().StringVar(&runFlags.Mode, "mode", "", "run mode hint (currently unused)")
	cmd.Flags().BoolVar(&runFlags.MergeStderr, "merge-stderr", false, "print stderr lines on stdout")
	return cmd
}

// resultSummary strips the accumulated output from the printed result; the
// lines were already streamed.
func resultSummary(res receiptsd.WorkerResult) map[string]any {
	return map[string]any{
		"status":    res.Status,
		"exit_code": res.ExitCode,
	}
}

func createBadgesCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "badges",
		Short: "Show per-store unread issue badges",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return printJSON(app.Badges())
		},
	}
}

func createAckCommand(globalFlags *GlobalFlags, ackFlags *AckFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a store's current issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			if err := app.MarkSeen(ackFlags.StoreID); err != nil {
				return err
			}
			return printJSON(app.Badges())
		},
	}
	cmd.Flags().StringVar(&ackFlags.StoreID, "store", "", "store id (required)")
	if err := cmd.MarkFlagRequired("store"); err != nil {
		panic(err)
	}
	return cmd
}

func createRunsCommand(globalFlags *GlobalFlags, runsFlags *RunsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the most recent worker run reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return printJSON(app.LastRuns(runsFlags.Limit))
		},
	}
	cmd.Flags().IntVar(&runsFlags.Limit, "limit", 5, "number of reports to show")
	return cmd
}

func createInboxCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Show pending receipt counts per store",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return printJSON(app.InboxCounts())
		},
	}
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
