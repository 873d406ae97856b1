package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/plugin/experiment"
	"github.com/hrygo/campaignpilot/plugin/ledger"
	"github.com/hrygo/campaignpilot/plugin/strategy"
	"github.com/hrygo/campaignpilot/server/finops"
	experimentrunner "github.com/hrygo/campaignpilot/server/runner/experiment"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSON decodes the file at path, or stdin when path is "-".
func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append an execution record read from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			var req ledger.AppendRequest
			if err := readJSON(cmd, file, &req); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				r, err := a.ledger.Append(cmd.Context(), &req)
				if err != nil {
					return err
				}
				a.analyzer.Invalidate(r.AgentID)
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded execution #%d for %s\n", r.ID, r.AgentID)
				return nil
			})
		},
	}
	cmd.Flags().StringP("file", "f", "-", `JSON file with the record, "-" for stdin`)
	return cmd
}

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [agent-id]",
		Short: "Show the health profile of an agent, or of the whole system",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetInt("window")
			return withApp(cmd.Context(), func(a *app) error {
				if window <= 0 {
					window = a.profile.MetricsWindowDays
				}
				if len(args) == 1 {
					p, err := a.analyzer.Profile(cmd.Context(), args[0], window)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), p)
				}
				analysis, err := a.analyzer.AnalyzeSystem(cmd.Context(), window)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), analysis)
			})
		},
	}
	cmd.Flags().Int("window", 0, "window in days (default: the configured metrics window)")
	return cmd
}

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate a campaign strategy from a JSON request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			var req strategy.Request
			if err := readJSON(cmd, file, &req); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				s, err := a.planner.Generate(cmd.Context(), &req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().StringP("file", "f", "-", `JSON file with the request, "-" for stdin`)
	return cmd
}

func newStrategyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect and manage stored strategies",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored strategies, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd.Context(), func(a *app) error {
				list, err := a.planner.List(cmd.Context(), strategy.Status(status), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	list.Flags().String("status", "", "only strategies in this status")
	list.Flags().Int("limit", 20, "maximum number of strategies")
	cmd.AddCommand(list)

	actions := []struct {
		use, short string
		run        func(p *strategy.Planner, ctx context.Context, id string) (*strategy.CampaignStrategy, error)
	}{
		{"get", "Show a strategy", (*strategy.Planner).Get},
		{"approve", "Approve a draft strategy", (*strategy.Planner).Approve},
		{"execute", "Start executing an approved strategy", (*strategy.Planner).Execute},
		{"complete", "Mark an executing strategy completed", (*strategy.Planner).Complete},
		{"cancel", "Cancel a strategy", (*strategy.Planner).Cancel},
		{"clone", "Copy a strategy into a new draft", (*strategy.Planner).Clone},
	}
	for _, action := range actions {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use + " <strategy-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app) error {
					s, err := action.run(a.planner, cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), s)
				})
			},
		})
	}
	return cmd
}

func newExperimentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Create and manage A/B experiments",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a draft experiment from a JSON request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			var req experiment.CreateRequest
			if err := readJSON(cmd, file, &req); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				exp, err := a.experiments.Create(cmd.Context(), &req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), exp)
			})
		},
	}
	create.Flags().StringP("file", "f", "-", `JSON file with the request, "-" for stdin`)
	cmd.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			campaign, _ := cmd.Flags().GetString("campaign")
			status, _ := cmd.Flags().GetString("status")
			return withApp(cmd.Context(), func(a *app) error {
				list, err := a.experiments.List(cmd.Context(), campaign, experiment.Status(status))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	list.Flags().String("campaign", "", "only experiments of this campaign")
	list.Flags().String("status", "", "only experiments in this status")
	cmd.AddCommand(list)

	update := &cobra.Command{
		Use:   "update <experiment-id> <variant-id>",
		Short: "Add observed counts to a variant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var delta experiment.Counts
			delta.Impressions, _ = cmd.Flags().GetInt64("impressions")
			delta.Opens, _ = cmd.Flags().GetInt64("opens")
			delta.Clicks, _ = cmd.Flags().GetInt64("clicks")
			delta.Conversions, _ = cmd.Flags().GetInt64("conversions")
			delta.Revenue, _ = cmd.Flags().GetFloat64("revenue")
			delta.Bounces, _ = cmd.Flags().GetInt64("bounces")
			return withApp(cmd.Context(), func(a *app) error {
				exp, err := a.experiments.UpdateMetrics(cmd.Context(), args[0], args[1], delta)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), exp)
			})
		},
	}
	update.Flags().Int64("impressions", 0, "impressions to add")
	update.Flags().Int64("opens", 0, "opens to add")
	update.Flags().Int64("clicks", 0, "clicks to add")
	update.Flags().Int64("conversions", 0, "conversions to add")
	update.Flags().Float64("revenue", 0, "revenue to add")
	update.Flags().Int64("bounces", 0, "bounces to add")
	cmd.AddCommand(update)

	actions := []struct {
		use, short string
		run        func(e *experiment.Engine, ctx context.Context, id string) (*experiment.Experiment, error)
	}{
		{"get", "Show an experiment", (*experiment.Engine).Get},
		{"start", "Start a draft experiment", (*experiment.Engine).Start},
		{"pause", "Pause a running experiment", (*experiment.Engine).Pause},
		{"resume", "Resume a paused experiment", (*experiment.Engine).Resume},
		{"complete", "Stop an experiment without a winner", (*experiment.Engine).Complete},
		{"declare", "Declare the winner of a conclusive experiment", (*experiment.Engine).DeclareWinner},
	}
	for _, action := range actions {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use + " <experiment-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app) error {
					exp, err := action.run(a.experiments, cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), exp)
				})
			},
		})
	}
	return cmd
}

func newPurgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete execution records older than the retention age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return withApp(cmd.Context(), func(a *app) error {
				if days <= 0 {
					days = a.profile.RetentionDays
				}
				n, err := a.ledger.Purge(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d execution records older than %d days\n", n, days)
				return nil
			})
		},
	}
	cmd.Flags().Int("days", 0, "retention age in days (default: the configured retention)")
	return cmd
}

func newCostReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost-report",
		Short: "Report agent spend over a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("period")
			period, err := finops.ParsePeriod(raw)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				report, err := a.costs.GetCostReport(cmd.Context(), period)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().String("period", "day", `reporting period, "day", "week" or "month"`)
	return cmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the experiment evaluator and the retention loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				shutdown, err := observability.SetupTracing(ctx, "campaignpilot", a.profile.OTelEndpoint)
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						slog.Warn("failed to flush traces", "error", err)
					}
				}()

				retention := ledger.NewRetention(a.ledger, ledger.RetentionConfig{
					RetentionDays: a.profile.RetentionDays,
					Interval:      a.profile.RetentionInterval,
				})
				runner := experimentrunner.NewRunner(a.experiments, a.profile.ExperimentTickEvery, slog.Default())
				retention.Start(ctx)
				runner.Start(ctx)

				slog.Info("campaignpilot running",
					"version", a.profile.Version,
					"mode", a.profile.Mode,
					"driver", a.profile.Driver,
					"tick", a.profile.ExperimentTickEvery.String(),
				)
				<-ctx.Done()

				runner.Stop()
				retention.Stop()
				snapshot := a.metrics.Snapshot()
				slog.Info("campaignpilot stopped",
					"records_appended", snapshot.RecordsAppended,
					"ticks", snapshot.Ticks,
					"winners_declared", snapshot.WinnersDeclared,
				)
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
