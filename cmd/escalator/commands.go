package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"business-escalation/internal/domain"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okLabel   = color.New(color.FgGreen).Sprint
	warnLabel = color.New(color.FgYellow).Sprint
	failLabel = color.New(color.FgRed).Sprint
)

func sweepCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(load, cliLogger(), func(ctx context.Context, a *app) error {
				a.syncNodes(ctx)
				report, err := a.service.RunSweep(ctx)
				if report != nil {
					printReport(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
}

func statsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show escalation statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(load, cliLogger(), func(ctx context.Context, a *app) error {
				stats, err := a.service.GetStats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Tasks awaiting business contact: %d\n", stats.TasksAwaitingBusinessContact)
				fmt.Fprintf(out, "Active businesses:               %d\n", stats.BusinessesActive)
				fmt.Fprintf(out, "Average response time (hours):   %.2f\n", stats.AverageResponseTime)
				fmt.Fprintf(out, "Success rate:                    %.1f%%\n", stats.SuccessRate*100)
				return nil
			})
		},
	}
}

func resetLoadCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-load",
		Short: "Zero the current load of every active business",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(load, cliLogger(), func(ctx context.Context, a *app) error {
				n, err := a.service.ResetDailyLoad(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s load reset on %d businesses\n", okLabel("OK"), n)
				return nil
			})
		},
	}
}

func declineCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "decline <task-id>",
		Short: "Record that the assigned business declined a task",
		Long: `Record that the business assigned to a task declined it. The task becomes
eligible for the next sweep and the business's load is released.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(load, cliLogger(), func(ctx context.Context, a *app) error {
				task, err := a.service.DeclineTask(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s task %s is %s\n", okLabel("OK"), task.ID, task.State())
				return nil
			})
		},
	}
}

func finalizeCmd(load loadFunc) *cobra.Command {
	var info domain.VolunteerInfo

	cmd := &cobra.Command{
		Use:   "finalize <task-id>",
		Short: "Record the volunteer a business supplied for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(load, cliLogger(), func(ctx context.Context, a *app) error {
				task, err := a.service.FinalizeTask(ctx, args[0], info)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s task %s is %s with %s\n", okLabel("OK"), task.ID, task.State(), info.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&info.Name, "name", "", "volunteer name")
	cmd.Flags().StringVar(&info.Phone, "phone", "", "volunteer phone")
	cmd.Flags().StringVar(&info.Email, "email", "", "volunteer email")
	cmd.Flags().StringVar(&info.ETA, "eta", "", "expected arrival")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func printReport(w io.Writer, report *domain.SweepReport) {
	fmt.Fprintf(w, "Sweep %s (%s) took %s\n", report.ID, report.Trigger, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, res := range report.Results {
		switch {
		case res.Success:
			fmt.Fprintf(w, "  %s  %s -> %s\n", okLabel("CONTACTED"), res.TaskID, res.BusinessID)
		case res.Message == domain.MessageNoMatch:
			fmt.Fprintf(w, "  %s   %s\n", warnLabel("NO MATCH"), res.TaskID)
		default:
			fmt.Fprintf(w, "  %s     %s: %s\n", failLabel("FAILED"), res.TaskID, res.Message)
		}
	}
	fmt.Fprintf(w, "%d succeeded, %d failed\n", report.Succeeded, report.Failed)
	if report.Error != "" {
		fmt.Fprintf(w, "%s %s\n", failLabel("ERROR"), report.Error)
	}
}
