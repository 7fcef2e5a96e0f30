package cli

import (
	"strconv"
	"time"

	"github.com/makar21/core-sub000/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	taskSpec      sdk.TaskSpec
	monitorPeriod time.Duration
	psdk          sdk.SDK
)

func SetSDK(s sdk.SDK) {
	psdk = s
}

func NewTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [add|view|list|status|cancel|stop|issue|deposit|monitor]",
		Short: "Tasks management",
		Long:  `Declare, inspect, fund and control training tasks.`,
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add task",
		Long: `Declare a new training task.

Examples:
  # Declare a task over a published dataset and model
  core-cli tasks add --dataset <dataset-id> --model <model-id> --batch-size 32 --epochs 8 --workers 2`,
		Run: func(cmd *cobra.Command, _ []string) {
			t, err := psdk.AddTask(taskSpec)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, t)
		},
	}

	addCmd.Flags().StringVar(&taskSpec.DatasetID, "dataset", "", "Dataset record id")
	addCmd.Flags().StringVar(&taskSpec.TrainModelID, "model", "", "Train model record id")
	addCmd.Flags().StringVar(&taskSpec.WeightsHash, "weights", "", "Initial weights object hash (optional)")
	addCmd.Flags().IntVar(&taskSpec.BatchSize, "batch-size", 32, "Training batch size")
	addCmd.Flags().IntVar(&taskSpec.Epochs, "epochs", 1, "Total epochs to train")
	addCmd.Flags().IntVar(&taskSpec.EpochsInIteration, "epochs-in-iteration", 1, "Epochs per verified iteration")
	addCmd.Flags().IntVar(&taskSpec.WorkersRequested, "workers", 1, "Workers to train in parallel")
	addCmd.Flags().IntVar(&taskSpec.VerifiersRequested, "verifiers", 1, "Verifiers per iteration")
	addCmd.Flags().IntVar(&taskSpec.EstimatorsRequested, "estimators", 1, "Estimators for the cost estimate")

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View task",
		Long:  `View task.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			t, err := psdk.GetTask(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, t)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long:  `List all tasks of the producer.`,
		Run: func(cmd *cobra.Command, _ []string) {
			p, err := psdk.ListTasks()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, p)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Task status",
		Long:  `View a task together with its assignment records and job balance.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := psdk.TaskStatus(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel task",
		Long:  `Cancel a task before its training deployment completes.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := psdk.CancelTask(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Task canceled")
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop task",
		Long:  `Stop a running task.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := psdk.StopTask(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Task stopped")
		},
	}

	issueCmd := &cobra.Command{
		Use:   "issue <id> <amount>",
		Short: "Issue job",
		Long:  `Create the payment job backing a task with an initial deposit.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := psdk.IssueJob(args[0], amount); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Job issued")
		},
	}

	depositCmd := &cobra.Command{
		Use:   "deposit <id> <amount>",
		Short: "Deposit funds",
		Long:  `Add funds to the payment job backing a task.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := psdk.Deposit(args[0], amount); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Deposit accepted")
		},
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor <id>",
		Short: "Monitor task",
		Long:  `Poll a task until it reaches a terminal state, printing status on each change.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			last := ""
			for {
				s, err := psdk.TaskStatus(args[0])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				key := s.Task.State + "/" + strconv.Itoa(s.Task.CurrentIteration) + "/" + strconv.FormatFloat(s.Task.Progress, 'f', 1, 64)
				if key != last {
					logJSONCmd(*cmd, s)
					last = key
				}

				switch s.Task.State {
				case "completed", "failed", "canceled":
					return
				}

				time.Sleep(monitorPeriod)
			}
		},
	}
	monitorCmd.Flags().DurationVar(&monitorPeriod, "period", 5*time.Second, "Poll period")

	cmd.AddCommand(addCmd, viewCmd, listCmd, statusCmd, cancelCmd, stopCmd, issueCmd, depositCmd, monitorCmd)

	return cmd
}
