package cli

import (
	"github.com/spf13/cobra"
)

func NewDatasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets [add]",
		Short: "Datasets management",
		Long:  `Publish datasets to the object store and register them on the ledger.`,
	}

	var name string
	addCmd := &cobra.Command{
		Use:   "add <train-dir> [test-dir]",
		Short: "Add dataset",
		Long:  `Publish a dataset from producer-local train and optional test directories.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 || len(args) > 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			testDir := ""
			if len(args) == 2 {
				testDir = args[1]
			}

			d, err := psdk.CreateDataset(name, args[0], testDir)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, d)
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Dataset name")

	cmd.AddCommand(addCmd)

	return cmd
}

func NewModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models [add]",
		Short: "Models management",
		Long:  `Publish training code bundles and register them on the ledger.`,
	}

	var name string
	addCmd := &cobra.Command{
		Use:   "add <code-path>",
		Short: "Add model",
		Long:  `Publish a training model from a producer-local code path.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			m, err := psdk.CreateModel(name, args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, m)
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Model name")

	cmd.AddCommand(addCmd)

	return cmd
}
