package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/makar21/core-sub000/cli"
	"github.com/makar21/core-sub000/pkg/sdk"
)

const (
	defProducerURL     = "http://localhost:7070"
	defTLSVerification = false
)

func main() {
	var producerURL string

	rootCmd := &cobra.Command{
		Use:   "core-cli",
		Short: "Training network CLI",
		Long:  `Command line interface for interacting with the training network producer.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				ProducerURL:     producerURL,
				TLSVerification: defTLSVerification,
			}
			cli.SetSDK(sdk.NewSDK(sdkConf))
		},
	}
	rootCmd.PersistentFlags().StringVar(&producerURL, "producer-url", defProducerURL, "Producer API URL")

	rootCmd.AddCommand(cli.NewTasksCmd())
	rootCmd.AddCommand(cli.NewDatasetsCmd())
	rootCmd.AddCommand(cli.NewModelsCmd())
	rootCmd.AddCommand(cli.NewProvisionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
