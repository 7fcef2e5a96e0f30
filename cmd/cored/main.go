package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/makar21/core-sub000/cored"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cored",
		Short: "Training network daemon",
		Long:  `Run training network role daemons with default settings.`,
	}

	rootCmd.AddCommand(cored.NewProducerCmd())
	rootCmd.AddCommand(cored.NewWorkerCmd())
	rootCmd.AddCommand(cored.NewVerifierCmd())
	rootCmd.AddCommand(cored.NewEstimatorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
