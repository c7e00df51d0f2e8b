package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "motorent",
		Short:         "Motorcycle rental client: pricing, availability, live updates and bookings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("MOTORENT_CONFIG_PATH"), "path to config.yaml")

	rootCmd.AddCommand(
		QuoteCmd(),
		AvailabilityCmd(),
		TypesCmd(),
		WatchCmd(),
		BookCmd(),
		HistoryCmd(),
		ReceiptsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
