package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"
)

var configFile string

func main() {
    rootCmd := &cobra.Command{
        Use:   "reservationd",
        Short: "Phone-number reservation engine",
        Long:  "Reserves rented phone numbers, correlates verification codes from chat groups, and bills completed reservations.",
    }

    rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")

    rootCmd.AddCommand(
        createServeCommand(),
        createMigrateCommand(),
        createReserveCommand(),
        createStatusCommand(),
        createNumbersCommand(),
        createCleanupCommand(),
    )

    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintf(os.Stderr, "Error: %v\n", err)
        os.Exit(1)
    }
}
