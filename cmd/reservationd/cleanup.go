package main

import (
    "fmt"

    "github.com/spf13/cobra"

    "github.com/hamzaKhattat/reservation-engine/internal/scheduler"
)

func createCleanupCommand() *cobra.Command {
    var disable bool

    cmd := &cobra.Command{
        Use:   "cleanup",
        Short: "Set the retention cleanup flag in this CLI process (a running server is not affected)",
        RunE: func(cmd *cobra.Command, args []string) error {
            scheduler.CleanupEnabled.Store(!disable)
            if disable {
                fmt.Println("retention cleanup disabled")
            } else {
                fmt.Println("retention cleanup enabled")
            }
            return nil
        },
    }

    cmd.Flags().BoolVar(&disable, "disable", false, "disable the retention cleanup job")
    return cmd
}
