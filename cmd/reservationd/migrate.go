package main

import (
    "fmt"

    "github.com/spf13/cobra"

    "github.com/hamzaKhattat/reservation-engine/internal/store"
)

func createMigrateCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "migrate",
        Short: "Apply pending database schema migrations",
        RunE: func(cmd *cobra.Command, args []string) error {
            svc, err := bootstrap()
            if err != nil {
                return err
            }
            if err := store.RunDatabaseMigrations(svc.db.DB); err != nil {
                return fmt.Errorf("migration failed: %w", err)
            }
            fmt.Println("migrations applied")
            return nil
        },
    }
}
