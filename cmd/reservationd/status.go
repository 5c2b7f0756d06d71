package main

import (
    "context"
    "fmt"

    "github.com/spf13/cobra"
)

func createStatusCommand() *cobra.Command {
    var reservationID int64

    cmd := &cobra.Command{
        Use:   "status",
        Short: "Show a reservation's current status and remaining time",
        RunE: func(cmd *cobra.Command, args []string) error {
            svc, err := bootstrap()
            if err != nil {
                return err
            }

            st, err := svc.engine.Status(context.Background(), reservationID)
            if err != nil {
                return err
            }

            fmt.Printf("reservation #%d: %s\n", st.Reservation.ID, st.Reservation.Status)
            if st.RemainingTime > 0 {
                fmt.Printf("remaining: %s\n", st.RemainingTime.Round(1e9))
            }
            if st.Reservation.CodeValue != "" {
                fmt.Printf("code: %s\n", st.Reservation.CodeValue)
            }
            return nil
        },
    }

    cmd.Flags().Int64Var(&reservationID, "id", 0, "reservation id")
    cmd.MarkFlagRequired("id")
    return cmd
}
