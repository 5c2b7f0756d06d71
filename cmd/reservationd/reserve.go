package main

import (
    "context"
    "fmt"

    "github.com/fatih/color"
    "github.com/spf13/cobra"
)

var (
    green = color.New(color.FgGreen).SprintFunc()
    red   = color.New(color.FgRed).SprintFunc()
)

func createReserveCommand() *cobra.Command {
    var (
        externalUserID string
        serviceID      int64
        countryCode    string
    )

    cmd := &cobra.Command{
        Use:   "reserve",
        Short: "Reserve a number for a user against a service and country",
        RunE: func(cmd *cobra.Command, args []string) error {
            svc, err := bootstrap()
            if err != nil {
                return err
            }
            ctx := context.Background()

            user, err := svc.queries.GetUserByExternalID(ctx, externalUserID)
            if err != nil {
                user, err = svc.queries.CreateUser(ctx, externalUserID)
                if err != nil {
                    return fmt.Errorf("failed to create user: %w", err)
                }
            }

            res, err := svc.engine.Reserve(ctx, user.ID, serviceID, countryCode)
            if err != nil {
                fmt.Printf("%s reservation failed: %v\n", red("✗"), err)
                return err
            }

            fmt.Printf("%s reservation #%d created, expires at %s\n", green("✓"), res.ID, res.ExpiredAt.Format("15:04:05"))
            return nil
        },
    }

    cmd.Flags().StringVar(&externalUserID, "user", "", "external user id")
    cmd.Flags().Int64Var(&serviceID, "service", 0, "service id")
    cmd.Flags().StringVar(&countryCode, "country", "", "country dialing code, e.g. +20")
    cmd.MarkFlagRequired("user")
    cmd.MarkFlagRequired("service")
    cmd.MarkFlagRequired("country")

    return cmd
}
